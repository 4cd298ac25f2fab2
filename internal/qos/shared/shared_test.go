package shared

import (
	"sync"
	"testing"

	"github.com/appstonia/qosgov/internal/qos/limits"
)

func TestNewPanicsOnNonPositiveMaxBackends(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for maxBackends <= 0")
		}
	}()
	New(0)
}

func TestBumpSettingsEpochMonotonic(t *testing.T) {
	s := New(4)
	if s.SettingsEpoch() != 0 {
		t.Fatalf("initial epoch = %d, want 0", s.SettingsEpoch())
	}
	if got := s.BumpSettingsEpoch(); got != 1 {
		t.Errorf("first bump = %d, want 1", got)
	}
	if got := s.BumpSettingsEpoch(); got != 2 {
		t.Errorf("second bump = %d, want 2", got)
	}
}

func TestResetStatsLeavesAuditAlone(t *testing.T) {
	s := New(4)
	s.WithLock(func(l *Locked) {
		l.IncrAdmitted()
		l.RecordAudit(AuditEvent{RoleID: 1, Kind: limits.CmdSelect, Current: 2, Max: 2})
	})
	if s.Stats().AdmittedQueries != 1 {
		t.Fatal("expected AdmittedQueries == 1 before reset")
	}
	s.ResetStats()
	if s.Stats().AdmittedQueries != 0 {
		t.Error("expected Stats to be zeroed after reset")
	}
	if len(s.AuditSnapshot()) != 1 {
		t.Error("expected audit trail to survive a stats reset")
	}
}

func TestBackendSlotLifecycle(t *testing.T) {
	s := New(2)
	s.WithLock(func(l *Locked) {
		l.SetBackend(0, BackendStatus{PID: 1, RoleID: 7, DatabaseID: 8, InTransaction: true})
	})
	s.WithLock(func(l *Locked) {
		backends := l.Backends()
		if backends[0].PID != 1 || !backends[0].InTransaction {
			t.Errorf("unexpected backend[0]: %+v", backends[0])
		}
		if !backends[1].empty() {
			t.Errorf("expected backend[1] to be empty")
		}
	})
	s.WithLock(func(l *Locked) {
		l.ClearBackend(0)
	})
	s.WithLock(func(l *Locked) {
		if !l.Backends()[0].empty() {
			t.Error("expected backend[0] to be cleared")
		}
	})
}

func TestNextCPUCoreWrapsAround(t *testing.T) {
	s := New(1)
	var got []int
	s.WithLock(func(l *Locked) {
		got = append(got, l.NextCPUCore(2, 4))
		got = append(got, l.NextCPUCore(2, 4))
		got = append(got, l.NextCPUCore(2, 4))
	})
	if got[0] != 0 || got[1] != 2 || got[2] != 0 {
		t.Errorf("round robin sequence = %v, want [0 2 0]", got)
	}
}

// TestConcurrentWithLockSerializes is a light smoke test that concurrent
// critical sections don't race (the race detector, run via `go test -race`,
// is the real assertion here; this just exercises concurrent access).
func TestConcurrentWithLockSerializes(t *testing.T) {
	s := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.WithLock(func(l *Locked) {
				l.IncrAdmitted()
			})
		}(i)
	}
	wg.Wait()
	if s.Stats().AdmittedQueries != 50 {
		t.Errorf("AdmittedQueries = %d, want 50", s.Stats().AdmittedQueries)
	}
}
