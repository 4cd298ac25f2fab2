package hooks

import (
	"errors"
	"testing"
	"time"

	"github.com/appstonia/qosgov/internal/qos/admission"
	"github.com/appstonia/qosgov/internal/qos/affinity"
	"github.com/appstonia/qosgov/internal/qos/cache"
	"github.com/appstonia/qosgov/internal/qos/catalog"
	"github.com/appstonia/qosgov/internal/qos/host"
	"github.com/appstonia/qosgov/internal/qos/limits"
	"github.com/appstonia/qosgov/internal/qos/qoserr"
	"github.com/appstonia/qosgov/internal/qos/shared"
	"github.com/rs/zerolog"
)

type fakeCatalog struct {
	roleRows map[host.ID]host.ConfigRow
}

func (f *fakeCatalog) RoleRow(role host.ID) (host.ConfigRow, bool) { row, ok := f.roleRows[role]; return row, ok }
func (f *fakeCatalog) DatabaseRow(host.ID) (host.ConfigRow, bool)  { return host.ConfigRow{}, false }
func (f *fakeCatalog) RoleInDatabaseRow(host.ID, host.ID) (host.ConfigRow, bool) {
	return host.ConfigRow{}, false
}

type fakeCatalogWriter struct {
	persisted []host.UtilityStatement
	failWith  error
}

func (f *fakeCatalogWriter) PersistSet(stmt host.UtilityStatement) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.persisted = append(f.persisted, stmt)
	return nil
}

type fakeIdentity struct{ role, db host.ID }

func (f fakeIdentity) CurrentRole() host.ID     { return f.role }
func (f fakeIdentity) CurrentDatabase() host.ID { return f.db }

type fakePlatform struct{}

func (fakePlatform) OnlineCPUCount() (int, bool)                        { return 0, false }
func (fakePlatform) SampleCycles([]int, time.Duration) ([]uint64, bool) { return nil, false }
func (fakePlatform) Apply([]int) error                                  { return nil }

type fakeNode struct {
	kind       host.PlanNodeKind
	numWorkers int
}

func (n *fakeNode) Kind() host.PlanNodeKind { return n.kind }
func (n *fakeNode) NumWorkers() int         { return n.numWorkers }
func (n *fakeNode) SetNumWorkers(w int)     { n.numWorkers = w }
func (n *fakeNode) Left() host.PlanNode     { return nil }
func (n *fakeNode) Right() host.PlanNode    { return nil }

type fakeTree struct{ root *fakeNode }

func (t *fakeTree) Root() host.PlanNode       { return t.root }
func (t *fakeTree) Subplans() []host.PlanTree { return nil }

func newTestSession(t *testing.T, cat *fakeCatalog, writer host.CatalogWriter) (*Session, *shared.State) {
	t.Helper()
	state := shared.New(4)
	reader := catalog.NewReader(cat, zerolog.Nop())
	c := cache.New(reader, state, nil)
	tracker := admission.New(state, 0, 1, host.ID(1), host.ID(2))
	aff := affinity.New(state, fakePlatform{}, zerolog.Nop())
	enabled := NewEnabled()
	return NewSession(state, enabled, c, tracker, aff, writer, zerolog.Nop()), state
}

func TestUtilityHookRejectsOversizedWorkMemByDefault(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.work_mem_limit=1MB"}}}}
	s, _ := newTestSession(t, cat, nil)

	effective := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	err := s.UtilityHook(host.UtilityStatement{Kind: host.UtilitySetWorkMem, Value: "4MB"}, effective)

	var wme *qoserr.WorkMemExceeded
	if !errors.As(err, &wme) {
		t.Fatalf("expected WorkMemExceeded, got %v", err)
	}
}

func TestUtilityHookAllowsWorkMemUnderWarningLevel(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{
		1: {Entries: []string{"qos.work_mem_limit=1MB", "qos.work_mem_error_level=warning"}},
	}}
	s, state := newTestSession(t, cat, nil)

	effective := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	err := s.UtilityHook(host.UtilityStatement{Kind: host.UtilitySetWorkMem, Value: "4MB"}, effective)
	if err != nil {
		t.Fatalf("warning level should not error: %v", err)
	}
	if state.Stats().WorkMemViolations != 1 {
		t.Errorf("expected WorkMemViolations == 1, got %d", state.Stats().WorkMemViolations)
	}
}

func TestUtilityHookBumpsEpochOnAlterRoleSet(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{}}
	writer := &fakeCatalogWriter{}
	s, state := newTestSession(t, cat, writer)

	stmt := host.UtilityStatement{Kind: host.UtilityAlterRoleSet, Name: "qos.max_concurrent_select", Value: "5", Role: 1}
	if err := s.UtilityHook(stmt, limits.Empty()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.SettingsEpoch() != 1 {
		t.Errorf("SettingsEpoch() = %d, want 1", state.SettingsEpoch())
	}
	if len(writer.persisted) != 1 {
		t.Errorf("expected PersistSet to be called once, got %d", len(writer.persisted))
	}
}

func TestUtilityHookIgnoresAlterSetForNonQoSName(t *testing.T) {
	cat := &fakeCatalog{}
	writer := &fakeCatalogWriter{}
	s, state := newTestSession(t, cat, writer)

	stmt := host.UtilityStatement{Kind: host.UtilityAlterRoleSet, Name: "search_path", Value: "public"}
	if err := s.UtilityHook(stmt, limits.Empty()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.SettingsEpoch() != 0 {
		t.Error("epoch should not bump for a non-qos.* ALTER ... SET")
	}
	if len(writer.persisted) != 0 {
		t.Error("PersistSet should not be called for a non-qos.* ALTER ... SET")
	}
}

func TestUtilityHookSuppressesAdmissionForExplainWithoutAnalyze(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.max_concurrent_select=0"}}}}
	s, _ := newTestSession(t, cat, nil)

	if err := s.UtilityHook(host.UtilityStatement{Kind: host.UtilityExplain, Analyze: false}, limits.Empty()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tree := &fakeTree{root: &fakeNode{kind: host.PlanNodeGather, numWorkers: 4}}
	_, err := s.PlannerHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, func() host.PlanTree { return tree })
	if err != nil {
		t.Fatalf("admission should be suppressed, got error: %v", err)
	}
	if s.Tracker.StatementTracked() {
		t.Error("admission should have been suppressed for EXPLAIN without ANALYZE")
	}
}

func TestPlannerHookAdmitsAndRewritesPlan(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.cpu_core_limit=3"}}}}
	s, _ := newTestSession(t, cat, nil)

	tree := &fakeTree{root: &fakeNode{kind: host.PlanNodeGather, numWorkers: 8}}
	got, err := s.PlannerHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, func() host.PlanTree { return tree })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Root().NumWorkers() != 2 {
		t.Errorf("NumWorkers() = %d, want 2 (W = cpu_core_limit-1)", got.Root().NumWorkers())
	}
	if !s.Tracker.StatementTracked() {
		t.Error("expected statement to be tracked after PlannerHook")
	}
}

func TestExecutorStartHookAdmitsAsSafetyNetWhenPlannerHookSkipped(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.max_concurrent_select=1"}}}}
	s, _ := newTestSession(t, cat, nil)

	// No PlannerHook call here -- this simulates EXECUTE of an
	// already-planned prepared statement (§4.8).
	effective := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	if err := s.ExecutorStartHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, effective); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Tracker.TransactionTracked() || !s.Tracker.StatementTracked() {
		t.Error("expected ExecutorStartHook to admit both transaction and statement when PlannerHook never ran")
	}
}

func TestExecutorStartHookDoesNotDoubleAdmitAfterPlannerHook(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.max_concurrent_select=1"}}}}
	s, state := newTestSession(t, cat, nil)

	tree := &fakeTree{root: &fakeNode{kind: host.PlanNodeOther}}
	if _, err := s.PlannerHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, func() host.PlanTree { return tree }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	effective := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	if err := s.ExecutorStartHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, effective); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Stats().AdmittedQueries != 1 {
		t.Errorf("AdmittedQueries = %d, want 1 (ExecutorStartHook must not re-admit an already-tracked statement)", state.Stats().AdmittedQueries)
	}
}

func TestCatalogInvalidationHooksForceRefreshScopedToMatch(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.max_concurrent_select=1"}}}}
	s, _ := newTestSession(t, cat, nil)

	first := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	if first.MaxConcurrentSelect != 1 {
		t.Fatalf("precondition: expected cached limit 1, got %d", first.MaxConcurrentSelect)
	}

	// An invalidation for an unrelated role must not force a refresh.
	s.CatalogInvalidationForRole(99)
	cat.roleRows[1] = host.ConfigRow{Entries: []string{"qos.max_concurrent_select=5"}}
	stale := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	if stale.MaxConcurrentSelect != 1 {
		t.Errorf("unrelated role invalidation should not have forced a refresh, got %d", stale.MaxConcurrentSelect)
	}

	// The matching role invalidation must force the next read to refresh.
	s.CatalogInvalidationForRole(1)
	fresh := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	if fresh.MaxConcurrentSelect != 5 {
		t.Errorf("matching role invalidation should have forced a refresh, got %d", fresh.MaxConcurrentSelect)
	}
}

func TestRelcacheInvalidationForcesRefreshRegardlessOfScope(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.max_concurrent_select=1"}}}}
	s, _ := newTestSession(t, cat, nil)

	s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	cat.roleRows[1] = host.ConfigRow{Entries: []string{"qos.max_concurrent_select=7"}}
	s.RelcacheInvalidation()

	got := s.Cache.GetEffectiveLimits(fakeIdentity{role: 1, db: 2})
	if got.MaxConcurrentSelect != 7 {
		t.Errorf("relcache invalidation should have forced a refresh, got %d", got.MaxConcurrentSelect)
	}
}

func TestExecutorEndHookReleasesTracking(t *testing.T) {
	cat := &fakeCatalog{}
	s, _ := newTestSession(t, cat, nil)

	tree := &fakeTree{root: &fakeNode{kind: host.PlanNodeOther}}
	if _, err := s.PlannerHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, func() host.PlanTree { return tree }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.ExecutorEndHook()
	if s.Tracker.StatementTracked() || s.Tracker.TransactionTracked() {
		t.Error("expected both tracked flags cleared after ExecutorEndHook")
	}
}

func TestTransactionEventHookReleasesOnAbort(t *testing.T) {
	cat := &fakeCatalog{}
	s, _ := newTestSession(t, cat, nil)

	tree := &fakeTree{root: &fakeNode{kind: host.PlanNodeOther}}
	if _, err := s.PlannerHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, func() host.PlanTree { return tree }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.TransactionEventHook(EventAbort)
	if s.Tracker.StatementTracked() || s.Tracker.TransactionTracked() {
		t.Error("expected abort to release both trackers")
	}
}

func TestDisabledFlagSuppressesEverything(t *testing.T) {
	cat := &fakeCatalog{roleRows: map[host.ID]host.ConfigRow{1: {Entries: []string{"qos.max_concurrent_select=0"}}}}
	s, _ := newTestSession(t, cat, nil)
	s.Enabled.SetEnabled(false)

	if err := s.UtilityHook(host.UtilityStatement{Kind: host.UtilitySetWorkMem, Value: "999GB"}, limits.Empty()); err != nil {
		t.Fatalf("disabled governor must no-op: %v", err)
	}

	tree := &fakeTree{root: &fakeNode{kind: host.PlanNodeGather, numWorkers: 8}}
	got, err := s.PlannerHook(fakeIdentity{role: 1, db: 2}, limits.CmdSelect, func() host.PlanTree { return tree })
	if err != nil {
		t.Fatalf("disabled governor must not reject: %v", err)
	}
	if got.Root().NumWorkers() != 8 {
		t.Error("disabled governor must not rewrite the plan")
	}
}
