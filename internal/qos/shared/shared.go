// Package shared implements C3: the single cluster-wide shared region
// (stats counters, settings epoch, per-backend status array, and the
// affinity table), guarded by exactly one exclusive lock (§3, §5).
//
// The real host allocates this region once in shared memory, sized after
// MaxBackends is known, and destroys it at host shutdown (§4.3). In this
// Go implementation the region is an ordinary heap-allocated struct behind
// a sync.Mutex; State plays the role of the process-lifetime handle
// created during host-startup hooks and never freed (§9).
package shared

import (
	"sync"

	"github.com/appstonia/qosgov/internal/qos/affinitytable"
	"github.com/appstonia/qosgov/internal/qos/limits"
)

// BackendID is the host's stable backend index (§3): one slot per
// potential session, assigned by the host and stable for the life of the
// connection.
type BackendID int

// BackendStatus is one slot of the per-backend status array (§3). It is
// exclusively mutated by its owning backend while holding State's lock,
// and read by any backend performing an admission scan.
type BackendStatus struct {
	// PID is non-zero when the slot is occupied. It is the host's process
	// id for the backend, not a Go pid -- in this implementation it is
	// whatever opaque, non-zero identifier the session assigns itself (see
	// admission.Tracker), matching the spec's "pid != 0 means occupied"
	// contract without requiring an actual OS process per session.
	PID           uint64
	RoleID        uint32
	DatabaseID    uint32
	CurrentCmd    limits.CmdKind
	InTransaction bool
}

// empty reports whether the slot is unoccupied (§3: "pid == 0" means
// empty, "any reuse must first observe pid == 0").
func (b BackendStatus) empty() bool { return b.PID == 0 }

// State is the single logical shared region described by §3: Stats,
// settings_epoch, next_cpu_core, max_backends, the affinity table, and the
// backend status array, all behind one mutex. The AuditLog described in
// SPEC_FULL.md §[FULL-3.1] lives here too, under the same lock, since it is
// diagnostic-only and never consulted to make an admission decision.
type State struct {
	mu sync.Mutex

	stats         limits.Stats
	settingsEpoch uint32
	nextCPUCore   uint32
	backends      []BackendStatus
	affinity      affinitytable.Table
	audit         auditLog
}

// New allocates a State sized for maxBackends backend slots (§4.3: "Size is
// sizeof(header) + MaxBackends * sizeof(BackendStatus)"). It panics if
// maxBackends is non-positive, mirroring the host's own invariant that
// MaxBackends is known and positive before shared memory is requested.
func New(maxBackends int) *State {
	if maxBackends <= 0 {
		panic("qos: shared.New: maxBackends must be positive")
	}
	return &State{
		backends: make([]BackendStatus, maxBackends),
		audit:    newAuditLog(64),
	}
}

// MaxBackends returns the fixed size of the backend status array.
func (s *State) MaxBackends() int {
	// immutable after New, safe to read without the lock
	return len(s.backends)
}

// SettingsEpoch returns the current settings epoch (§3, §4.4).
func (s *State) SettingsEpoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsEpoch
}

// BumpSettingsEpoch increments settings_epoch under the lock (§2: "on
// success, bump settings_epoch"; §4.8; §5: "monotonic and bumped only
// under the lock"). It returns the new epoch.
func (s *State) BumpSettingsEpoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settingsEpoch++
	return s.settingsEpoch
}

// Stats returns a copy of the current Stats counters (§6: qos_get_stats).
func (s *State) Stats() limits.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ResetStats zeros the entire Stats struct under the lock (§6:
// qos_reset_stats). The AuditLog is untouched -- see
// SPEC_FULL.md §[FULL-8.1].
func (s *State) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = limits.Stats{}
}

// AuditSnapshot returns the audit log entries recorded so far, oldest
// first, for operator diagnostics (SPEC_FULL.md §[FULL-3.1]).
func (s *State) AuditSnapshot() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.snapshot()
}

// WithLock runs fn with the shared lock held exclusively, giving callers in
// this module (admission, affinity) access to the backend array, the
// affinity table, and the stats counters within a single critical section,
// as §4.5/§4.7/§5 require. Callers MUST NOT retain any slice or pointer
// obtained via s after fn returns (§4.3: "Readers MUST NOT retain pointers
// into the region after releasing the lock").
func (s *State) WithLock(fn func(l *Locked)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Locked{s: s})
}

// Locked exposes the shared region's mutable surface to a callback running
// under State's lock. It exists so admission and affinity can share one
// critical section (scan the backend array, then write it; or read the
// affinity table, then remember an empty slot) without this package
// needing to know their algorithms.
type Locked struct{ s *State }

// Backends returns the live backend status slice. It is only valid for the
// duration of the enclosing WithLock callback.
func (l *Locked) Backends() []BackendStatus { return l.s.backends }

// SetBackend overwrites slot i in place.
func (l *Locked) SetBackend(i BackendID, status BackendStatus) { l.s.backends[int(i)] = status }

// ClearBackend zeroes slot i entirely (process-exit path, §3).
func (l *Locked) ClearBackend(i BackendID) { l.s.backends[int(i)] = BackendStatus{} }

// IncrViolation increments one of the per-kind violation counters plus
// RejectedQueries, atomically with the scan that detected the violation
// (§4.5 step 4).
func (l *Locked) IncrViolation(counter *uint64) {
	*counter++
	l.s.stats.RejectedQueries++
}

// IncrTxViolation is the CmdNone analogue of IncrViolation, for transaction
// admission (§4.5, symmetric case).
func (l *Locked) IncrTxViolation() {
	l.s.stats.TxViolations++
	l.s.stats.RejectedQueries++
}

// IncrAdmitted increments AdmittedQueries (successful admission).
func (l *Locked) IncrAdmitted() { l.s.stats.AdmittedQueries++ }

// IncrWorkMemViolation increments the work-mem violation counter (§4.8,
// §7: WorkMemExceeded).
func (l *Locked) IncrWorkMemViolation() { l.s.stats.WorkMemViolations++ }

// IncrCPUViolation increments the CPU violation counter (reserved for a
// host that surfaces a hard CPU-limit breach; the rewriter itself only
// clamps, see §4.6, but the counter is part of Stats per §3).
func (l *Locked) IncrCPUViolation() { l.s.stats.CPUViolations++ }

// RecordAudit appends an entry to the bounded audit trail (§[FULL-3.1]).
func (l *Locked) RecordAudit(ev AuditEvent) { l.s.audit.record(ev) }

// Stats returns a pointer to the live Stats struct for read or (via the
// Incr* helpers) write access within the critical section.
func (l *Locked) Stats() *limits.Stats { return &l.s.stats }

// AffinityTable exposes the affinity entries table for C7's
// get_or_assign_cores critical sections.
func (l *Locked) AffinityTable() *affinitytable.Table { return &l.s.affinity }

// NextCPUCore returns and advances the round-robin cursor by requested, wrapping at
// total (§4.7's round-robin fallback: "start = next_cpu_core; advance
// next_cpu_core = (start + requested) mod T").
func (l *Locked) NextCPUCore(requested, total int) (start int) {
	start = int(l.s.nextCPUCore)
	if total > 0 {
		l.s.nextCPUCore = uint32((start + requested) % total)
	}
	return start
}
