package shared

import "github.com/appstonia/qosgov/internal/qos/limits"

// AuditEvent is one record in the bounded diagnostic trail described in
// SPEC_FULL.md §[FULL-3.1]: a rejection, with enough context to answer
// "who got throttled, and for what" without diffing counters.
type AuditEvent struct {
	RoleID     uint32
	DatabaseID uint32
	Kind       limits.CmdKind // CmdNone for a transaction-limit rejection
	Current    int32
	Max        int32
	WorkMem    bool // true if this was a work_mem rejection, not a concurrency one
}

// auditLog is a small fixed-capacity ring buffer of AuditEvent, adapted
// from catrate's ringBuffer[E] (catrate/ring.go): same array-backed,
// wrap-around-index discipline, generalized from int64 timestamps to a
// small struct and specialized to "always insert at the end, evict the
// oldest when full" since, unlike catrate's sorted-insert ring, audit
// events always arrive in time order.
type auditLog struct {
	entries []AuditEvent
	next    int // next write position
	full    bool
}

func newAuditLog(capacity int) auditLog {
	return auditLog{entries: make([]AuditEvent, capacity)}
}

func (a *auditLog) record(ev AuditEvent) {
	if len(a.entries) == 0 {
		return
	}
	a.entries[a.next] = ev
	a.next = (a.next + 1) % len(a.entries)
	if a.next == 0 {
		a.full = true
	}
}

// snapshot returns the recorded events, oldest first.
func (a *auditLog) snapshot() []AuditEvent {
	if !a.full {
		out := make([]AuditEvent, a.next)
		copy(out, a.entries[:a.next])
		return out
	}
	out := make([]AuditEvent, len(a.entries))
	n := copy(out, a.entries[a.next:])
	copy(out[n:], a.entries[:a.next])
	return out
}
