// Package admission implements C5: statement & transaction admission
// control, the scan-count-register algorithm of §4.5 run under the shared
// lock, and the abort-safety release path.
package admission

import (
	"github.com/appstonia/qosgov/internal/qos/host"
	"github.com/appstonia/qosgov/internal/qos/limits"
	"github.com/appstonia/qosgov/internal/qos/qoserr"
	"github.com/appstonia/qosgov/internal/qos/shared"
)

// Tracker is the per-backend admission handle: one per session, holding
// the identity this backend writes into its own shared.BackendStatus slot
// and the two "tracked" flags used by callers to decide whether
// EndStatement/EndTransaction are needed (e.g. from an abort handler).
//
// Per the open design note in §9, the tracked flags are bookkeeping for
// this Tracker's own caller, not a guard that skips the scan-and-write on
// a repeat Admit* call: pid is written unconditionally on every admission,
// matching the source behavior exactly, including its quirk that a second
// admit_statement with a different kind silently overwrites the slot's
// current_cmd without first releasing the previous one. This is
// intentional (one statement at a time per backend) and must not be
// "fixed" by adding a guard here.
type Tracker struct {
	state    *shared.State
	backend  shared.BackendID
	pid      uint64
	role     host.ID
	database host.ID

	txTracked   bool
	stmtTracked bool
}

// New constructs a Tracker for one backend slot. pid must be non-zero and
// stable for the life of the session (§3: "pid != 0 means occupied").
func New(state *shared.State, backend shared.BackendID, pid uint64, role, database host.ID) *Tracker {
	if pid == 0 {
		panic("qos: admission.New: pid must be non-zero")
	}
	return &Tracker{state: state, backend: backend, pid: pid, role: role, database: database}
}

// TransactionTracked reports whether this backend currently holds a
// transaction admission (for an abort handler deciding whether to call
// EndTransaction).
func (t *Tracker) TransactionTracked() bool { return t.txTracked }

// StatementTracked reports whether this backend currently holds a
// statement admission.
func (t *Tracker) StatementTracked() bool { return t.stmtTracked }

// AdmitTransaction implements admit_transaction() (§4.5).
func (t *Tracker) AdmitTransaction(limit int32) error {
	if limit == limits.Unset || limit <= 0 {
		t.state.WithLock(func(l *shared.Locked) {
			t.writeTransactionSlot(l)
		})
		t.txTracked = true
		return nil
	}

	var failure error
	t.state.WithLock(func(l *shared.Locked) {
		count := t.countOthers(l, limits.CmdNone, true)
		if int32(count) >= limit {
			l.IncrTxViolation()
			l.RecordAudit(shared.AuditEvent{RoleID: uint32(t.role), DatabaseID: uint32(t.database), Kind: limits.CmdNone, Current: int32(count), Max: limit})
			failure = &qoserr.LimitExceeded{Kind: limits.CmdNone, Current: int32(count), Max: limit}
			return
		}
		t.writeTransactionSlot(l)
	})
	if failure != nil {
		return failure
	}
	t.txTracked = true
	return nil
}

// AdmitStatement implements admit_statement(kind) (§4.5). kind must be one
// of the four DML kinds; CmdNone is meaningless here (use AdmitTransaction).
// AdmittedQueries counts statement admissions, not transaction admissions.
func (t *Tracker) AdmitStatement(kind limits.CmdKind, limit int32) error {
	if limit == limits.Unset || limit <= 0 {
		t.state.WithLock(func(l *shared.Locked) {
			t.writeStatementSlot(l, kind)
			l.IncrAdmitted()
		})
		t.stmtTracked = true
		return nil
	}

	var failure error
	t.state.WithLock(func(l *shared.Locked) {
		count := t.countOthers(l, kind, false)
		if int32(count) >= limit {
			counter := l.Stats().ViolationCounter(kind)
			l.IncrViolation(counter)
			l.RecordAudit(shared.AuditEvent{RoleID: uint32(t.role), DatabaseID: uint32(t.database), Kind: kind, Current: int32(count), Max: limit})
			failure = &qoserr.LimitExceeded{Kind: kind, Current: int32(count), Max: limit}
			return
		}
		t.writeStatementSlot(l, kind)
		l.IncrAdmitted()
	})
	if failure != nil {
		return failure
	}
	t.stmtTracked = true
	return nil
}

// EndTransaction implements the transaction-side release of §4.5's
// "Release" paragraph: under the lock, if this backend's slot still bears
// our pid (it may have been cleared by an abort handler acting first, or
// never have raced, concurrently clearing it -- see §3), clear
// in_transaction only. pid is never zeroed here; that happens only on
// process exit.
func (t *Tracker) EndTransaction() {
	t.state.WithLock(func(l *shared.Locked) {
		backends := l.Backends()
		cur := backends[t.backend]
		if cur.PID != t.pid {
			return
		}
		cur.InTransaction = false
		l.SetBackend(t.backend, cur)
	})
	t.txTracked = false
}

// EndStatement implements the statement-side release of §4.5's "Release"
// paragraph: clears current_cmd back to CmdNone, preserving every other
// field, without zeroing pid.
func (t *Tracker) EndStatement() {
	t.state.WithLock(func(l *shared.Locked) {
		backends := l.Backends()
		cur := backends[t.backend]
		if cur.PID != t.pid {
			return
		}
		cur.CurrentCmd = limits.CmdNone
		l.SetBackend(t.backend, cur)
	})
	t.stmtTracked = false
}

// countOthers implements step 3 of §4.5's admission algorithm: walk the
// backend array, counting slots that are occupied, belong to a different
// backend, share this session's (role, database), and are doing the same
// kind of work (in_transaction for a transaction count, current_cmd ==
// kind for a statement count).
func (t *Tracker) countOthers(l *shared.Locked, kind limits.CmdKind, forTransaction bool) int {
	count := 0
	for i, b := range l.Backends() {
		if shared.BackendID(i) == t.backend {
			continue
		}
		if b.PID == 0 {
			continue
		}
		if host.ID(b.RoleID) != t.role || host.ID(b.DatabaseID) != t.database {
			continue
		}
		if forTransaction {
			if b.InTransaction {
				count++
			}
			continue
		}
		if b.CurrentCmd == kind {
			count++
		}
	}
	return count
}

func (t *Tracker) writeTransactionSlot(l *shared.Locked) {
	backends := l.Backends()
	cur := backends[t.backend]
	cur.PID = t.pid
	cur.RoleID = uint32(t.role)
	cur.DatabaseID = uint32(t.database)
	cur.InTransaction = true
	l.SetBackend(t.backend, cur)
}

func (t *Tracker) writeStatementSlot(l *shared.Locked, kind limits.CmdKind) {
	backends := l.Backends()
	cur := backends[t.backend]
	cur.PID = t.pid
	cur.RoleID = uint32(t.role)
	cur.DatabaseID = uint32(t.database)
	cur.CurrentCmd = kind
	l.SetBackend(t.backend, cur)
}
