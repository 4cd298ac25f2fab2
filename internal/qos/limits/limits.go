// Package limits models the qos.* limit surface: the per-scope Limits
// aggregate, the most-restrictive fold used to collapse scopes into one
// effective value, and the cluster-wide Stats counters.
package limits

import "fmt"

// Unset is the sentinel value used on the wire (and internally) to mean
// "no bound configured for this field". It is never a legal bound.
const Unset = -1

// CmdKind tags the statement kinds the admission component tracks
// separately from plain transaction membership.
type CmdKind int8

const (
	CmdNone CmdKind = iota
	CmdSelect
	CmdUpdate
	CmdDelete
	CmdInsert
)

func (k CmdKind) String() string {
	switch k {
	case CmdNone:
		return "none"
	case CmdSelect:
		return "select"
	case CmdUpdate:
		return "update"
	case CmdDelete:
		return "delete"
	case CmdInsert:
		return "insert"
	default:
		return fmt.Sprintf("CmdKind(%d)", int8(k))
	}
}

// ErrorLevel selects how work_mem over-limit requests are handled.
type ErrorLevel int8

const (
	// ErrorLevelError rejects a SET work_mem that exceeds the configured
	// limit with a user-visible error.
	ErrorLevelError ErrorLevel = iota
	// ErrorLevelWarning logs a warning and counts the violation instead of
	// rejecting the statement; the requested work_mem is not lowered to
	// the limit.
	ErrorLevelWarning
)

func (l ErrorLevel) String() string {
	if l == ErrorLevelWarning {
		return "warning"
	}
	return "error"
}

// Limits is an aggregate of optional integer bounds. Every field uses Unset
// to mean "not configured at this scope". A Limits value is meaningful at
// three scopes (role-only, database-only, role-in-database) and as the
// single effective, most-restrictive fold of those scopes for a session.
type Limits struct {
	WorkMemBytes         int64
	CPUCoreLimit         int32
	MaxConcurrentTx      int32
	MaxConcurrentSelect  int32
	MaxConcurrentUpdate  int32
	MaxConcurrentDelete  int32
	MaxConcurrentInsert  int32
	WorkMemErrorLevel    ErrorLevel
	workMemErrorLevelSet bool
}

// Empty returns a Limits with every bound unset (Unset, not Go's zero
// value, which would mean a limit of 0), work_mem_error_level
// defaulting to "error" (but reported as unset by WorkMemErrorLevelSet).
func Empty() Limits {
	return Limits{
		WorkMemBytes:        Unset,
		CPUCoreLimit:        Unset,
		MaxConcurrentTx:     Unset,
		MaxConcurrentSelect: Unset,
		MaxConcurrentUpdate: Unset,
		MaxConcurrentDelete: Unset,
		MaxConcurrentInsert: Unset,
		WorkMemErrorLevel:   ErrorLevelError,
	}
}

// WorkMemErrorLevelSet reports whether work_mem_error_level was explicitly
// configured at this scope (as opposed to defaulting).
func (l Limits) WorkMemErrorLevelSet() bool { return l.workMemErrorLevelSet }

// MaxConcurrentFor returns the limit field for the given command kind. Only
// the four DML kinds are meaningful; CmdNone returns Unset.
func (l Limits) MaxConcurrentFor(kind CmdKind) int32 {
	switch kind {
	case CmdSelect:
		return l.MaxConcurrentSelect
	case CmdUpdate:
		return l.MaxConcurrentUpdate
	case CmdDelete:
		return l.MaxConcurrentDelete
	case CmdInsert:
		return l.MaxConcurrentInsert
	default:
		return Unset
	}
}

func foldInt64(a, b int64) int64 {
	switch {
	case a == Unset:
		return b
	case b == Unset:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func foldInt32(a, b int32) int32 {
	switch {
	case a == Unset:
		return b
	case b == Unset:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// Fold combines two Limits (role-scoped and database-scoped; a
// role-in-database row is layered on afterwards with Override, not Fold)
// using the most-restrictive rule: if both sides have a value for a field, take the
// smaller; otherwise take whichever is set; otherwise the field stays
// unset.
func Fold(a, b Limits) Limits {
	out := Limits{
		WorkMemBytes:        foldInt64(a.WorkMemBytes, b.WorkMemBytes),
		CPUCoreLimit:        foldInt32(a.CPUCoreLimit, b.CPUCoreLimit),
		MaxConcurrentTx:     foldInt32(a.MaxConcurrentTx, b.MaxConcurrentTx),
		MaxConcurrentSelect: foldInt32(a.MaxConcurrentSelect, b.MaxConcurrentSelect),
		MaxConcurrentUpdate: foldInt32(a.MaxConcurrentUpdate, b.MaxConcurrentUpdate),
		MaxConcurrentDelete: foldInt32(a.MaxConcurrentDelete, b.MaxConcurrentDelete),
		MaxConcurrentInsert: foldInt32(a.MaxConcurrentInsert, b.MaxConcurrentInsert),
	}
	switch {
	case b.workMemErrorLevelSet:
		out.WorkMemErrorLevel = b.WorkMemErrorLevel
		out.workMemErrorLevelSet = true
	case a.workMemErrorLevelSet:
		out.WorkMemErrorLevel = a.WorkMemErrorLevel
		out.workMemErrorLevelSet = true
	default:
		out.WorkMemErrorLevel = ErrorLevelError
	}
	return out
}

// Override layers override on top of base, field by field: wherever
// override has a value set, that value wins outright (not the
// most-restrictive of the two); wherever override is unset, base's value
// carries through. This is the rule SPEC_FULL.md §[FULL-4.2.1] specifies
// for a role-in-database row against the coarser role/database fold --
// deliberately distinct from Fold's most-restrictive merge, since an
// explicit per-(role, database) row is an administrator override, not
// another scope to be combined defensively.
func Override(base, override Limits) Limits {
	out := base
	if override.WorkMemBytes != Unset {
		out.WorkMemBytes = override.WorkMemBytes
	}
	if override.CPUCoreLimit != Unset {
		out.CPUCoreLimit = override.CPUCoreLimit
	}
	if override.MaxConcurrentTx != Unset {
		out.MaxConcurrentTx = override.MaxConcurrentTx
	}
	if override.MaxConcurrentSelect != Unset {
		out.MaxConcurrentSelect = override.MaxConcurrentSelect
	}
	if override.MaxConcurrentUpdate != Unset {
		out.MaxConcurrentUpdate = override.MaxConcurrentUpdate
	}
	if override.MaxConcurrentDelete != Unset {
		out.MaxConcurrentDelete = override.MaxConcurrentDelete
	}
	if override.MaxConcurrentInsert != Unset {
		out.MaxConcurrentInsert = override.MaxConcurrentInsert
	}
	if override.workMemErrorLevelSet {
		out.WorkMemErrorLevel = override.WorkMemErrorLevel
		out.workMemErrorLevelSet = true
	}
	return out
}

// Stats are cluster-wide monotone counters, reset only by qos_reset_stats.
type Stats struct {
	AdmittedQueries  uint64
	ThrottledQueries uint64
	RejectedQueries  uint64

	WorkMemViolations uint64
	CPUViolations     uint64
	TxViolations      uint64
	SelectViolations  uint64
	UpdateViolations  uint64
	DeleteViolations  uint64
	InsertViolations  uint64
}

// ViolationCounter returns a pointer to the per-kind concurrency violation
// counter within s, or nil for CmdNone (transaction violations are addressed
// directly via &s.TxViolations by the caller).
func (s *Stats) ViolationCounter(kind CmdKind) *uint64 {
	switch kind {
	case CmdSelect:
		return &s.SelectViolations
	case CmdUpdate:
		return &s.UpdateViolations
	case CmdDelete:
		return &s.DeleteViolations
	case CmdInsert:
		return &s.InsertViolations
	default:
		return nil
	}
}
