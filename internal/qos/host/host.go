// Package host defines the Go surface standing in for "the interfaces the
// host database exposes" (spec §1, §6): the catalog, the session identity,
// the plan tree, and the utility statement shape. The real parser, planner,
// executor, catalog, shared-memory allocator, and invalidation/transaction
// buses are out of scope (§1) -- this package only names the narrow slice
// of each that the governor actually consumes, so the core can be built
// and tested without a real database process behind it.
package host

// ID is an opaque catalog identity (a role OID or a database OID, in host
// terms). Zero is reserved to mean "no role"/"no database" (the "none"
// scope filter of §4.2, and AffinityEntry's empty-slot marker of §3).
type ID uint32

// NoID is the sentinel "none" identity used both for the role-only /
// database-only catalog scopes (§4.2) and for an empty AffinityEntry slot
// (§3).
const NoID ID = 0

// ConfigRow is one row of the host's (setdatabase, setrole) -> config[]
// catalog (§4.2, §6): a text array of "name=value" entries, scoped to a
// specific database/role pair (NoID meaning "no scope restriction on this
// axis").
type ConfigRow struct {
	Database ID
	Role     ID
	Entries  []string
}

// CatalogReader is the minimal read surface C2 needs from the host's
// setting catalog. Each method corresponds to one of the three scoped
// queries in §4.2 and must acquire only the minimum read lock the host
// needs to traverse the catalog, read at most one row, and release it --
// that locking discipline is the host's responsibility; this interface
// only describes the shape of the result.
type CatalogReader interface {
	// RoleRow returns the role-only scoped row (setdatabase = none,
	// setrole = role), or ok=false if no such row exists.
	RoleRow(role ID) (row ConfigRow, ok bool)
	// DatabaseRow returns the database-only scoped row (setdatabase =
	// database, setrole = none), or ok=false if no such row exists.
	DatabaseRow(database ID) (row ConfigRow, ok bool)
	// RoleInDatabaseRow returns the role-in-database scoped row
	// (setdatabase = database, setrole = role), or ok=false if no such row
	// exists. See SPEC_FULL.md §[FULL-4.2.1].
	RoleInDatabaseRow(role, database ID) (row ConfigRow, ok bool)
}

// SessionIdentity reports the current session's authenticated role and
// connected database, as the host tracks them (§3, SessionCache).
type SessionIdentity interface {
	CurrentRole() ID
	CurrentDatabase() ID
}

// PlanNodeKind tags the plan node shapes the rewriter (C6) cares about.
// Every other node kind is opaque to this package; the rewriter only acts
// on the two parallel kinds and otherwise just recurses.
type PlanNodeKind int8

const (
	PlanNodeOther PlanNodeKind = iota
	PlanNodeGather
	PlanNodeGatherMerge
)

// PlanNode is the minimal shape C6 needs from a host plan tree node: a kind
// tag, a mutable worker count, and two child pointers (matching the host's
// binary plan tree; a nil child means "no child here").
type PlanNode interface {
	Kind() PlanNodeKind
	NumWorkers() int
	SetNumWorkers(n int)
	Left() PlanNode
	Right() PlanNode
}

// PlanTree is the root of a planned statement, plus the subplans the host
// plans out-of-line (initplans, CTEs) that §4.6 requires the rewriter to
// also walk.
type PlanTree interface {
	Root() PlanNode
	Subplans() []PlanTree
}

// UtilityKind tags the statement shapes the utility hook (C8) must
// recognize.
type UtilityKind int8

const (
	UtilityOther UtilityKind = iota
	UtilitySetWorkMem
	UtilitySetQoS
	UtilityAlterRoleSet
	UtilityAlterDatabaseSet
	UtilityExplain
	UtilityPrepare
)

// UtilityStatement is the shape C8 needs from a utility-dispatch
// statement: which of the recognized shapes it is, the setting name/value
// when it is a SET or ALTER ... SET, and whether an EXPLAIN carries
// ANALYZE (which makes it execute for real, per §4.5's suppression rule).
type UtilityStatement struct {
	Kind UtilityKind

	// Name/Value are populated for UtilitySetWorkMem, UtilitySetQoS,
	// UtilityAlterRoleSet, and UtilityAlterDatabaseSet. For the ALTER
	// variants, Name == "RESET ALL" is a valid sentinel meaning "reset
	// every qos.* setting at this scope", per §4.8.
	Name  string
	Value string

	// Role/Database identify the target of ALTER ROLE .. SET / ALTER
	// DATABASE .. SET.
	Role     ID
	Database ID

	// Analyze is set for UtilityExplain when the statement carries
	// ANALYZE (and therefore executes for real).
	Analyze bool
}

// CatalogWriter is the host operation that actually persists an ALTER
// ROLE/DATABASE SET qos.* statement (§2: "delegate to host to persist").
// Only on success does the hook glue bump settings_epoch.
type CatalogWriter interface {
	PersistSet(stmt UtilityStatement) error
}

// InvalidationSink is the per-session surface the host registers its
// catalog-invalidation callbacks against (§4.4: "two invalidation entry
// points to be registered with the host"; §6's hook-point list:
// catalog-invalidation-for-role, catalog-invalidation-for-database,
// relcache-invalidation for the settings catalog). This is a distinct
// mechanism from the settings_epoch bump C8 performs on a successful
// ALTER ... SET qos.* -- the epoch path covers this process's own
// sessions observing their own writes, while these entry points are how
// the host notifies a session of a change made by someone else.
type InvalidationSink interface {
	CatalogInvalidationForRole(role ID)
	CatalogInvalidationForDatabase(database ID)
	RelcacheInvalidation()
}
