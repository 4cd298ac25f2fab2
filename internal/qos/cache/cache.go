// Package cache implements C4: the per-session effective-limit cache,
// keyed by (current role, current database, last-observed epoch), combined
// by the most-restrictive fold of §3/§4.4.
package cache

import (
	"github.com/appstonia/qosgov/internal/qos/catalog"
	"github.com/appstonia/qosgov/internal/qos/host"
	"github.com/appstonia/qosgov/internal/qos/limits"
	"github.com/appstonia/qosgov/internal/qos/shared"
	"golang.org/x/sync/singleflight"
)

// EpochSource is the part of the shared region the cache needs: just the
// current settings_epoch (§4.4 step 2). It is a narrow view of
// *shared.State so the cache doesn't need the rest of State's surface.
type EpochSource interface {
	SettingsEpoch() uint32
}

// Cache is the per-session SessionCache of §3: private to one session,
// never shared, never holding a pointer into shared.State.
//
// Per §9 ("per-session singletons ... per-thread storage suffices: the
// host guarantees one session per process/thread"), a Cache is meant to be
// owned by exactly one session/goroutine and is not safe for concurrent
// use from multiple goroutines representing the same session -- which
// matches the real target, where each session is a single OS process.
type Cache struct {
	reader *catalog.Reader
	epoch  EpochSource
	group  *singleflight.Group

	valid         bool
	cachedRole    host.ID
	cachedDB      host.ID
	lastSeenEpoch uint32
	limits        limits.Limits
}

// New constructs a Cache reading through reader, observing epoch changes
// via epoch. group may be nil, in which case refreshes are never
// deduplicated across sessions (see SPEC_FULL.md §[FULL-4.4.1]); passing a
// single shared group across all sessions in a process is how
// cmd/qosdemo's multi-session harness gets the deduplication benefit.
func New(reader *catalog.Reader, epoch EpochSource, group *singleflight.Group) *Cache {
	if group == nil {
		group = &singleflight.Group{}
	}
	return &Cache{reader: reader, epoch: epoch, group: group}
}

// Invalidate forces the next GetEffectiveLimits call to refresh,
// regardless of epoch or identity. This backs the unscoped
// relcache-invalidation hook for the settings catalog (§4.4, §6), which
// carries no (role, database) of its own to filter by.
func (c *Cache) Invalidate() {
	c.valid = false
}

// InvalidateForRole backs the host's "role-catalog changed" invalidation
// entry point (§4.4, §6): it forces a refresh only if this session's
// cached limits were actually derived from role, leaving an unrelated
// session's cache untouched.
func (c *Cache) InvalidateForRole(role host.ID) {
	if c.valid && c.cachedRole == role {
		c.valid = false
	}
}

// InvalidateForDatabase is InvalidateForRole's database-scoped twin,
// backing the host's "database-catalog changed" invalidation entry point.
func (c *Cache) InvalidateForDatabase(database host.ID) {
	if c.valid && c.cachedDB == database {
		c.valid = false
	}
}

// GetEffectiveLimits implements the refresh algorithm of §4.4 exactly:
//  1. read (current role, current database);
//  2. if the shared epoch differs from last-seen, invalidate and adopt it;
//  3. if still valid and identities match, return the cached value;
//  4. otherwise query the role and database scopes, fold them, apply any
//     role-in-database row with limits.Override, cache, and return.
//
// identity supplies the current (role, database); callers at a statement
// boundary (the only place catalog access is legal, per §4.4/§9) pass the
// host's live SessionIdentity.
func (c *Cache) GetEffectiveLimits(identity host.SessionIdentity) limits.Limits {
	role := identity.CurrentRole()
	db := identity.CurrentDatabase()

	currentEpoch := c.epoch.SettingsEpoch()
	if currentEpoch != c.lastSeenEpoch {
		c.valid = false
		c.lastSeenEpoch = currentEpoch
	}

	if c.valid && c.cachedRole == role && c.cachedDB == db {
		return c.limits
	}

	c.limits = c.refresh(role, db)
	c.cachedRole = role
	c.cachedDB = db
	c.valid = true
	return c.limits
}

// refresh performs the actual catalog reads and fold. It is wrapped in a
// singleflight.Group keyed by (role, database) so that many sessions
// refreshing the same pair concurrently collapse into one set of catalog
// scans (SPEC_FULL.md §[FULL-4.4.1]); the result is never shared into this
// Cache's private state across sessions, only the catalog I/O is shared.
func (c *Cache) refresh(role, db host.ID) limits.Limits {
	key := singleflightKey(role, db)
	v, _, _ := c.group.Do(key, func() (any, error) {
		roleLimits := c.reader.LimitsForRole(role)
		dbLimits := c.reader.LimitsForDatabase(db)
		folded := limits.Fold(roleLimits, dbLimits)

		// SPEC_FULL.md §[FULL-4.2.1]: an explicit role-in-database row, if
		// present, takes precedence per field over the two coarser scopes --
		// not another scope to fold most-restrictively, an override.
		overrideLimits := c.reader.LimitsForRoleInDatabase(role, db)
		folded = limits.Override(folded, overrideLimits)
		return folded, nil
	})
	return v.(limits.Limits)
}

func singleflightKey(role, db host.ID) string {
	// a fixed-width encoding avoids any ambiguity from separator collision
	// between role/db values; both are 32-bit so this is injective.
	return string([]byte{
		byte(role >> 24), byte(role >> 16), byte(role >> 8), byte(role),
		byte(db >> 24), byte(db >> 16), byte(db >> 8), byte(db),
	})
}

var _ EpochSource = (*shared.State)(nil)
