// Package hooks implements C8: the glue that wires the cache, admission,
// planner, and affinity components to the host's hook points (§4.8), plus
// the global qos.enabled kill switch (§6).
package hooks

import (
	"errors"
	"strings"

	"github.com/appstonia/qosgov/internal/qos/admission"
	"github.com/appstonia/qosgov/internal/qos/affinity"
	"github.com/appstonia/qosgov/internal/qos/cache"
	"github.com/appstonia/qosgov/internal/qos/host"
	"github.com/appstonia/qosgov/internal/qos/limits"
	"github.com/appstonia/qosgov/internal/qos/planner"
	"github.com/appstonia/qosgov/internal/qos/qoserr"
	"github.com/appstonia/qosgov/internal/qos/shared"
	"github.com/rs/zerolog"
)

// Enabled is the global, host-managed qos.enabled flag (§6: "When false,
// every public operation in §4.5-§4.8 returns immediately without
// effect"). It is a plain bool rather than an atomic.Bool because every
// read here happens from the single backend process's own goroutine at a
// statement boundary, never concurrently with a writer.
type Enabled struct {
	on bool
}

// NewEnabled constructs the flag, defaulting to on (the host publishes its
// actual configured value at startup via SetEnabled).
func NewEnabled() *Enabled {
	return &Enabled{on: true}
}

// SetEnabled updates the flag.
func (e *Enabled) SetEnabled(on bool) { e.on = on }

// IsEnabled reports the current value.
func (e *Enabled) IsEnabled() bool { return e.on }

// Session bundles everything C8 needs per backend: the effective-limit
// cache, the admission tracker, the affinity assigner, and the per-call
// "suppress admission" flag set by the utility hook for EXPLAIN/PREPARE
// (§4.5's suppression rule).
type Session struct {
	State    *shared.State
	Enabled  *Enabled
	Cache    *cache.Cache
	Tracker  *admission.Tracker
	Affinity *affinity.Assigner
	Catalog  host.CatalogWriter
	Log      zerolog.Logger

	suppressAdmission bool
}

// NewSession constructs a Session from its already-built components.
func NewSession(state *shared.State, enabled *Enabled, c *cache.Cache, tracker *admission.Tracker, aff *affinity.Assigner, catalogWriter host.CatalogWriter, log zerolog.Logger) *Session {
	return &Session{State: state, Enabled: enabled, Cache: c, Tracker: tracker, Affinity: aff, Catalog: catalogWriter, Log: log}
}

// UtilityHook implements §4.8's utility hook, run before the host's
// utility dispatch. effective is the session's currently cached limits
// (read fresh by the caller via s.Cache immediately before, as the utility
// hook fires at a statement boundary).
func (s *Session) UtilityHook(stmt host.UtilityStatement, effective limits.Limits) error {
	if !s.Enabled.IsEnabled() {
		return nil
	}

	s.suppressAdmission = false

	switch stmt.Kind {
	case host.UtilitySetWorkMem:
		return s.enforceWorkMem(stmt.Value, effective)

	case host.UtilitySetQoS:
		var probe limits.Limits
		if err := limits.ApplyValue(&probe, stmt.Name, stmt.Value, true); err != nil {
			return classifyParseError(stmt.Name, stmt.Value, err)
		}
		return nil

	case host.UtilityAlterRoleSet, host.UtilityAlterDatabaseSet:
		if stmt.Name != "RESET ALL" {
			if !strings.HasPrefix(stmt.Name, limits.Prefix) {
				return nil
			}
			var probe limits.Limits
			if err := limits.ApplyValue(&probe, stmt.Name, stmt.Value, true); err != nil {
				return classifyParseError(stmt.Name, stmt.Value, err)
			}
		}
		if s.Catalog != nil {
			if err := s.Catalog.PersistSet(stmt); err != nil {
				return err
			}
		}
		s.State.BumpSettingsEpoch()
		return nil

	case host.UtilityExplain:
		if !stmt.Analyze {
			s.suppressAdmission = true
		}
		return nil

	case host.UtilityPrepare:
		s.suppressAdmission = true
		return nil
	}
	return nil
}

// enforceWorkMem implements §4.8's SET work_mem enforcement. At
// ErrorLevelWarning an over-limit request is logged and counted and the
// statement proceeds with the requested value; this function does not
// lower the session's work_mem to the limit.
func (s *Session) enforceWorkMem(valueText string, effective limits.Limits) error {
	requested, err := limits.ParseMemory(valueText)
	if err != nil {
		return &qoserr.InvalidValue{Name: "work_mem", Value: valueText, Cause: err}
	}
	if effective.WorkMemBytes == limits.Unset || requested <= effective.WorkMemBytes {
		return nil
	}
	if effective.WorkMemErrorLevel == limits.ErrorLevelWarning {
		s.Log.Warn().
			Str("requested", limits.RenderMemory(requested)).
			Str("limit", limits.RenderMemory(effective.WorkMemBytes)).
			Msg("qos: work_mem exceeds configured limit")
		s.State.WithLock(func(l *shared.Locked) { l.IncrWorkMemViolation() })
		return nil
	}
	s.State.WithLock(func(l *shared.Locked) {
		l.IncrWorkMemViolation()
		l.RecordAudit(shared.AuditEvent{Current: int32(requested / 1024), Max: int32(effective.WorkMemBytes / 1024), WorkMem: true})
	})
	return &qoserr.WorkMemExceeded{RequestedBytes: requested, MaxBytes: effective.WorkMemBytes}
}

// classifyParseError turns one of limits.ParseEntry/ApplyValue's sentinel-
// wrapped ParseErrors into the qoserr.Classified variant a client error
// channel expects (§7).
func classifyParseError(name, value string, err error) error {
	if errors.Is(err, limits.ErrInvalidName) {
		return &qoserr.InvalidName{Name: name}
	}
	return &qoserr.InvalidValue{Name: name, Value: value, Cause: err}
}

// PlannerHook implements §4.8's planner hook: refresh the effective-limit
// cache; if admission isn't suppressed, admit the transaction and
// statement; invoke the host's own planner via plan; then rewrite the
// resulting plan tree's parallel-worker counts.
//
// runHostPlanner stands in for "invokes the host planner" (§4.8): the host
// plans the statement and hands back the tree for rewriting.
func (s *Session) PlannerHook(identity host.SessionIdentity, kind limits.CmdKind, runHostPlanner func() host.PlanTree) (host.PlanTree, error) {
	if !s.Enabled.IsEnabled() {
		return runHostPlanner(), nil
	}

	effective := s.Cache.GetEffectiveLimits(identity)

	if !s.suppressAdmission {
		if err := s.Tracker.AdmitTransaction(effective.MaxConcurrentTx); err != nil {
			return nil, err
		}
		if err := s.Tracker.AdmitStatement(kind, effective.MaxConcurrentFor(kind)); err != nil {
			return nil, err
		}
	}

	plan := runHostPlanner()
	planner.RewritePlan(plan, effective.CPUCoreLimit)
	return plan, nil
}

// ExecutorStartHook implements §4.8's executor-start hook: pin CPU
// affinity if a core limit is configured, then admit the transaction and
// statement as a safety net, idempotent via the tracker's own tracked
// flags, for executor paths that bypass the planner hook entirely (e.g.
// EXECUTE of an already-prepared statement). kind is CmdNone when the
// caller has no statement kind to admit (e.g. a bare PinIfNeeded-only
// call); the statement admission is skipped in that case.
func (s *Session) ExecutorStartHook(identity host.SessionIdentity, kind limits.CmdKind, effective limits.Limits) error {
	if !s.Enabled.IsEnabled() {
		return nil
	}
	// a failed pin only removes affinity control; admission still proceeds.
	if err := s.Affinity.PinIfNeeded(uint32(identity.CurrentDatabase()), uint32(identity.CurrentRole()), effective.CPUCoreLimit); err != nil && !errors.Is(err, qoserr.ErrPlatformUnavailable) {
		return err
	}
	if !s.Tracker.TransactionTracked() {
		if err := s.Tracker.AdmitTransaction(effective.MaxConcurrentTx); err != nil {
			return err
		}
	}
	if kind != limits.CmdNone && !s.Tracker.StatementTracked() {
		if err := s.Tracker.AdmitStatement(kind, effective.MaxConcurrentFor(kind)); err != nil {
			return err
		}
	}
	return nil
}

// ExecutorEndHook implements §4.8's executor-end hook: release tracking.
func (s *Session) ExecutorEndHook() {
	if !s.Enabled.IsEnabled() {
		return
	}
	s.Tracker.EndStatement()
	s.Tracker.EndTransaction()
}

// CatalogInvalidationForRole implements the host's "role-catalog changed"
// invalidation entry point (§4.4, §6), to be registered once per session
// against the host's invalidation bus.
func (s *Session) CatalogInvalidationForRole(role host.ID) {
	s.Cache.InvalidateForRole(role)
}

// CatalogInvalidationForDatabase is CatalogInvalidationForRole's
// database-scoped twin, backing the host's "database-catalog changed"
// invalidation entry point.
func (s *Session) CatalogInvalidationForDatabase(database host.ID) {
	s.Cache.InvalidateForDatabase(database)
}

// RelcacheInvalidation implements the host's relcache-invalidation hook
// for the settings catalog (§6): an unscoped signal, independent of the
// settings_epoch bump C8 performs on a successful ALTER ... SET qos.*,
// that forces a refresh regardless of which role/database the cache
// currently reflects.
func (s *Session) RelcacheInvalidation() {
	s.Cache.Invalidate()
}

// TransactionEventHook implements §4.8's abort-safety handler (§4.5): on
// abort or parallel_abort, release both trackers. kind identifies which
// transaction event fired; every other kind is ignored here.
func (s *Session) TransactionEventHook(kind TransactionEvent) {
	if kind != EventAbort && kind != EventParallelAbort {
		return
	}
	if !s.Enabled.IsEnabled() {
		return
	}
	s.Tracker.EndStatement()
	s.Tracker.EndTransaction()
}

// TransactionEvent tags the transaction-event hook's possible firings
// (§4.5, §4.8). Only abort and parallel_abort trigger a release here;
// other lifecycle events (commit, start) are no-ops for this module.
type TransactionEvent int8

const (
	EventOther TransactionEvent = iota
	EventAbort
	EventParallelAbort
)

var _ host.InvalidationSink = (*Session)(nil)
