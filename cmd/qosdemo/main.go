// Command qosdemo replays a TOML scenario script (internal/config) against
// an in-memory stand-in host (internal/qos/memhost), exercising every
// governor component wired together exactly as the hook glue in
// internal/qos/hooks describes (§4.8).
//
// It is not part of the governor core: the core is configured purely
// through the host's own catalog (§6). This command exists to demonstrate
// and smoke-test that wiring end to end, the way a real embedding host's
// startup hooks would.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/appstonia/qosgov/internal/config"
	"github.com/appstonia/qosgov/internal/qos/admission"
	"github.com/appstonia/qosgov/internal/qos/affinity"
	"github.com/appstonia/qosgov/internal/qos/cache"
	"github.com/appstonia/qosgov/internal/qos/catalog"
	"github.com/appstonia/qosgov/internal/qos/hooks"
	"github.com/appstonia/qosgov/internal/qos/host"
	"github.com/appstonia/qosgov/internal/qos/limits"
	"github.com/appstonia/qosgov/internal/qos/memhost"
	"github.com/appstonia/qosgov/internal/qos/shared"
	"github.com/appstonia/qosgov/internal/qos/stats"
)

func main() {
	fixturePath := flag.String("fixture", "cmd/qosdemo/fixture.toml", "path to the demo TOML fixture")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	fixture, err := config.Load(*fixturePath)
	if err != nil {
		log.Fatal().Err(err).Msg("qos: failed to load fixture")
	}

	if err := run(fixture, log); err != nil {
		log.Fatal().Err(err).Msg("qos: demo run failed")
	}
}

// ids assigns a stable, demo-lifetime host.ID to each distinct name the
// fixture/scenario mentions, mirroring the way a real catalog assigns OIDs
// at CREATE ROLE/CREATE DATABASE time.
type ids struct {
	byName map[string]host.ID
	next   host.ID
}

func newIDs() *ids { return &ids{byName: make(map[string]host.ID), next: 1} }

func (r *ids) get(name string) host.ID {
	if name == "" {
		return host.NoID
	}
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.next
	r.next++
	r.byName[name] = id
	return id
}

// demoSession bundles one scenario session's identity and its hooks.Session.
type demoSession struct {
	identity memhost.Identity
	hooks    *hooks.Session
}

func run(fixture *config.Fixture, log zerolog.Logger) error {
	reg := newIDs()
	cat := memhost.NewCatalog()

	for _, r := range fixture.Roles {
		cat.SeedRole(reg.get(r.Role), r.Entries)
	}
	for _, d := range fixture.Databases {
		cat.SeedDatabase(reg.get(d.Database), d.Entries)
	}
	for _, r := range fixture.RoleInDatabase {
		cat.SeedRoleInDatabase(reg.get(r.Role), reg.get(r.Database), r.Entries)
	}

	state := shared.New(fixture.MaxBackends)
	reader := catalog.NewReader(cat, log)
	group := &singleflight.Group{}
	enabled := hooks.NewEnabled()
	aff := affinity.New(state, affinity.NewLinuxPlatform(), log)

	sessions := make(map[string]*demoSession)
	var nextBackend shared.BackendID

	getSession := func(step config.Step) (*demoSession, error) {
		s, ok := sessions[step.Session]
		if ok {
			return s, nil
		}
		if int(nextBackend) >= fixture.MaxBackends {
			return nil, fmt.Errorf("qosdemo: fixture max_backends=%d exhausted by session %q", fixture.MaxBackends, step.Session)
		}
		identity := memhost.Identity{Role: reg.get(step.Role), Database: reg.get(step.Database)}
		tracker := admission.New(state, nextBackend, syntheticPID(), identity.Role, identity.Database)
		nextBackend++

		s = &demoSession{
			identity: identity,
			hooks: hooks.NewSession(state, enabled, cache.New(reader, state, group), tracker, aff, cat,
				log.With().Str("session", step.Session).Logger()),
		}
		sessions[step.Session] = s
		return s, nil
	}

	for i, step := range fixture.Scenario {
		s, err := getSession(step)
		if err != nil {
			return err
		}
		if err := applyStep(state, reg, s, step); err != nil {
			log.Warn().Int("step", i).Str("session", step.Session).Str("action", step.Action).Err(err).Msg("qos: scenario step rejected")
		}
	}
	return nil
}

// syntheticPID stands in for the host's real OS process id: any stable,
// non-zero identifier the session assigns itself (shared.BackendStatus's
// doc comment). A demo session has no real OS process behind it, so a
// random 64-bit id serves the same "occupied" contract.
func syntheticPID() uint64 {
	u := uuid.New()
	if pid := binary.BigEndian.Uint64(u[:8]); pid != 0 {
		return pid
	}
	return 1 // astronomically unlikely, but pid must never be zero (§3)
}

func kindFor(action string) (limits.CmdKind, bool) {
	switch action {
	case "select":
		return limits.CmdSelect, true
	case "update":
		return limits.CmdUpdate, true
	case "delete":
		return limits.CmdDelete, true
	case "insert":
		return limits.CmdInsert, true
	default:
		return limits.CmdNone, false
	}
}

// applyStep drives one scenario line through the session's hook glue,
// exactly the way a real host would at the corresponding hook point.
func applyStep(state *shared.State, reg *ids, s *demoSession, step config.Step) error {
	switch step.Action {
	case "select", "update", "delete", "insert":
		kind, _ := kindFor(step.Action)
		tree := &memhost.Tree{RootNode: &memhost.Node{NodeKind: host.PlanNodeGather, Workers: 8}}
		if _, err := s.hooks.PlannerHook(s.identity, kind, func() host.PlanTree { return tree }); err != nil {
			return err
		}
		return s.hooks.ExecutorStartHook(s.identity, kind, s.hooks.Cache.GetEffectiveLimits(s.identity))

	case "prepare":
		// PREPARE never reaches the planner hook in this model -- the
		// statement it names is planned and admitted later, at EXECUTE.
		return s.hooks.UtilityHook(host.UtilityStatement{Kind: host.UtilityPrepare}, limits.Empty())

	case "execute":
		// EXECUTE of a prepared statement: the planner hook is skipped
		// entirely (the plan was already produced at PREPARE time), so
		// ExecutorStartHook's idempotent safety net is the only admission
		// this statement ever gets (§4.8).
		kind, _ := kindFor(step.Value)
		return s.hooks.ExecutorStartHook(s.identity, kind, s.hooks.Cache.GetEffectiveLimits(s.identity))

	case "release":
		s.hooks.ExecutorEndHook()
		return nil

	case "abort":
		s.hooks.TransactionEventHook(hooks.EventAbort)
		return nil

	case "invalidate_role":
		s.hooks.CatalogInvalidationForRole(reg.get(step.Name))
		return nil

	case "invalidate_database":
		s.hooks.CatalogInvalidationForDatabase(reg.get(step.Name))
		return nil

	case "relcache_invalidate":
		s.hooks.RelcacheInvalidation()
		return nil

	case "set_work_mem":
		effective := s.hooks.Cache.GetEffectiveLimits(s.identity)
		return s.hooks.UtilityHook(host.UtilityStatement{Kind: host.UtilitySetWorkMem, Value: step.Value}, effective)

	case "alter_role_set":
		return s.hooks.UtilityHook(host.UtilityStatement{
			Kind: host.UtilityAlterRoleSet, Role: s.identity.Role, Name: step.Name, Value: step.Value,
		}, limits.Empty())

	case "alter_database_set":
		return s.hooks.UtilityHook(host.UtilityStatement{
			Kind: host.UtilityAlterDatabaseSet, Database: s.identity.Database, Name: step.Name, Value: step.Value,
		}, limits.Empty())

	case "explain":
		return s.hooks.UtilityHook(host.UtilityStatement{Kind: host.UtilityExplain, Analyze: step.Value == "true"}, limits.Empty())

	case "reset_stats":
		stats.QosResetStats(state)
		return nil

	case "get_stats":
		text, err := stats.QosGetStats(state)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil

	default:
		return fmt.Errorf("qosdemo: unrecognized scenario action %q", step.Action)
	}
}
