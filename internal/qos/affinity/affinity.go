// Package affinity implements C7: pinning the current backend process to a
// bounded set of CPU cores per (database, role), with the critical-section
// discipline and core-selection routine of §4.7.
package affinity

import (
	"time"

	"github.com/appstonia/qosgov/internal/qos/affinitytable"
	"github.com/appstonia/qosgov/internal/qos/qoserr"
	"github.com/appstonia/qosgov/internal/qos/shared"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// sampleWindow is the brief sampling window the cycle-measurement strategy
// runs for (§4.7: "a brief sampling window (≈ 1 ms)").
const sampleWindow = time.Millisecond

// Platform is the OS-specific facility this package needs: the online CPU
// count, applying an affinity mask to the current process, and an attempt
// at per-CPU cycle sampling. Implementations live in affinity_linux.go
// (real syscalls, via golang.org/x/sys/unix) and affinity_other.go (no-op,
// per §4.7's "on other platforms pin_affinity_if_needed() becomes a
// no-op").
type Platform interface {
	// OnlineCPUCount returns the number of online CPUs, or ok=false if the
	// platform can't answer (affinity is unavailable entirely).
	OnlineCPUCount() (count int, ok bool)
	// SampleCycles attempts a brief per-CPU hardware cycle measurement
	// across cpus. ok=false means the platform rejected the attempt
	// (permission or capability absent) and the caller must fall back to
	// round-robin.
	SampleCycles(cpus []int, window time.Duration) (cycles []uint64, ok bool)
	// Apply sets the current process/thread's CPU affinity mask to cores.
	Apply(cores []int) error
}

// Assigner drives pin_affinity_if_needed for one backend.
type Assigner struct {
	state    *shared.State
	platform Platform
	log      zerolog.Logger
}

// New constructs an Assigner. log may be the zero Logger.
func New(state *shared.State, platform Platform, log zerolog.Logger) *Assigner {
	return &Assigner{state: state, platform: platform, log: log}
}

// PinIfNeeded implements pin_affinity_if_needed() (§4.7), invoked at
// executor start. cpuCoreLimit is the session's effective cpu_core_limit;
// limits.Unset or <= 0 is a no-op. database/role identify the scope for
// get_or_assign_cores.
func (a *Assigner) PinIfNeeded(database, role uint32, cpuCoreLimit int32) error {
	if cpuCoreLimit <= 0 {
		return nil
	}

	total, ok := a.platform.OnlineCPUCount()
	if !ok || total <= 0 {
		// §4.7 platform gating: no online-CPU facility means affinity
		// control is unavailable on this platform; plan-level clamping
		// (C6) is the only CPU control left.
		return nil
	}

	requested := int(cpuCoreLimit)
	if requested > total {
		a.log.Warn().Int32("cpu_core_limit", cpuCoreLimit).Int("online_cpus", total).
			Msg("qos: cpu_core_limit exceeds online CPU count, clamping")
		requested = total
	}

	cores := a.getOrAssignCores(database, role, requested, total)
	if err := a.platform.Apply(cores); err != nil {
		return qoserr.ErrPlatformUnavailable
	}
	return nil
}

// getOrAssignCores implements the critical-section discipline of §4.7.
func (a *Assigner) getOrAssignCores(database, role uint32, requested, total int) []int {
	if existing, ok := a.lookupExisting(database, role); ok {
		return existing
	}

	// the empty-slot lookup is advisory only (§4.7: "remember the first
	// empty slot seen"); Insert re-derives room-vs-eviction itself once we
	// re-acquire the lock below, so no index is threaded through.
	a.firstEmptySlot()

	tentative := a.selectCores(requested, total)
	if len(tentative) > affinitytable.MaxCoresPerEntry {
		tentative = tentative[:affinitytable.MaxCoresPerEntry]
	}

	var result []int
	a.state.WithLock(func(l *shared.Locked) {
		tbl := l.AffinityTable()
		if existing, ok := tbl.Find(database, role); ok {
			// another backend inserted a matching entry while we were
			// sampling; prefer it over our own tentative selection.
			result = existing.CoreSet()
			return
		}

		entry := affinitytable.Entry{DatabaseID: database, RoleID: role, NumCores: len(tentative)}
		copy(entry.Cores[:], tentative)
		tbl.Insert(entry)
		result = tentative
	})
	return result
}

func (a *Assigner) lookupExisting(database, role uint32) ([]int, bool) {
	var (
		cores []int
		found bool
	)
	a.state.WithLock(func(l *shared.Locked) {
		if entry, ok := l.AffinityTable().Find(database, role); ok {
			cores = entry.CoreSet()
			found = true
		}
	})
	return cores, found
}

func (a *Assigner) firstEmptySlot() (int, bool) {
	var (
		idx   int
		found bool
	)
	a.state.WithLock(func(l *shared.Locked) {
		idx, found = l.AffinityTable().FirstEmptySlot()
	})
	return idx, found
}

// selectCores implements the core-selection routine of §4.7: attempt
// hardware cycle measurement first, sorting ascending by measured cost and
// taking the cheapest `requested` cores; fall back to the round-robin
// cursor in shared.State if the platform rejects the attempt.
func (a *Assigner) selectCores(requested, total int) []int {
	allCPUs := make([]int, total)
	for i := range allCPUs {
		allCPUs[i] = i
	}

	if cycles, ok := a.platform.SampleCycles(allCPUs, sampleWindow); ok {
		slices.SortFunc(allCPUs, func(cpuA, cpuB int) int { return int(cycles[cpuA]) - int(cycles[cpuB]) })
		if requested > len(allCPUs) {
			requested = len(allCPUs)
		}
		picked := make([]int, requested)
		copy(picked, allCPUs[:requested])
		slices.Sort(picked)
		return picked
	}

	var start int
	a.state.WithLock(func(l *shared.Locked) {
		start = l.NextCPUCore(requested, total)
	})
	picked := make([]int, requested)
	for i := range picked {
		picked[i] = (start + i) % total
	}
	return picked
}
