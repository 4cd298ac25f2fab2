//go:build !linux

package affinity

import "time"

// NoopPlatform implements Platform for every OS this module doesn't have a
// real affinity facility for. Per §4.7's platform-gating rule, on these
// platforms pin_affinity_if_needed() is a no-op and CPU control is reduced
// to the planner rewriter (C6) alone.
type NoopPlatform struct{}

// NewLinuxPlatform is named identically to its Linux counterpart so
// callers (e.g. cmd/qosdemo) can select a platform without a build-tagged
// switch of their own.
func NewLinuxPlatform() NoopPlatform { return NoopPlatform{} }

func (NoopPlatform) OnlineCPUCount() (int, bool) { return 0, false }

func (NoopPlatform) SampleCycles([]int, time.Duration) ([]uint64, bool) { return nil, false }

func (NoopPlatform) Apply([]int) error { return nil }
