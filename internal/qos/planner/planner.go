// Package planner implements C6: rewriting a planned statement's
// parallel-worker counts down to the session's effective CPU core limit
// (§4.6).
package planner

import "github.com/appstonia/qosgov/internal/qos/host"

// RewritePlan implements rewrite_plan(plan, effective_limits). cpuCoreLimit
// is the effective cpu_core_limit field (limits.Unset or <= 0 means "do
// nothing": no rewriting, no tree traversal at all).
//
// W = max(0, cpuCoreLimit-1): the backend driving the plan itself consumes
// one core, so only cpuCoreLimit-1 are available to hand to parallel
// workers.
func RewritePlan(plan host.PlanTree, cpuCoreLimit int32) {
	if cpuCoreLimit <= 0 {
		return
	}
	w := int(cpuCoreLimit) - 1
	if w < 0 {
		w = 0
	}
	rewriteTree(plan, w)
}

func rewriteTree(plan host.PlanTree, w int) {
	if plan == nil {
		return
	}
	rewriteNode(plan.Root(), w)
	for _, sub := range plan.Subplans() {
		rewriteTree(sub, w)
	}
}

// rewriteNode walks a plan node depth-first, clamping num_workers on any
// parallel gather / gather-merge node to w, and descending into both
// children regardless of this node's own kind. The traversal order is not
// observable and the clamp is idempotent (clamping an already-clamped or
// smaller value is a no-op).
func rewriteNode(node host.PlanNode, w int) {
	if node == nil {
		return
	}
	switch node.Kind() {
	case host.PlanNodeGather, host.PlanNodeGatherMerge:
		if node.NumWorkers() > w {
			node.SetNumWorkers(w)
		}
	}
	rewriteNode(node.Left(), w)
	rewriteNode(node.Right(), w)
}
