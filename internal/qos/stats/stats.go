// Package stats implements §6's three operator-facing functions --
// qos_version, qos_get_stats, qos_reset_stats -- as thin, allocation-light
// wrappers over shared.State. None of them take the admission lock for
// longer than a single Stats copy or a single zeroing assignment.
package stats

import (
	"encoding/json"
	"fmt"

	"github.com/appstonia/qosgov/internal/qos/shared"
)

// Version is the module's operator-facing version string, returned by
// qos_version(). It has no relation to the module's Go version; it is the
// text the host surfaces to an operator running `SELECT qos_version()`.
const Version = "1.0.0"

// View is the JSON shape qos_get_stats() renders. Field names are
// snake_case to match the host's own qos.* setting naming convention
// (§2), not Go's usual exported-field convention, since this text is
// consumed by operators and scripts, not by another Go package.
type View struct {
	AdmittedQueries  uint64 `json:"admitted_queries"`
	ThrottledQueries uint64 `json:"throttled_queries"`
	RejectedQueries  uint64 `json:"rejected_queries"`

	WorkMemViolations uint64 `json:"work_mem_violations"`
	CPUViolations     uint64 `json:"cpu_violations"`
	TxViolations      uint64 `json:"tx_violations"`
	SelectViolations  uint64 `json:"select_violations"`
	UpdateViolations  uint64 `json:"update_violations"`
	DeleteViolations  uint64 `json:"delete_violations"`
	InsertViolations  uint64 `json:"insert_violations"`

	AuditEntries []AuditView `json:"audit_entries,omitempty"`
}

// AuditView is one qos_get_stats() audit record (SPEC_FULL.md §[FULL-3.1]).
type AuditView struct {
	RoleID     uint32 `json:"role_id"`
	DatabaseID uint32 `json:"database_id"`
	Kind       string `json:"kind"`
	Current    int32  `json:"current"`
	Max        int32  `json:"max"`
	WorkMem    bool   `json:"work_mem,omitempty"`
}

// QosVersion implements qos_version() -> text.
func QosVersion() string { return Version }

// QosGetStats implements qos_get_stats() -> text: a JSON rendering of the
// live Stats counters plus the diagnostic audit trail (§[FULL-3.1]), read
// under State's lock via Stats/AuditSnapshot. encoding/json keeps this
// wrapper a one-call affair.
func QosGetStats(state *shared.State) (string, error) {
	s := state.Stats()
	audit := state.AuditSnapshot()

	v := View{
		AdmittedQueries:   s.AdmittedQueries,
		ThrottledQueries:  s.ThrottledQueries,
		RejectedQueries:   s.RejectedQueries,
		WorkMemViolations: s.WorkMemViolations,
		CPUViolations:     s.CPUViolations,
		TxViolations:      s.TxViolations,
		SelectViolations:  s.SelectViolations,
		UpdateViolations:  s.UpdateViolations,
		DeleteViolations:  s.DeleteViolations,
		InsertViolations:  s.InsertViolations,
	}
	if len(audit) > 0 {
		v.AuditEntries = make([]AuditView, len(audit))
		for i, ev := range audit {
			v.AuditEntries[i] = AuditView{
				RoleID:     ev.RoleID,
				DatabaseID: ev.DatabaseID,
				Kind:       ev.Kind.String(),
				Current:    ev.Current,
				Max:        ev.Max,
				WorkMem:    ev.WorkMem,
			}
		}
	}

	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("qos: marshal stats: %w", err)
	}
	return string(out), nil
}

// QosResetStats implements qos_reset_stats() -> void: zeros the Stats
// struct under the lock. The audit trail is untouched (§[FULL-8.1]: "reset
// clears Stats only, never the diagnostic audit trail").
func QosResetStats(state *shared.State) {
	state.ResetStats()
}
