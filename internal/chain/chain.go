// Package chain reconstructs the presentation-ready approval chain from the
// raw step rows the asset service reports. Everything here is a pure
// function of its inputs: no network, no ambient state, role identifiers
// arrive as an explicit parameter.
package chain

import (
	"sort"
	"time"

	"github.com/upendohq/idhini/model"
)

// InitiatedTitle is the title of the synthetic first step.
const InitiatedTitle = "Approval Initiated"

// timestampLayout matches what the asset-management screens have always
// shown for approval dates.
const timestampLayout = "02 Jan 2006 15:04"

// Normalize converts a workflow header plus its raw step rows into the
// ordered Step sequence the UI renders. The first element is always the
// synthetic "Approval Initiated" step; the rest map one-to-one onto the raw
// rows sorted by (sequence ascending, step ID lexical ascending).
//
// Missing header values render as empty strings. Unrecognized raw statuses
// map to pending; Normalize never fails.
func Normalize(header model.WorkflowHeader, raw []model.StepRecord, roleIDs []string) []model.Step {
	steps := make([]model.Step, 0, len(raw)+1)
	steps = append(steps, initiatedStep(header))

	sorted := make([]model.StepRecord, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := effectiveSequence(sorted[i]), effectiveSequence(sorted[j])
		if si != sj {
			return si < sj
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, rec := range sorted {
		steps = append(steps, normalizeRecord(rec, roleIDs))
	}
	return steps
}

// CanAct reports whether a user holding the given role identifiers may act
// on the step: the step must be the current one and its required role must
// be among the user's roles. Pure set membership, nothing more.
func CanAct(step model.Step, roleIDs []string) bool {
	if step.Status != model.StepStatusCurrent || step.Role == nil {
		return false
	}
	return containsRole(roleIDs, step.Role.ID)
}

// IsCurrentActionUser reports whether any current step is awaiting one of
// the given roles. This gates Approve/Reject visibility at screen level.
func IsCurrentActionUser(steps []model.Step, roleIDs []string) bool {
	for _, s := range steps {
		if CanAct(s, roleIDs) {
			return true
		}
	}
	return false
}

// FindPendingRecord returns the first raw record whose status is the
// awaiting code, in input order. The dispatcher targets this record; a
// false return means no step is actionable.
func FindPendingRecord(raw []model.StepRecord) (model.StepRecord, bool) {
	for _, rec := range raw {
		if rec.Status == model.RawStepAwaiting {
			return rec, true
		}
	}
	return model.StepRecord{}, false
}

func initiatedStep(header model.WorkflowHeader) model.Step {
	creator := header.CreatedBy
	if creator == "" {
		creator = "System"
	}
	return model.Step{
		ID:          "initiated",
		Title:       InitiatedTitle,
		Status:      model.StepStatusCompleted,
		Description: "Initiated by " + creator,
		Timestamp:   formatTime(header.CreatedAt),
	}
}

func normalizeRecord(rec model.StepRecord, roleIDs []string) model.Step {
	step := model.Step{
		ID:        rec.ID,
		Title:     rec.RoleName,
		Status:    mapStatus(rec.Status),
		Timestamp: formatTime(rec.ApprovedAt),
		Note:      rec.Comment,
	}
	if rec.RoleID != "" || rec.RoleName != "" {
		step.Role = &model.RoleRef{ID: rec.RoleID, Name: rec.RoleName}
	}
	step.Description = describe(step, roleIDs)
	return step
}

// mapStatus is total: any unrecognized value, including empty, is pending.
func mapStatus(raw string) string {
	switch raw {
	case model.RawStepAwaiting:
		return model.StepStatusCurrent
	case model.RawStepApproved:
		return model.StepStatusApproved
	case model.RawStepRejected:
		return model.StepStatusRejected
	default:
		return model.StepStatusPending
	}
}

func describe(step model.Step, roleIDs []string) string {
	roleName := ""
	if step.Role != nil {
		roleName = step.Role.Name
	}
	switch step.Status {
	case model.StepStatusCurrent:
		if CanAct(step, roleIDs) {
			return "Awaiting Approval from You"
		}
		return "Awaiting Approval from " + roleName
	case model.StepStatusApproved:
		return "Approved by " + roleName
	case model.StepStatusRejected:
		return "Rejected by " + roleName
	default:
		return "Awaiting " + roleName
	}
}

// effectiveSequence prefers the primary sequence and falls back to the
// secondary level field. Non-numeric values were already coerced to 0 at
// the decode boundary.
func effectiveSequence(rec model.StepRecord) int {
	if rec.Sequence != 0 {
		return rec.Sequence
	}
	return rec.Level
}

func containsRole(roleIDs []string, id string) bool {
	if id == "" {
		return false
	}
	for _, r := range roleIDs {
		if r == id {
			return true
		}
	}
	return false
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(timestampLayout)
}
