// Package metadata derives the presentation payload from normalized
// workflow state: timeline segments, form descriptors, action availability,
// and data-integrity warnings. Everything here is a pure function; the UI
// renders the output verbatim.
package metadata

import (
	"github.com/upendohq/idhini/internal/chain"
	"github.com/upendohq/idhini/model"
)

// statusColors maps derived step statuses to the UI color classes.
var statusColors = map[string]string{
	model.StepStatusCompleted: "blue",
	model.StepStatusCurrent:   "blue",
	model.StepStatusApproved:  "green",
	model.StepStatusRejected:  "red",
	model.StepStatusPending:   "gray",
}

// BuildTimeline maps the normalized chain into ordered colored segments.
func BuildTimeline(steps []model.Step) []model.TimelineSegment {
	segments := make([]model.TimelineSegment, 0, len(steps))
	for _, s := range steps {
		color, ok := statusColors[s.Status]
		if !ok {
			color = statusColors[model.StepStatusPending]
		}
		segments = append(segments, model.TimelineSegment{
			StepID: s.ID,
			Label:  s.Title,
			Status: s.Status,
			Color:  color,
		})
	}
	return segments
}

// BuildForms returns the Approve and Reject modal descriptors. The
// technician select appears on the approve form only when the workflow
// still needs one.
func BuildForms(technicianRequired bool, technicians []model.OptionDescriptor) model.ApprovalForms {
	comments := model.FieldDescriptor{
		Name:     "comments",
		Label:    "Comments",
		Type:     "textarea",
		Required: true,
	}

	approveFields := []model.FieldDescriptor{comments}
	if technicianRequired {
		approveFields = append(approveFields, model.FieldDescriptor{
			Name:     "technician_id",
			Label:    "Technician",
			Type:     "select",
			Required: true,
			Options:  technicians,
		})
	}

	return model.ApprovalForms{
		Approve: model.FormDescriptor{
			ID:     "approve",
			Title:  "Approve Request",
			Fields: approveFields,
		},
		Reject: model.FormDescriptor{
			ID:     "reject",
			Title:  "Reject Request",
			Fields: []model.FieldDescriptor{comments},
		},
	}
}

// BuildWarnings inspects the header and the eligible pool for integrity
// findings. Blocking warnings disable Approve; none of them ever block
// read-only viewing or rejection.
func BuildWarnings(header model.WorkflowHeader, technicians []model.Technician) []model.Warning {
	var warnings []model.Warning

	if header.Vendor != nil && !header.Vendor.Active {
		warnings = append(warnings, model.Warning{
			Code:     model.WarnVendorInactive,
			Message:  "The assigned vendor is inactive; reassign before approving",
			Blocking: true,
		})
	}

	if technicianRequired(header, technicians) && activeCount(technicians) == 0 {
		warnings = append(warnings, model.Warning{
			Code:     model.WarnNoTechnicians,
			Message:  "No technicians are available for this asset type",
			Blocking: true,
		})
	}

	return warnings
}

// BuildAvailability decides which action buttons the UI shows and whether
// they are enabled. Approve and Reject are visible only to the current
// actor while the workflow is open; blocking warnings disable Approve and
// carry their code as the reason.
func BuildAvailability(header model.WorkflowHeader, steps []model.Step, roleIDs []string, warnings []model.Warning) model.ActionAvailability {
	visible := chain.IsCurrentActionUser(steps, roleIDs) && !model.HeaderClosed(header.Status)

	availability := model.ActionAvailability{
		Visible: visible,
		Approve: model.ActionState{Enabled: visible},
		Reject:  model.ActionState{Enabled: visible},
	}
	if !visible {
		return availability
	}

	for _, w := range warnings {
		if w.Blocking {
			availability.Approve = model.ActionState{Enabled: false, Reason: w.Code}
			break
		}
	}
	return availability
}

// BuildDescriptor assembles the complete approval screen payload.
func BuildDescriptor(header model.WorkflowHeader, steps []model.Step, roleIDs []string, technicians []model.Technician) model.ApprovalDescriptor {
	warnings := BuildWarnings(header, technicians)
	needTechnician := technicianRequired(header, technicians)

	options := make([]model.OptionDescriptor, 0, len(technicians))
	for _, t := range technicians {
		if !t.Active {
			continue
		}
		options = append(options, model.OptionDescriptor{Value: t.ID, Label: t.Name})
	}

	return model.ApprovalDescriptor{
		Header:   header,
		Steps:    steps,
		CanAct:   chain.IsCurrentActionUser(steps, roleIDs),
		Actions:  BuildAvailability(header, steps, roleIDs, warnings),
		Timeline: BuildTimeline(steps),
		Forms:    BuildForms(needTechnician, options),
		Warnings: warnings,
	}
}

// technicianRequired mirrors the dispatcher's approve-time rule so the form
// shows the select exactly when submission would demand it.
func technicianRequired(header model.WorkflowHeader, technicians []model.Technician) bool {
	if header.Technician != nil && header.Technician.ID != "" {
		return false
	}
	switch header.MaintenanceMode {
	case model.MaintenanceInHouse:
		return true
	case model.MaintenanceVendor:
		return len(technicians) > 0
	}
	return false
}

func activeCount(technicians []model.Technician) int {
	n := 0
	for _, t := range technicians {
		if t.Active {
			n++
		}
	}
	return n
}
