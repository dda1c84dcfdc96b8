package model

import "time"

// Workflow header status codes as reported by the asset service.
const (
	HeaderStatusInProgress = "IN" // chain is running
	HeaderStatusAwaiting   = "AP" // awaiting approval at the current step
	HeaderStatusCompleted  = "CO"
	HeaderStatusCancelled  = "CA"
)

// Raw per-step status codes as reported by the asset service.
const (
	RawStepAwaiting = "AP"
	RawStepApproved = "UA"
	RawStepRejected = "UR"
)

// Derived step statuses used by the presentation layer.
const (
	StepStatusCompleted = "completed"
	StepStatusCurrent   = "current"
	StepStatusApproved  = "approved"
	StepStatusRejected  = "rejected"
	StepStatusPending   = "pending"
)

// Maintenance mode classifiers.
const (
	MaintenanceInHouse = "in_house"
	MaintenanceVendor  = "vendor"
)

// HeaderClosed reports whether a header status is terminal.
func HeaderClosed(status string) bool {
	return status == HeaderStatusCompleted || status == HeaderStatusCancelled
}

// WorkflowHeader is the top-level record describing one approval instance.
// It is owned by the asset service; this process never mutates it directly.
type WorkflowHeader struct {
	ID              string     `json:"id"`
	SubjectID       string     `json:"subject_id"` // e.g. the asset being inspected
	AssetTypeID     string     `json:"asset_type_id,omitempty"`
	Status          string     `json:"status"`
	MaintenanceMode string     `json:"maintenance_mode,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	Technician      *Assignee  `json:"technician,omitempty"`
	Vendor          *Vendor    `json:"vendor,omitempty"`
}

// Assignee is a technician reference on a workflow header.
type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Vendor is a vendor reference on a workflow header.
type Vendor struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Active bool   `json:"active"`
}

// StepRecord is one canonical approval-level row. The asset service emits
// these under several historical key spellings; assetapi collapses them into
// this shape at the decode boundary and nothing downstream sees raw maps.
type StepRecord struct {
	ID         string     `json:"id"`
	Sequence   int        `json:"sequence"`
	Level      int        `json:"level,omitempty"` // secondary ordering field
	RoleID     string     `json:"role_id,omitempty"`
	RoleName   string     `json:"role_name,omitempty"`
	Status     string     `json:"status,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

// RoleRef identifies the role required to act on a step. Role identifiers
// are opaque strings issued by the identity provider.
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Step is the normalized, presentation-ready form of one chain position.
// Recomputed on every read; never persisted.
type Step struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Role        *RoleRef `json:"role,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// WorkflowDetail is the read-model for one approval instance: the header
// plus its raw step rows, exactly as the backend reported them.
type WorkflowDetail struct {
	Header WorkflowHeader `json:"header"`
	Steps  []StepRecord   `json:"steps"`
}

// HistoryRecord is one entry in the backend's audit trail for a workflow.
type HistoryRecord struct {
	ID        string     `json:"id"`
	Action    string     `json:"action"`
	ActorID   string     `json:"actor_id,omitempty"`
	ActorName string     `json:"actor_name,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Technician is an eligible technician for assignment.
type Technician struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
