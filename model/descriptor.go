package model

// ApprovalDescriptor is the full payload the front end needs to render one
// approval screen: the authoritative header, the normalized chain, the
// current user's standing, and the presentation metadata derived from both.
type ApprovalDescriptor struct {
	Header   WorkflowHeader    `json:"header"`
	Steps    []Step            `json:"steps"`
	CanAct   bool              `json:"can_act"`
	Actions  ActionAvailability `json:"actions"`
	Timeline []TimelineSegment `json:"timeline"`
	Forms    ApprovalForms     `json:"forms"`
	Warnings []Warning         `json:"warnings,omitempty"`
}

// ActionAvailability tells the UI which action buttons to show and whether
// they are currently blocked.
type ActionAvailability struct {
	Visible bool        `json:"visible"`
	Approve ActionState `json:"approve"`
	Reject  ActionState `json:"reject"`
}

// ActionState is the enablement of a single action button.
type ActionState struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"` // warning code when blocked
}

// TimelineSegment is one colored segment of the left-to-right chain strip.
type TimelineSegment struct {
	StepID string `json:"step_id"`
	Label  string `json:"label"`
	Status string `json:"status"`
	Color  string `json:"color"`
}

// ApprovalForms holds the two modal dialog descriptors.
type ApprovalForms struct {
	Approve FormDescriptor `json:"approve"`
	Reject  FormDescriptor `json:"reject"`
}

// FormDescriptor describes a modal form the UI renders verbatim.
type FormDescriptor struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Fields []FieldDescriptor `json:"fields"`
}

// FieldDescriptor is one form field.
type FieldDescriptor struct {
	Name     string             `json:"name"`
	Label    string             `json:"label"`
	Type     string             `json:"type"` // textarea | select
	Required bool               `json:"required"`
	Options  []OptionDescriptor `json:"options,omitempty"`
}

// OptionDescriptor is one selectable option (e.g. a technician).
type OptionDescriptor struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// HistoryPayload wraps the audit trail with a degradation indicator so a
// failed history read renders as an empty list with a visible error, never
// a crash.
type HistoryPayload struct {
	Records []HistoryRecord `json:"records"`
	Partial bool            `json:"partial,omitempty"`
	Error   string          `json:"error,omitempty"`
}
