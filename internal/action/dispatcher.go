// Package action implements the approve/reject dispatcher. The dispatcher
// validates against the caller's snapshot of the screen state, submits
// exactly one action to the asset service, and re-reads the authoritative
// state on success. It holds no workflow state of its own.
package action

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/chain"
	"github.com/upendohq/idhini/model"
)

// Snapshot is the caller's current read of the workflow, assembled by the
// handler before dispatch. The dispatcher never fetches its own; validating
// against the screen the user acted on keeps the one-POST contract intact.
type Snapshot struct {
	Header      model.WorkflowHeader
	Steps       []model.StepRecord
	Technicians []model.Technician
}

// Outcome is the result of an accepted action. Refreshed=false means the
// backend accepted the action but the post-action re-read failed or was
// abandoned; the caller must treat its current view as stale.
type Outcome struct {
	ActionID   string                `json:"action_id"`
	Action     string                `json:"action"`
	WorkflowID string                `json:"workflow_id"`
	StepID     string                `json:"step_id"`
	Message    string                `json:"message,omitempty"`
	Refreshed  bool                  `json:"refreshed"`
	Detail     *model.WorkflowDetail `json:"detail,omitempty"`
	History    []model.HistoryRecord `json:"history,omitempty"`
	Warnings   []model.Warning       `json:"warnings,omitempty"`
}

// Observer receives action lifecycle events for metrics and audit.
type Observer interface {
	OnActionDispatched(ctx context.Context, event Event)
}

// Event describes the outcome of one dispatch.
type Event struct {
	ActionID   string        `json:"action_id"`
	Action     string        `json:"action"`
	WorkflowID string        `json:"workflow_id"`
	SubjectID  string        `json:"subject_id"`
	TenantID   string        `json:"tenant_id"`
	Success    bool          `json:"success"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Dispatcher coordinates action submission for all workflows. Safe for
// concurrent use.
type Dispatcher struct {
	backend     model.AssetService
	logger      *zap.Logger
	idempotency IdempotencyStore
	idemTTL     time.Duration
	observers   []Observer

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// DispatcherOption configures optional dependencies.
type DispatcherOption func(*Dispatcher)

// WithIdempotencyStore enables submission deduplication.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.idempotency = store
		if ttl > 0 {
			d.idemTTL = ttl
		}
	}
}

// WithObserver adds an action observer.
func WithObserver(obs Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observers = append(d.observers, obs) }
}

// NewDispatcher creates a Dispatcher over the given backend.
func NewDispatcher(backend model.AssetService, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		backend:  backend,
		logger:   logger,
		idemTTL:  24 * time.Hour,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates and submits one approve or reject action.
//
// Validation runs entirely against the snapshot; a validation failure never
// reaches the network. A replay carrying an already-completed idempotency
// key returns the cached outcome without re-validation. An accepted action
// produces exactly one submission, followed on success by one detail
// re-read and one history re-read.
func (d *Dispatcher) Dispatch(ctx context.Context, rctx *model.RequestContext, snapshot Snapshot, req model.ActionRequest) (Outcome, error) {
	start := time.Now()
	actionID := uuid.NewString()

	if !d.acquire(req.WorkflowID) {
		return Outcome{}, model.NewActionInFlightError(req.WorkflowID)
	}
	defer d.release(req.WorkflowID)

	// The replay check runs before validation and hashes the request as the
	// client sent it: after the original submission landed, the chain has
	// advanced and a re-validation of the same input would fail instead of
	// returning the cached outcome.
	idemKey := ""
	inputHash := ""
	if d.idempotency != nil && req.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(req.WorkflowID, req.IdempotencyKey)
		inputHash = hashRequest(req)
		cached, found, err := d.idempotency.Check(ctx, idemKey, inputHash)
		if err != nil {
			d.notify(ctx, rctx, actionID, req, false, err, time.Since(start))
			return Outcome{}, err
		}
		if found && cached != nil {
			d.logger.Info("action: returning cached outcome",
				zap.String("workflow_id", req.WorkflowID),
				zap.String("idempotency_key", req.IdempotencyKey))
			return *cached, nil
		}
	}

	target, err := d.validate(rctx, snapshot, &req)
	if err != nil {
		d.notify(ctx, rctx, actionID, req, false, err, time.Since(start))
		return Outcome{}, err
	}
	req.StepID = target.ID

	ack, err := d.backend.SubmitAction(ctx, rctx, req)
	if err != nil {
		d.notify(ctx, rctx, actionID, req, false, err, time.Since(start))
		return Outcome{}, err
	}
	if !ack.Success {
		rejection := model.NewBackendRejectedError(ack.Message)
		d.notify(ctx, rctx, actionID, req, false, rejection, time.Since(start))
		return Outcome{}, rejection
	}

	outcome := Outcome{
		ActionID:   actionID,
		Action:     req.Action,
		WorkflowID: req.WorkflowID,
		StepID:     req.StepID,
		Message:    ack.Message,
	}
	d.refresh(ctx, rctx, &outcome)

	if idemKey != "" {
		// Best effort; a store failure must not fail an accepted action.
		if serr := d.idempotency.Store(ctx, idemKey, inputHash, outcome, d.idemTTL); serr != nil {
			d.logger.Warn("action: idempotency store failed",
				zap.String("workflow_id", req.WorkflowID), zap.Error(serr))
		}
	}

	d.notify(ctx, rctx, actionID, req, true, nil, time.Since(start))
	return outcome, nil
}

// validate runs the local rule chain and returns the target step record.
func (d *Dispatcher) validate(rctx *model.RequestContext, snapshot Snapshot, req *model.ActionRequest) (model.StepRecord, error) {
	req.Comments = strings.TrimSpace(req.Comments)
	if req.Comments == "" {
		return model.StepRecord{}, model.NewValidationError(model.FieldError{
			Field:   "comments",
			Code:    "REQUIRED",
			Message: "Comments are required",
		})
	}

	if model.HeaderClosed(snapshot.Header.Status) {
		return model.StepRecord{}, model.NewWorkflowClosedError(req.WorkflowID, snapshot.Header.Status)
	}

	target, ok := chain.FindPendingRecord(snapshot.Steps)
	if !ok {
		return model.StepRecord{}, model.NewNoPendingStepError(req.WorkflowID)
	}

	var roles []string
	if rctx != nil {
		roles = rctx.Roles
	}
	steps := chain.Normalize(snapshot.Header, snapshot.Steps, roles)
	if !chain.IsCurrentActionUser(steps, roles) {
		return model.StepRecord{}, model.NewStepUnauthorizedError()
	}
	if req.StepID != "" && req.StepID != target.ID {
		return model.StepRecord{}, model.NewConflictError(
			"the step awaiting action has changed; reload and try again")
	}

	if req.Action == model.ActionApprove {
		if err := d.validateApprove(snapshot, req); err != nil {
			return model.StepRecord{}, err
		}
	}
	return target, nil
}

// validateApprove enforces the technician and vendor rules that gate
// approval only. Rejection is always allowed past this point.
func (d *Dispatcher) validateApprove(snapshot Snapshot, req *model.ActionRequest) error {
	header := snapshot.Header
	assigned := header.Technician != nil && header.Technician.ID != ""
	selected := req.TechnicianID != ""

	switch header.MaintenanceMode {
	case model.MaintenanceInHouse:
		if !assigned && !selected {
			return model.NewTechnicianRequiredError()
		}
	case model.MaintenanceVendor:
		if len(snapshot.Technicians) > 0 && !assigned && !selected {
			return model.NewTechnicianRequiredError()
		}
	}

	if header.Vendor != nil && !header.Vendor.Active {
		return model.NewVendorInactiveError(header.Vendor.Name)
	}
	return nil
}

// refresh re-reads the authoritative state after an accepted action. A
// cancelled context abandons the re-read cleanly; a failed re-read degrades
// to Refreshed=false with a warning. Neither fails the action.
func (d *Dispatcher) refresh(ctx context.Context, rctx *model.RequestContext, outcome *Outcome) {
	if ctx.Err() != nil {
		d.logger.Debug("action: refresh abandoned, request context cancelled",
			zap.String("workflow_id", outcome.WorkflowID))
		return
	}

	detail, err := d.backend.Detail(ctx, rctx, outcome.WorkflowID)
	if err != nil {
		d.logger.Warn("action: post-action detail refresh failed",
			zap.String("workflow_id", outcome.WorkflowID), zap.Error(err))
		outcome.Warnings = append(outcome.Warnings, model.Warning{
			Code:    model.WarnRefreshFailed,
			Message: "The action was recorded but the view could not be refreshed",
		})
		return
	}
	outcome.Detail = &detail

	history, err := d.backend.History(ctx, rctx, outcome.WorkflowID)
	if err != nil {
		d.logger.Warn("action: post-action history refresh failed",
			zap.String("workflow_id", outcome.WorkflowID), zap.Error(err))
		outcome.Warnings = append(outcome.Warnings, model.Warning{
			Code:    model.WarnRefreshFailed,
			Message: "The action was recorded but the history could not be refreshed",
		})
		return
	}
	outcome.History = history
	outcome.Refreshed = true
}

func (d *Dispatcher) acquire(workflowID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[workflowID]; busy {
		return false
	}
	d.inFlight[workflowID] = struct{}{}
	return true
}

func (d *Dispatcher) release(workflowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, workflowID)
}

func (d *Dispatcher) notify(ctx context.Context, rctx *model.RequestContext, actionID string, req model.ActionRequest, success bool, err error, elapsed time.Duration) {
	if len(d.observers) == 0 {
		return
	}

	event := Event{
		ActionID:   actionID,
		Action:     req.Action,
		WorkflowID: req.WorkflowID,
		Success:    success,
		Duration:   elapsed,
	}
	if rctx != nil {
		event.SubjectID = rctx.SubjectID
		event.TenantID = rctx.TenantID
	}
	if err != nil {
		event.ErrorCode = model.AsEnvelope(err).Code
	}

	for _, obs := range d.observers {
		obs.OnActionDispatched(ctx, event)
	}
}

// hashRequest produces a deterministic hash of the submission for
// idempotency comparison.
func hashRequest(req model.ActionRequest) string {
	data, _ := json.Marshal(req)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
