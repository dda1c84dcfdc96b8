package action

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/upendohq/idhini/model"
)

// mockBackend is a hand-rolled AssetService with call counters and
// programmable failures.
type mockBackend struct {
	detailCalls atomic.Int32
	historyCall atomic.Int32
	submitCalls atomic.Int32

	submitAck   model.ActionAck
	submitErr   error
	detailErr   error
	historyErr  error
	submitDelay time.Duration

	detail  model.WorkflowDetail
	history []model.HistoryRecord
}

func (m *mockBackend) Detail(ctx context.Context, rctx *model.RequestContext, workflowID string) (model.WorkflowDetail, error) {
	m.detailCalls.Add(1)
	if m.detailErr != nil {
		return model.WorkflowDetail{}, m.detailErr
	}
	return m.detail, nil
}

func (m *mockBackend) History(ctx context.Context, rctx *model.RequestContext, workflowID string) ([]model.HistoryRecord, error) {
	m.historyCall.Add(1)
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history, nil
}

func (m *mockBackend) Technicians(ctx context.Context, rctx *model.RequestContext, assetTypeID string) ([]model.Technician, error) {
	return nil, nil
}

func (m *mockBackend) SubmitAction(ctx context.Context, rctx *model.RequestContext, req model.ActionRequest) (model.ActionAck, error) {
	m.submitCalls.Add(1)
	if m.submitDelay > 0 {
		time.Sleep(m.submitDelay)
	}
	if m.submitErr != nil {
		return model.ActionAck{}, m.submitErr
	}
	return m.submitAck, nil
}

func (m *mockBackend) UpdateAssignment(ctx context.Context, rctx *model.RequestContext, workflowID string, upd model.AssignmentUpdate) (model.ActionAck, error) {
	return model.ActionAck{Success: true}, nil
}

func okBackend() *mockBackend {
	return &mockBackend{
		submitAck: model.ActionAck{Success: true},
		detail: model.WorkflowDetail{
			Header: model.WorkflowHeader{ID: "wf-1", Status: model.HeaderStatusInProgress},
		},
		history: []model.HistoryRecord{{ID: "h1", Action: "APPROVE"}},
	}
}

func actorContext() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-1",
		TenantID:  "tenant-1",
		Roles:     []string{"R1"},
	}
}

func openSnapshot() Snapshot {
	return Snapshot{
		Header: model.WorkflowHeader{
			ID:     "wf-1",
			Status: model.HeaderStatusAwaiting,
		},
		Steps: []model.StepRecord{
			{ID: "s1", Sequence: 1, RoleID: "R1", RoleName: "Manager", Status: model.RawStepAwaiting},
			{ID: "s2", Sequence: 2, RoleID: "R2", RoleName: "Director", Status: ""},
		},
	}
}

func approveRequest() model.ActionRequest {
	return model.ActionRequest{
		Action:     model.ActionApprove,
		WorkflowID: "wf-1",
		Comments:   "Looks good",
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	return model.AsEnvelope(err).Code
}

func TestDispatch_exactlyOneSubmitThenOneRefetchPair(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop())

	outcome, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if got := backend.submitCalls.Load(); got != 1 {
		t.Errorf("submit calls = %d, want exactly 1", got)
	}
	if got := backend.detailCalls.Load(); got != 1 {
		t.Errorf("detail calls = %d, want exactly 1", got)
	}
	if got := backend.historyCall.Load(); got != 1 {
		t.Errorf("history calls = %d, want exactly 1", got)
	}
	if !outcome.Refreshed {
		t.Error("expected Refreshed == true")
	}
	if outcome.StepID != "s1" {
		t.Errorf("StepID = %q, want the first awaiting record", outcome.StepID)
	}
	if outcome.Detail == nil || len(outcome.History) != 1 {
		t.Error("expected refreshed detail and history in the outcome")
	}
}

func TestDispatch_validationFailuresNeverReachBackend(t *testing.T) {
	tests := []struct {
		name     string
		rctx     *model.RequestContext
		snapshot func() Snapshot
		req      func() model.ActionRequest
		wantCode string
	}{
		{
			name: "empty comments",
			rctx: actorContext(), snapshot: openSnapshot,
			req: func() model.ActionRequest {
				r := approveRequest()
				r.Comments = "   "
				return r
			},
			wantCode: model.ErrValidationError,
		},
		{
			name: "closed workflow",
			rctx: actorContext(),
			snapshot: func() Snapshot {
				s := openSnapshot()
				s.Header.Status = model.HeaderStatusCompleted
				return s
			},
			req:      approveRequest,
			wantCode: model.ErrWorkflowClosed,
		},
		{
			name: "cancelled workflow",
			rctx: actorContext(),
			snapshot: func() Snapshot {
				s := openSnapshot()
				s.Header.Status = model.HeaderStatusCancelled
				return s
			},
			req:      approveRequest,
			wantCode: model.ErrWorkflowClosed,
		},
		{
			name: "role not held",
			rctx: &model.RequestContext{SubjectID: "user-2", TenantID: "tenant-1", Roles: []string{"R9"}},
			snapshot: openSnapshot,
			req:      approveRequest,
			wantCode: model.ErrStepUnauthorized,
		},
		{
			name: "no pending step",
			rctx: actorContext(),
			snapshot: func() Snapshot {
				s := openSnapshot()
				s.Steps = []model.StepRecord{
					{ID: "s1", Sequence: 1, RoleID: "R1", RoleName: "Manager", Status: model.RawStepApproved},
				}
				return s
			},
			req:      approveRequest,
			wantCode: model.ErrNoPendingStep,
		},
		{
			name: "in-house approve without technician",
			rctx: actorContext(),
			snapshot: func() Snapshot {
				s := openSnapshot()
				s.Header.MaintenanceMode = model.MaintenanceInHouse
				return s
			},
			req:      approveRequest,
			wantCode: model.ErrTechnicianRequired,
		},
		{
			name: "vendor approve with eligible pool and no selection",
			rctx: actorContext(),
			snapshot: func() Snapshot {
				s := openSnapshot()
				s.Header.MaintenanceMode = model.MaintenanceVendor
				s.Technicians = []model.Technician{{ID: "t1", Name: "A. Wanjiru", Active: true}}
				return s
			},
			req:      approveRequest,
			wantCode: model.ErrTechnicianRequired,
		},
		{
			name: "inactive vendor blocks approve",
			rctx: actorContext(),
			snapshot: func() Snapshot {
				s := openSnapshot()
				s.Header.Vendor = &model.Vendor{ID: "v1", Name: "Acme Repairs", Active: false}
				return s
			},
			req:      approveRequest,
			wantCode: model.ErrVendorInactive,
		},
		{
			name: "stale step target",
			rctx: actorContext(), snapshot: openSnapshot,
			req: func() model.ActionRequest {
				r := approveRequest()
				r.StepID = "s2"
				return r
			},
			wantCode: model.ErrConflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := okBackend()
			d := NewDispatcher(backend, zap.NewNop())

			_, err := d.Dispatch(context.Background(), tc.rctx, tc.snapshot(), tc.req())
			if got := errCode(t, err); got != tc.wantCode {
				t.Errorf("code = %q, want %q", got, tc.wantCode)
			}
			if got := backend.submitCalls.Load(); got != 0 {
				t.Errorf("submit calls = %d, want 0 on validation failure", got)
			}
			if got := backend.detailCalls.Load(); got != 0 {
				t.Errorf("detail calls = %d, want 0 on validation failure", got)
			}
		})
	}
}

func TestDispatch_inactiveVendorAllowsReject(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop())

	snapshot := openSnapshot()
	snapshot.Header.Vendor = &model.Vendor{ID: "v1", Name: "Acme Repairs", Active: false}
	req := approveRequest()
	req.Action = model.ActionReject

	if _, err := d.Dispatch(context.Background(), actorContext(), snapshot, req); err != nil {
		t.Fatalf("reject with inactive vendor: %v", err)
	}
}

func TestDispatch_assignedTechnicianSatisfiesRequirement(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop())

	snapshot := openSnapshot()
	snapshot.Header.MaintenanceMode = model.MaintenanceInHouse
	snapshot.Header.Technician = &model.Assignee{ID: "t1", Name: "A. Wanjiru"}

	if _, err := d.Dispatch(context.Background(), actorContext(), snapshot, approveRequest()); err != nil {
		t.Fatalf("approve with assigned technician: %v", err)
	}
}

func TestDispatch_selectedTechnicianSatisfiesRequirement(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop())

	snapshot := openSnapshot()
	snapshot.Header.MaintenanceMode = model.MaintenanceInHouse
	req := approveRequest()
	req.TechnicianID = "t1"

	if _, err := d.Dispatch(context.Background(), actorContext(), snapshot, req); err != nil {
		t.Fatalf("approve with selected technician: %v", err)
	}
}

func TestDispatch_vendorModeWithEmptyPoolSkipsRequirement(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop())

	snapshot := openSnapshot()
	snapshot.Header.MaintenanceMode = model.MaintenanceVendor
	snapshot.Technicians = nil

	if _, err := d.Dispatch(context.Background(), actorContext(), snapshot, approveRequest()); err != nil {
		t.Fatalf("vendor approve with empty pool: %v", err)
	}
}

func TestDispatch_backendRejectionSurfacesMessageVerbatim(t *testing.T) {
	backend := okBackend()
	backend.submitAck = model.ActionAck{Success: false, Message: "Step already actioned by another approver"}
	d := NewDispatcher(backend, zap.NewNop())

	_, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
	env := model.AsEnvelope(err)
	if env.Code != model.ErrBackendRejected {
		t.Errorf("code = %q", env.Code)
	}
	if env.Message != "Step already actioned by another approver" {
		t.Errorf("message = %q, want the backend message verbatim", env.Message)
	}
	if got := backend.detailCalls.Load(); got != 0 {
		t.Errorf("detail calls = %d, want no refetch after rejection", got)
	}
}

func TestDispatch_backendRejectionFallbackMessage(t *testing.T) {
	backend := okBackend()
	backend.submitAck = model.ActionAck{Success: false}
	d := NewDispatcher(backend, zap.NewNop())

	_, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
	env := model.AsEnvelope(err)
	if env.Code != model.ErrBackendRejected || env.Message == "" {
		t.Errorf("envelope = %+v, want a generic fallback message", env)
	}
}

func TestDispatch_transportFailurePassesThrough(t *testing.T) {
	backend := okBackend()
	backend.submitErr = model.NewBackendUnavailableError()
	d := NewDispatcher(backend, zap.NewNop())

	_, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
	if got := errCode(t, err); got != model.ErrBackendUnavailable {
		t.Errorf("code = %q, want BACKEND_UNAVAILABLE", got)
	}
}

func TestDispatch_refetchFailureDegrades(t *testing.T) {
	backend := okBackend()
	backend.detailErr = model.NewBackendUnavailableError()
	d := NewDispatcher(backend, zap.NewNop())

	outcome, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
	if err != nil {
		t.Fatalf("Dispatch must not fail when only the refetch fails: %v", err)
	}
	if outcome.Refreshed {
		t.Error("expected Refreshed == false")
	}
	if len(outcome.Warnings) != 1 || outcome.Warnings[0].Code != model.WarnRefreshFailed {
		t.Errorf("warnings = %+v, want REFRESH_FAILED", outcome.Warnings)
	}
}

func TestDispatch_historyRefetchFailureDegrades(t *testing.T) {
	backend := okBackend()
	backend.historyErr = model.NewBackendTimeoutError()
	d := NewDispatcher(backend, zap.NewNop())

	outcome, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Refreshed {
		t.Error("expected Refreshed == false when history refetch fails")
	}
	if outcome.Detail == nil {
		t.Error("expected the refreshed detail to be kept")
	}
}

func TestDispatch_cancelledContextAbandonsRefetch(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	backend.submitDelay = 5 * time.Millisecond
	go func() {
		time.Sleep(time.Millisecond)
		cancel()
	}()

	outcome, err := d.Dispatch(ctx, actorContext(), openSnapshot(), approveRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Refreshed {
		t.Error("expected Refreshed == false after cancellation")
	}
	if got := backend.detailCalls.Load(); got != 0 {
		t.Errorf("detail calls = %d, want the refetch abandoned", got)
	}
}

func TestDispatch_secondConcurrentActionRejected(t *testing.T) {
	backend := okBackend()
	backend.submitDelay = 20 * time.Millisecond
	d := NewDispatcher(backend, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())
		}(i)
	}
	wg.Wait()

	var inFlight, ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case model.AsEnvelope(err).Code == model.ErrActionInFlight:
			inFlight++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || inFlight != 1 {
		t.Errorf("ok = %d, in-flight = %d; want exactly one of each", ok, inFlight)
	}
	if got := backend.submitCalls.Load(); got != 1 {
		t.Errorf("submit calls = %d, want 1", got)
	}
}

func TestDispatch_differentWorkflowsRunIndependently(t *testing.T) {
	backend := okBackend()
	backend.submitDelay = 10 * time.Millisecond
	d := NewDispatcher(backend, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"wf-1", "wf-2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			snapshot := openSnapshot()
			snapshot.Header.ID = id
			req := approveRequest()
			req.WorkflowID = id
			_, errs[i] = d.Dispatch(context.Background(), actorContext(), snapshot, req)
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("workflow %d: %v", i, err)
		}
	}
}

func TestDispatch_idempotentReplayReturnsCachedOutcome(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop(),
		WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Minute))

	req := approveRequest()
	req.IdempotencyKey = "idem-1"

	first, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), req)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if got := backend.submitCalls.Load(); got != 1 {
		t.Errorf("submit calls = %d, want the replay served from cache", got)
	}
	if second.ActionID != first.ActionID {
		t.Errorf("replay ActionID = %q, want the cached %q", second.ActionID, first.ActionID)
	}
}

func TestDispatch_replayAfterChainAdvancedReturnsCachedOutcome(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop(),
		WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Minute))

	req := approveRequest()
	req.IdempotencyKey = "idem-1"

	first, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), req)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	// The client lost the response and retries. By now the backend has
	// applied the action: s1 is approved and the chain awaits a role the
	// caller does not hold. The replay must still return the cached
	// outcome instead of failing validation against the advanced chain.
	advanced := openSnapshot()
	advanced.Steps = []model.StepRecord{
		{ID: "s1", Sequence: 1, RoleID: "R1", RoleName: "Manager", Status: model.RawStepApproved},
		{ID: "s2", Sequence: 2, RoleID: "R2", RoleName: "Director", Status: model.RawStepAwaiting},
	}

	second, err := d.Dispatch(context.Background(), actorContext(), advanced, req)
	if err != nil {
		t.Fatalf("replay against the advanced chain: %v", err)
	}
	if second.ActionID != first.ActionID {
		t.Errorf("replay ActionID = %q, want the cached %q", second.ActionID, first.ActionID)
	}
	if got := backend.submitCalls.Load(); got != 1 {
		t.Errorf("submit calls = %d, want the replay served from cache", got)
	}
}

func TestDispatch_idempotencyKeyReuseWithDifferentInputConflicts(t *testing.T) {
	backend := okBackend()
	d := NewDispatcher(backend, zap.NewNop(),
		WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Minute))

	req := approveRequest()
	req.IdempotencyKey = "idem-1"
	if _, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), req); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	req.Comments = "different note"
	_, err := d.Dispatch(context.Background(), actorContext(), openSnapshot(), req)
	if got := errCode(t, err); got != model.ErrConflict {
		t.Errorf("code = %q, want CONFLICT", got)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnActionDispatched(_ context.Context, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func TestDispatch_observerReceivesOutcome(t *testing.T) {
	backend := okBackend()
	obs := &recordingObserver{}
	d := NewDispatcher(backend, zap.NewNop(), WithObserver(obs))

	d.Dispatch(context.Background(), actorContext(), openSnapshot(), approveRequest())

	req := approveRequest()
	req.Comments = ""
	d.Dispatch(context.Background(), actorContext(), openSnapshot(), req)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.events) != 2 {
		t.Fatalf("events = %d, want 2", len(obs.events))
	}
	if !obs.events[0].Success || obs.events[0].TenantID != "tenant-1" {
		t.Errorf("event 0 = %+v", obs.events[0])
	}
	if obs.events[1].Success || obs.events[1].ErrorCode != model.ErrValidationError {
		t.Errorf("event 1 = %+v", obs.events[1])
	}
}
