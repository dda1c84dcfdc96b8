package integration

import (
	"testing"

	"github.com/upendohq/idhini/model"
)

func TestDetail_retriedThenUnavailable(t *testing.T) {
	h := NewTestHarness(t, WithRetryAttempts(3))
	h.Backend.SetDetailStatus(500)

	resp := h.GET("/ui/approvals/wf-100", h.GenerateToken(QAClaims()))
	h.AssertStatus(t, resp, 502)

	var result errorResult
	h.ParseJSON(resp, &result)
	if result.Error.Code != model.ErrBackendUnavailable {
		t.Errorf("code = %q", result.Error.Code)
	}

	// Reads are retried up to the configured budget.
	if h.Backend.DetailCalls != 3 {
		t.Errorf("detail calls = %d, want 3", h.Backend.DetailCalls)
	}
}

func TestApprove_refreshFailureDegrades(t *testing.T) {
	h := NewTestHarness(t)
	// First detail read feeds the snapshot, the refresh read after the
	// submission fails.
	h.Backend.SetDetailFailAfter(1)

	resp := h.POST("/ui/approvals/wf-100/approve",
		map[string]string{"comments": "ok"}, h.GenerateToken(QAClaims()))
	h.AssertStatus(t, resp, 200)

	var result actionResult
	h.ParseJSON(resp, &result)

	// The action itself landed on the backend.
	if h.Backend.ActionCalls != 1 {
		t.Errorf("action calls = %d, want 1", h.Backend.ActionCalls)
	}
	if result.Refreshed {
		t.Error("refreshed = true despite the failed re-read")
	}

	var found bool
	for _, w := range result.Warnings {
		if w.Code == model.WarnRefreshFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %+v, want %s", result.Warnings, model.WarnRefreshFailed)
	}
}

func TestApprove_staleStepConflict(t *testing.T) {
	h := NewTestHarness(t)

	// The client still holds step-a, but the awaiting step is step-b.
	resp := h.POST("/ui/approvals/wf-100/approve",
		map[string]string{"comments": "ok", "step_id": "step-a"}, h.GenerateToken(QAClaims()))
	h.AssertStatus(t, resp, 409)

	var result errorResult
	h.ParseJSON(resp, &result)
	if result.Error.Code != model.ErrConflict {
		t.Errorf("code = %q", result.Error.Code)
	}
	if h.Backend.ActionCalls != 0 {
		t.Error("stale submission must never reach the backend")
	}
}

func TestApprove_closedWorkflow(t *testing.T) {
	h := NewTestHarness(t)
	detail := DefaultWorkflowFixture()
	header := detail["header"].(map[string]any)
	header["status"] = "CO"
	h.Backend.SetDetail(detail)

	resp := h.POST("/ui/approvals/wf-100/approve",
		map[string]string{"comments": "ok"}, h.GenerateToken(QAClaims()))
	h.AssertStatus(t, resp, 409)

	var result errorResult
	h.ParseJSON(resp, &result)
	if result.Error.Code != model.ErrWorkflowClosed {
		t.Errorf("code = %q", result.Error.Code)
	}
}

func TestDetail_writesNeverRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetryAttempts(3))
	h.Backend.RejectActions("duplicate action")

	resp := h.POST("/ui/approvals/wf-100/approve",
		map[string]string{"comments": "ok"}, h.GenerateToken(QAClaims()))
	h.AssertStatus(t, resp, 422)
	resp.Body.Close()

	if h.Backend.ActionCalls != 1 {
		t.Errorf("action calls = %d, want exactly 1 (writes are never retried)", h.Backend.ActionCalls)
	}
}
