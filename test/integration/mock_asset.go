package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// MockAssetService simulates the asset-service backend over HTTP, speaking
// the {success, data, message} envelope. Responses are configurable per
// endpoint and every received request is recorded for assertion.
type MockAssetService struct {
	t      *testing.T
	server *httptest.Server

	mu              sync.Mutex
	detail          map[string]any
	detailStatus    int
	detailFailAfter int
	history         []map[string]any
	historyFail     bool
	technicians     []map[string]any
	actionAccept    bool
	actionMsg       string
	actionDelay     time.Duration

	DetailCalls      int
	HistoryCalls     int
	TechnicianCalls  int
	ActionCalls      int
	AssignmentCalls  int
	LastActionBody   map[string]any
	LastActionHeader http.Header
	LastAssignment   map[string]any
}

// newMockAssetService starts a mock backend with a sensible default fixture.
func newMockAssetService(t *testing.T) *MockAssetService {
	t.Helper()

	m := &MockAssetService{
		t:            t,
		detail:       DefaultWorkflowFixture(),
		history:      []map[string]any{},
		technicians:  []map[string]any{},
		actionAccept: true,
	}

	mux := chi.NewRouter()
	mux.Get("/api/v1/workflows/{id}", m.handleDetail)
	mux.Get("/api/v1/workflows/{id}/history", m.handleHistory)
	mux.Get("/api/v1/technicians", m.handleTechnicians)
	mux.Post("/api/v1/workflows/{id}/actions", m.handleAction)
	mux.Put("/api/v1/workflows/{id}/assignment", m.handleAssignment)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the mock server's base URL.
func (m *MockAssetService) URL() string { return m.server.URL }

// SetDetail replaces the workflow detail fixture.
func (m *MockAssetService) SetDetail(detail map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detail = detail
}

// SetDetailStatus forces the detail endpoint to answer with an HTTP status.
// Zero restores normal behavior.
func (m *MockAssetService) SetDetailStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailStatus = status
}

// SetDetailFailAfter makes the detail endpoint answer 500 once more than n
// calls have been served. Zero disables the behavior.
func (m *MockAssetService) SetDetailFailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailFailAfter = n
}

// SetHistory replaces the history fixture.
func (m *MockAssetService) SetHistory(records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = records
}

// FailHistory makes the history endpoint answer 500.
func (m *MockAssetService) FailHistory(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyFail = fail
}

// SetTechnicians replaces the technician pool fixture.
func (m *MockAssetService) SetTechnicians(technicians []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.technicians = technicians
}

// RejectActions makes the action endpoint answer success=false with the
// given message.
func (m *MockAssetService) RejectActions(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionAccept = false
	m.actionMsg = message
}

func (m *MockAssetService) handleDetail(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.DetailCalls++
	status := m.detailStatus
	if m.detailFailAfter > 0 && m.DetailCalls > m.detailFailAfter {
		status = http.StatusInternalServerError
	}
	detail := m.detail
	m.mu.Unlock()

	if status != 0 {
		writeEnvelopeStatus(w, status, false, nil, "workflow unavailable")
		return
	}
	writeEnvelope(w, true, detail, "")
}

func (m *MockAssetService) handleHistory(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.HistoryCalls++
	fail := m.historyFail
	history := m.history
	m.mu.Unlock()

	if fail {
		writeEnvelopeStatus(w, http.StatusInternalServerError, false, nil, "history store down")
		return
	}
	writeEnvelope(w, true, history, "")
}

func (m *MockAssetService) handleTechnicians(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TechnicianCalls++
	technicians := m.technicians
	m.mu.Unlock()

	writeEnvelope(w, true, technicians, "")
}

func (m *MockAssetService) handleAction(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	m.ActionCalls++
	m.LastActionBody = body
	m.LastActionHeader = r.Header.Clone()
	accept := m.actionAccept
	msg := m.actionMsg
	delay := m.actionDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	writeEnvelope(w, accept, nil, msg)
}

func (m *MockAssetService) handleAssignment(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	m.AssignmentCalls++
	m.LastAssignment = body
	m.mu.Unlock()

	writeEnvelope(w, true, nil, "assignment recorded")
}

func writeEnvelope(w http.ResponseWriter, success bool, data any, message string) {
	writeEnvelopeStatus(w, http.StatusOK, success, data, message)
}

func writeEnvelopeStatus(w http.ResponseWriter, status int, success bool, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"data":    data,
		"message": message,
	})
}

// DefaultWorkflowFixture returns an open two-step workflow awaiting the
// role-qa step. The step rows deliberately use the backend's historical key
// spellings to exercise boundary decoding end to end.
func DefaultWorkflowFixture() map[string]any {
	return map[string]any{
		"header": map[string]any{
			"id":               "wf-100",
			"subject_id":       "asset-7",
			"asset_type_id":    "at-crane",
			"status":           "AP",
			"maintenance_mode": "in_house",
			"created_by":       "j.otieno",
			"created_at":       "2026-03-14T09:30:00Z",
			"technician":       map[string]any{"id": "tech-1", "name": "A. Kamau"},
		},
		"approvalLevels": []map[string]any{
			{
				"wfaiisd_id":     "step-a",
				"approval_level": "1",
				"role_id":        "role-lead",
				"role_name":      "Team Lead",
				"status":         "UA",
				"action_date":    "2026-03-15 08:00:00",
				"remarks":        "checked",
			},
			{
				"step_id": "step-b",
				"level":   2,
				"role_id": "role-qa",
				"role":    "QA Supervisor",
				"status":  "AP",
			},
		},
	}
}

// TechnicianFixture returns one technician row in backend form.
func TechnicianFixture(id, name string, active bool) map[string]any {
	return map[string]any{"id": id, "name": name, "active": active}
}

// HistoryFixture returns one audit record in backend form.
func HistoryFixture(id, action, actor string) map[string]any {
	return map[string]any{
		"id":         id,
		"action":     action,
		"actor_name": actor,
		"timestamp":  "2026-03-15T08:00:00Z",
	}
}
