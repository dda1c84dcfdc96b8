// Package integration provides a reusable test harness for end-to-end
// testing of the approval BFF. It starts a fully wired HTTP server over a
// mock asset-service backend, an in-memory idempotency store, and a test
// JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/action"
	"github.com/upendohq/idhini/internal/assetapi"
	"github.com/upendohq/idhini/internal/config"
	"github.com/upendohq/idhini/internal/lookup"
	"github.com/upendohq/idhini/internal/observability"
	"github.com/upendohq/idhini/internal/transport"
)

// TestHarness encapsulates a fully wired BFF instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Backend          *MockAssetService
	IdempotencyStore *action.MemoryIdempotencyStore
	Lookups          *lookup.TechnicianProvider

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	retryAttempts  int
	lookupTTL      time.Duration
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithRetryAttempts sets the backend read retry budget.
func WithRetryAttempts(n int) HarnessOption {
	return func(c *harnessConfig) { c.retryAttempts = n }
}

// WithLookupTTL sets the technician cache TTL.
func WithLookupTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.lookupTTL = d }
}

// NewTestHarness creates and starts a full BFF test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		retryAttempts:  1,
		lookupTTL:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}
	h.Backend = newMockAssetService(t)
	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.AssetService.BaseURL = h.Backend.URL()
	h.cfg.AssetService.Timeout = 5 * time.Second
	h.cfg.AssetService.Retry.MaxAttempts = hc.retryAttempts
	h.cfg.AssetService.Retry.BackoffInitial = time.Millisecond
	h.cfg.Lookup.CacheTTL = hc.lookupTTL
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Observability.Tracing.Enabled = false

	logger := zap.NewNop()
	client := assetapi.NewClient(h.cfg.AssetService, logger)

	h.IdempotencyStore = action.NewMemoryIdempotencyStore()
	dispatcher := action.NewDispatcher(client, logger,
		action.WithIdempotencyStore(h.IdempotencyStore, 24*time.Hour))

	h.Lookups = lookup.NewTechnicianProvider(client, h.cfg.Lookup.CacheTTL, h.cfg.Lookup.MaxEntries)

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Backend:      client,
		Dispatcher:   dispatcher,
		Lookups:      h.Lookups,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Readiness: observability.ReadinessChecks{
			ContractLoaded: func() bool { return true },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// --- Default test claims ---

// QAClaims returns TestClaims for the QA supervisor who holds the role on
// the default fixture's awaiting step.
func QAClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-qa",
		TenantID:  "acme-corp",
		Email:     "qa@acme.example.com",
		Roles:     []string{"role-qa"},
	}
}

// ViewerClaims returns TestClaims for a user with no role on any step.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		TenantID:  "acme-corp",
		Email:     "viewer@acme.example.com",
		Roles:     []string{"role-spectator"},
	}
}
