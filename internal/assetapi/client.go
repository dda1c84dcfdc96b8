// Package assetapi is the typed client for the authoritative asset-service
// backend. Every response is unwrapped from the standard
// {success, data, message} envelope, and raw approval rows are normalized
// into canonical records here and only here.
package assetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/config"
	"github.com/upendohq/idhini/model"
)

// Backend operation identifiers, shared with the OpenAPI contract check.
const (
	OpWorkflowDetail     = "getWorkflowDetail"
	OpWorkflowHistory    = "getWorkflowHistory"
	OpListTechnicians    = "listTechnicians"
	OpSubmitAction       = "submitWorkflowAction"
	OpUpdateAssignment   = "updateWorkflowAssignment"
	maxResponseBodyBytes = 10 << 20
)

// RequiredOperations lists every backend operation this client invokes.
// Startup verifies each one against the asset-service OpenAPI document.
func RequiredOperations() []string {
	return []string{
		OpWorkflowDetail,
		OpWorkflowHistory,
		OpListTechnicians,
		OpSubmitAction,
		OpUpdateAssignment,
	}
}

// MetricsObserver receives backend call outcomes. A nil observer is valid.
type MetricsObserver interface {
	ObserveBackendRequest(operation string, status int, elapsed time.Duration)
	SetBreakerState(state string)
}

// Client implements model.AssetService over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
	retry   config.RetryConfig
	logger  *zap.Logger
	metrics MetricsObserver
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithMetrics attaches a metrics observer.
func WithMetrics(m MetricsObserver) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates an asset-service client with a circuit breaker and
// bounded retry for idempotent reads.
func NewClient(cfg config.AssetServiceConfig, logger *zap.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		retry:  cfg.Retry,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the wire format every asset-service endpoint answers with.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// detailPayload is the data shape of the workflow detail endpoint. The
// backend names the step collection "approvalLevels"; older releases used
// "steps". Rows stay raw until decodeStepRecords collapses the historical
// key spellings.
type detailPayload struct {
	Header         model.WorkflowHeader `json:"header"`
	ApprovalLevels []json.RawMessage    `json:"approvalLevels"`
	Steps          []json.RawMessage    `json:"steps"`
}

func (p detailPayload) stepRows() []json.RawMessage {
	if len(p.ApprovalLevels) > 0 {
		return p.ApprovalLevels
	}
	return p.Steps
}

// Detail fetches the workflow header and its canonical step records.
func (c *Client) Detail(ctx context.Context, rctx *model.RequestContext, workflowID string) (model.WorkflowDetail, error) {
	env, err := c.get(ctx, rctx, OpWorkflowDetail,
		"/api/v1/workflows/"+url.PathEscape(workflowID), nil)
	if err != nil {
		return model.WorkflowDetail{}, err
	}

	var payload detailPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return model.WorkflowDetail{}, fmt.Errorf("assetapi: decode workflow detail: %w", err)
	}
	return model.WorkflowDetail{
		Header: payload.Header,
		Steps:  decodeStepRecords(payload.stepRows()),
	}, nil
}

// History fetches the audit trail for a workflow.
func (c *Client) History(ctx context.Context, rctx *model.RequestContext, workflowID string) ([]model.HistoryRecord, error) {
	env, err := c.get(ctx, rctx, OpWorkflowHistory,
		"/api/v1/workflows/"+url.PathEscape(workflowID)+"/history", nil)
	if err != nil {
		return nil, err
	}

	var records []model.HistoryRecord
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, fmt.Errorf("assetapi: decode workflow history: %w", err)
	}
	return records, nil
}

// Technicians fetches the technicians eligible for the given asset type.
func (c *Client) Technicians(ctx context.Context, rctx *model.RequestContext, assetTypeID string) ([]model.Technician, error) {
	query := url.Values{}
	if assetTypeID != "" {
		query.Set("asset_type_id", assetTypeID)
	}
	env, err := c.get(ctx, rctx, OpListTechnicians, "/api/v1/technicians", query)
	if err != nil {
		return nil, err
	}

	var technicians []model.Technician
	if err := json.Unmarshal(env.Data, &technicians); err != nil {
		return nil, fmt.Errorf("assetapi: decode technicians: %w", err)
	}
	return technicians, nil
}

// SubmitAction posts one approve or reject action. A success=false envelope
// is a business rejection and comes back as a non-error ActionAck so the
// dispatcher can surface the backend message verbatim.
func (c *Client) SubmitAction(ctx context.Context, rctx *model.RequestContext, req model.ActionRequest) (model.ActionAck, error) {
	extra := http.Header{}
	if req.IdempotencyKey != "" {
		extra.Set("X-Idempotency-Key", req.IdempotencyKey)
	}
	env, err := c.write(ctx, rctx, OpSubmitAction, http.MethodPost,
		"/api/v1/workflows/"+url.PathEscape(req.WorkflowID)+"/actions", req, extra)
	if err != nil {
		return model.ActionAck{}, err
	}
	return model.ActionAck{Success: env.Success, Message: env.Message}, nil
}

// UpdateAssignment reassigns the workflow's technician or vendor.
func (c *Client) UpdateAssignment(ctx context.Context, rctx *model.RequestContext, workflowID string, upd model.AssignmentUpdate) (model.ActionAck, error) {
	env, err := c.write(ctx, rctx, OpUpdateAssignment, http.MethodPut,
		"/api/v1/workflows/"+url.PathEscape(workflowID)+"/assignment", upd, nil)
	if err != nil {
		return model.ActionAck{}, err
	}
	return model.ActionAck{Success: env.Success, Message: env.Message}, nil
}

// get performs an idempotent read with bounded retry. A success=false
// envelope on a read is surfaced as a backend rejection.
func (c *Client) get(ctx context.Context, rctx *model.RequestContext, operation, path string, query url.Values) (*envelope, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		env, retryable, err := c.executeOnce(ctx, rctx, operation, http.MethodGet, reqURL, nil, nil)
		if err == nil {
			if !env.Success {
				return nil, model.NewBackendRejectedError(env.Message)
			}
			return env, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Debug("assetapi: retrying read",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// write performs a non-idempotent mutation. Exactly one request leaves per
// call; no retry.
func (c *Client) write(ctx context.Context, rctx *model.RequestContext, operation, method, path string, body any, extra http.Header) (*envelope, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("assetapi: marshal %s body: %w", operation, err)
	}
	env, _, err := c.executeOnce(ctx, rctx, operation, method, c.baseURL+path, bodyBytes, extra)
	return env, err
}

// executeOnce performs a single HTTP exchange with circuit breaker
// protection. The second return reports whether a retry is worthwhile.
func (c *Client) executeOnce(ctx context.Context, rctx *model.RequestContext, operation, method, reqURL string, bodyBytes []byte, extra http.Header) (*envelope, bool, error) {
	if err := c.breaker.Allow(); err != nil {
		c.observeBreaker()
		return nil, false, model.NewBackendUnavailableError()
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, false, fmt.Errorf("assetapi: build request: %w", err)
	}
	c.setHeaders(ctx, req, rctx, method, extra)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.observeBreaker()
		c.observe(operation, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, false, model.NewBackendTimeoutError()
		}
		if isConnectionError(err) {
			c.logger.Warn("assetapi: connection failure",
				zap.String("operation", operation), zap.Error(err))
		}
		return nil, true, model.NewBackendUnavailableError()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		c.breaker.RecordFailure()
		c.observe(operation, resp.StatusCode, time.Since(start))
		return nil, true, fmt.Errorf("assetapi: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	c.observeBreaker()
	c.observe(operation, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode >= 500:
		return nil, true, model.NewBackendUnavailableError()
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, model.NewNotFoundError("workflow not found")
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, false, model.NewForbiddenError("asset service refused the caller's credentials")
	case resp.StatusCode >= 400:
		return nil, false, model.NewBackendRejectedError(messageFrom(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, false, fmt.Errorf("assetapi: decode %s envelope: %w", operation, err)
	}
	return &env, false, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, rctx *model.RequestContext, method string, extra http.Header) {
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx != nil {
		if rctx.BearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+sanitizeHeader(rctx.BearerToken))
		}
		req.Header.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(sanitizeHeader(k), sanitizeHeader(v))
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

func (c *Client) backoff(attempt int) time.Duration {
	initial := c.retry.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	max := c.retry.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	return delay
}

func (c *Client) observe(operation string, status int, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveBackendRequest(operation, status, elapsed)
	}
}

func (c *Client) observeBreaker() {
	if c.metrics != nil {
		c.metrics.SetBreakerState(c.breaker.State().String())
	}
}

// messageFrom digs a human-readable message out of a non-2xx body.
func messageFrom(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return ""
}

// sanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
