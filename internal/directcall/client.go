package directcall

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/metrics"
	"carepipe/pkg/models"
)

const maxResponseBytes = 16 << 20

// Client calls a stage's HTTP operation synchronously. It never retries.
type Client struct {
	http     *http.Client
	services map[string]string
	timeout  time.Duration
}

func NewClient(cfg config.ServicesConfig, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = constants.DefaultCallTimeout
	}
	return &Client{
		http: &http.Client{},
		services: map[string]string{
			constants.ServiceExtraction: cfg.Extraction.BaseURL,
			constants.ServiceScoring:    cfg.Scoring.BaseURL,
			constants.ServicePlanning:   cfg.Planning.BaseURL,
		},
		timeout: timeout,
	}
}

// WithHTTPClient replaces the underlying client, e.g. with an httptest server's.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

// Call posts payload to <service base URL>/<operation>. A zero timeout uses the client default.
// Non-2xx answers and transport failures are CALL_ERROR, an expired deadline is TIMEOUT and a
// stage answering success=false is STAGE_REJECTED.
func (c *Client) Call(ctx context.Context, service, operation string, payload any, timeout time.Duration) (resp models.StageResponse, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveDirectCall(service, operation, start, err)
	}()

	baseURL, ok := c.services[service]
	if !ok || baseURL == "" {
		return models.StageResponse{}, errors.ErrCall.
			WithMessage("no endpoint configured for %s", service).
			AsFatal()
	}

	body, err := codec.Marshal(payload)
	if err != nil {
		return models.StageResponse{}, errors.ErrCall.WithMessage("failed to encode request").WithCause(err)
	}

	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/" + operation
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.StageResponse{}, errors.ErrCall.WithMessage("failed to create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Request-ID", traceID)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return models.StageResponse{}, errors.ErrTimeout.
				WithMessage("%s %s did not answer within %s", service, operation, timeout).
				WithCause(err)
		}
		return models.StageResponse{}, errors.ErrCall.
			WithMessage("%s %s request failed", service, operation).
			WithCause(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return models.StageResponse{}, errors.ErrTimeout.
				WithMessage("%s %s response not read within %s", service, operation, timeout).
				WithCause(err)
		}
		return models.StageResponse{}, errors.ErrCall.WithMessage("failed to read response").WithCause(err)
	}

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return models.StageResponse{}, statusError(service, operation, httpResp.StatusCode, raw)
	}

	if err := codec.Unmarshal(raw, &resp); err != nil {
		return models.StageResponse{}, errors.ErrCall.
			WithMessage("%s %s returned an unreadable body", service, operation).
			WithCause(err)
	}

	if !resp.Success {
		return resp, errors.ErrStageRejected.
			WithMessage("%s %s rejected the request: %s", service, operation, resp.Error).
			WithDetail("error_code", resp.ErrorCode)
	}

	return resp, nil
}

// statusError classifies a non-2xx answer. A 4xx carrying a stage error body
// is a rejection, reported the same way the broker path reports a failed reply.
func statusError(service, operation string, status int, raw []byte) *errors.Error {
	var body models.StageResponse
	decoded := codec.Unmarshal(raw, &body) == nil && !body.Success && body.ErrorCode != ""

	if decoded && status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return errors.ErrStageRejected.
			WithMessage("%s %s rejected the request: %s", service, operation, body.Error).
			WithDetail("error_code", body.ErrorCode).
			WithDetail("status", status)
	}

	err := errors.ErrCall.
		WithMessage("%s %s returned status %d", service, operation, status).
		WithDetail("status", status)
	if decoded {
		return err.WithDetail("error_code", body.ErrorCode).WithDetail("error", body.Error)
	}
	return err.WithDetail("body", truncate(string(raw), 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:n], len(s))
}
