package jobservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/adforge/internal/logger"
)

// Config holds configuration for the external job service client.
type Config struct {
	BaseURL           string
	APIKey            string
	SubmitTimeout     time.Duration
	StreamIdleTimeout time.Duration
}

// Client wraps HTTP calls to the external AI extraction/generation service:
// submit job, poll status, stream status (SSE), fetch result. The client
// performs no retries; retry policy belongs to the caller.
type Client struct {
	rest        *resty.Client
	stream      *http.Client
	baseURL     string
	apiKey      string
	idleTimeout time.Duration
}

// StatusEvent is one normalized event from a task's status stream (or a
// polled status snapshot).
type StatusEvent struct {
	Status string                 `json:"status"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Terminal reports whether the event carries a terminal status.
func (e StatusEvent) Terminal() bool {
	return e.Status == "completed" || e.Status == "failed"
}

// NewClient creates a new job service client.
// Parameters:
//   - cfg: client configuration including base URL, API key, and timeouts.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config) *Client {
	submitTimeout := cfg.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}
	idleTimeout := cfg.StreamIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}

	rest := resty.New()
	rest.SetBaseURL(cfg.BaseURL)
	rest.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		rest.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	rest.SetTimeout(submitTimeout)

	// Streams have no overall timeout; idleness is watched per event instead.
	return &Client{
		rest:        rest,
		stream:      &http.Client{},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		idleTimeout: idleTimeout,
	}
}

type submitConceptRequest struct {
	ImageURL string `json:"image_url"`
	Type     string `json:"type"`
}

type submitConceptResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type submitRecipeRequest struct {
	AdArchiveID string `json:"ad_archive_id"`
	ImageURL    string `json:"image_url"`
	SalesURL    string `json:"sales_url"`
	UserID      string `json:"user_id"`
}

type submitRecipeResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// SubmitConceptExtraction submits an ad concept extraction job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageURL: creative image URL to analyze.
//   - adType: ad creative type hint.
// Returns:
//   - string: external task id issued by the service.
//   - error: ErrUpstreamUnavailable, ErrUpstreamTimeout, or *RejectedError.
func (c *Client) SubmitConceptExtraction(ctx context.Context, imageURL, adType string) (string, error) {
	var resp submitConceptResponse
	httpResp, err := c.rest.R().
		SetContext(ctx).
		SetBody(submitConceptRequest{ImageURL: imageURL, Type: adType}).
		SetResult(&resp).
		Post("/api/v1/extract-ad-concept")
	if err != nil {
		return "", mapTransportError(err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return "", &RejectedError{StatusCode: httpResp.StatusCode(), Body: string(httpResp.Body())}
	}
	if resp.TaskID == "" {
		return "", &RejectedError{StatusCode: httpResp.StatusCode(), Body: "response missing task_id"}
	}
	return resp.TaskID, nil
}

// SubmitRecipeGeneration submits an ad recipe generation job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - adArchiveID: source ad archive id.
//   - imageURL: creative image URL.
//   - salesURL: product sales page URL.
//   - userID: requesting user id.
// Returns:
//   - string: external task id issued by the service.
//   - error: ErrUpstreamUnavailable, ErrUpstreamTimeout, or *RejectedError.
func (c *Client) SubmitRecipeGeneration(ctx context.Context, adArchiveID, imageURL, salesURL, userID string) (string, error) {
	var resp submitRecipeResponse
	httpResp, err := c.rest.R().
		SetContext(ctx).
		SetBody(submitRecipeRequest{
			AdArchiveID: adArchiveID,
			ImageURL:    imageURL,
			SalesURL:    salesURL,
			UserID:      userID,
		}).
		SetResult(&resp).
		Post("/api/v1/generate-ad-recipe")
	if err != nil {
		return "", mapTransportError(err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return "", &RejectedError{StatusCode: httpResp.StatusCode(), Body: string(httpResp.Body())}
	}
	if resp.TaskID == "" {
		return "", &RejectedError{StatusCode: httpResp.StatusCode(), Body: "response missing task_id"}
	}
	return resp.TaskID, nil
}

// FetchStatus polls the current status of a task (fallback to streaming).
func (c *Client) FetchStatus(ctx context.Context, taskID string) (*StatusEvent, error) {
	var ev StatusEvent
	httpResp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&ev).
		Get("/api/v1/tasks/" + taskID + "/status")
	if err != nil {
		return nil, mapTransportError(err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, &RejectedError{StatusCode: httpResp.StatusCode(), Body: string(httpResp.Body())}
	}
	return &ev, nil
}

// FetchResult pulls the final result of a task (reconciliation/polling
// fallback for a missed terminal event).
func (c *Client) FetchResult(ctx context.Context, taskID string) (map[string]interface{}, error) {
	var result map[string]interface{}
	httpResp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/tasks/" + taskID + "/result")
	if err != nil {
		return nil, mapTransportError(err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, &RejectedError{StatusCode: httpResp.StatusCode(), Body: string(httpResp.Body())}
	}
	return result, nil
}

// errStreamDone stops the SSE read loop once a terminal event has been
// delivered to the caller.
var errStreamDone = errors.New("stream done")

// StreamStatus opens the task's SSE status stream and invokes onEvent for
// each decoded event, in receive order. Malformed event payloads are skipped
// without failing the stream. The call returns nil after a terminal event has
// been delivered; if the stream closes, or goes idle past the configured
// threshold, without a terminal event, it returns ErrStreamClosedPrematurely.
// A non-nil onEvent error aborts the stream and is returned as-is.
// Parameters:
//   - ctx: context for cancellation; canceling tears down the connection.
//   - taskID: external task identifier.
//   - onEvent: callback invoked per event.
// Returns:
//   - error: nil on clean terminal close; see above otherwise.
func (c *Client) StreamStatus(ctx context.Context, taskID string, onEvent func(StatusEvent) error) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/api/v1/tasks/"+taskID+"/stream", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	// Idle watchdog: no event within the threshold tears the connection down
	// and the stream is treated as closed prematurely.
	var idleFired atomic.Bool
	watchdog := time.AfterFunc(c.idleTimeout, func() {
		idleFired.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	sawTerminal := false
	err = readSSE(resp.Body, func(_ string, data string) error {
		watchdog.Reset(c.idleTimeout)

		var ev StatusEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			logger.CtxWarn(ctx, "Skipping malformed stream event: task_id=%s, error=%v", taskID, err)
			return nil
		}
		if ev.Status == "" {
			logger.CtxWarn(ctx, "Skipping stream event without status: task_id=%s", taskID)
			return nil
		}
		if err := onEvent(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			sawTerminal = true
			return errStreamDone
		}
		return nil
	})

	switch {
	case errors.Is(err, errStreamDone):
		return nil
	case err != nil:
		if idleFired.Load() {
			return fmt.Errorf("%w: no event for %s", ErrStreamClosedPrematurely, c.idleTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case !sawTerminal:
		if idleFired.Load() {
			return fmt.Errorf("%w: no event for %s", ErrStreamClosedPrematurely, c.idleTimeout)
		}
		return ErrStreamClosedPrematurely
	}
	return nil
}

// mapTransportError classifies a transport-level failure as timeout or
// unavailability.
func mapTransportError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
