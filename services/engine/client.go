package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Franck-F/fairness-sub000/internal/observability"
	"github.com/Franck-F/fairness-sub000/utils"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	OpUpload  = "upload"
	OpCompute = "compute"

	// maxResponseBytes bounds how much of an engine response is read
	maxResponseBytes = 32 << 20
)

// Config holds the engine client settings
type Config struct {
	BaseURL            string
	APIKey             string
	UploadTimeout      time.Duration
	ComputeTimeout     time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	RateLimit          float64 // requests per second, 0 disables limiting
	RateBurst          int
}

// Client calls the external analytics engine. It never retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a new engine client
func NewClient(cfg Config, httpClient *http.Client, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 60 * time.Second
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = 120 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
	}

	maxFailures := cfg.BreakerMaxFailures
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analytics-engine",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// a well-formed rejection means the engine is healthy
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejected(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("engine circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	metrics.BreakerState.WithLabelValues("analytics-engine").Set(float64(gobreaker.StateClosed))

	return c
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

// UploadDataset sends a dataset file and returns the engine handle
func (c *Client) UploadDataset(ctx context.Context, req *UploadRequest) (string, error) {
	if req == nil || len(req.Data) == 0 {
		return "", ErrEmptyUpload
	}

	body, contentType, err := buildMultipart(req)
	if err != nil {
		return "", unavailable(OpUpload, 0, "failed to encode dataset", err)
	}

	var resp uploadResponse
	err = c.call(ctx, OpUpload, c.cfg.UploadTimeout, func(callCtx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/datasets", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		return httpReq, nil
	}, &resp)
	if err != nil {
		return "", err
	}

	handle := strings.TrimSpace(resp.DatasetID)
	if handle == "" {
		return "", unavailable(OpUpload, http.StatusOK, "response is missing dataset_id", nil)
	}
	return handle, nil
}

// Compute requests the fairness computation for uploaded datasets
func (c *Client) Compute(ctx context.Context, req *ComputeRequest) (*ComputeResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("invalid compute request: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, unavailable(OpCompute, 0, "failed to encode request", err)
	}

	var resp ComputeResponse
	err = c.call(ctx, OpCompute, c.cfg.ComputeTimeout, func(callCtx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/fairness/compute", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	if err := validateComputeResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call runs one request through the limiter and the breaker with its own timeout
func (c *Client) call(ctx context.Context, op string, timeout time.Duration, build func(context.Context) (*http.Request, error), out interface{}) error {
	start := time.Now()
	err := c.execute(ctx, op, timeout, build, out)

	outcome := observability.OutcomeSuccess
	switch {
	case IsRejected(err):
		outcome = observability.OutcomeRejected
	case err != nil:
		outcome = observability.OutcomeError
	}
	c.metrics.EngineCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.Warn("engine call failed",
			zap.String("op", op),
			zap.String("request_id", middleware.GetReqID(ctx)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return err
	}

	c.logger.Debug("engine call succeeded",
		zap.String("op", op),
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Client) execute(ctx context.Context, op string, timeout time.Duration, build func(context.Context) (*http.Request, error), out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return unavailable(op, 0, "rate limiter wait aborted", err)
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		httpReq, err := build(callCtx)
		if err != nil {
			return nil, unavailable(op, 0, "failed to build request", err)
		}
		c.setHeaders(ctx, httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, unavailable(op, 0, fmt.Sprintf("timed out after %s", timeout), err)
			}
			return nil, unavailable(op, 0, "engine unreachable", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, unavailable(op, resp.StatusCode, "failed to read response", err)
		}

		return nil, decodeResponse(op, resp.StatusCode, data, out)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return unavailable(op, 0, "circuit breaker open", err)
	}
	return err
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}
}

// decodeResponse classifies a response and decodes a 2xx body into out
func decodeResponse(op string, status int, data []byte, out interface{}) error {
	switch {
	case status >= 200 && status < 300:
		if err := json.Unmarshal(data, out); err != nil {
			return unavailable(op, status, "malformed response body", err)
		}
		return nil
	case status >= 400 && status < 500:
		if msg, ok := errorMessage(data); ok {
			return rejected(op, status, msg)
		}
		return unavailable(op, status, "engine returned an unreadable error", nil)
	default:
		msg := "engine returned an error"
		if detail, ok := errorMessage(data); ok {
			msg = detail
		}
		return unavailable(op, status, msg, nil)
	}
}

// errorMessage extracts detail, error or message from an engine error body
func errorMessage(data []byte) (string, bool) {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return "", false
	}
	for _, raw := range []json.RawMessage{body.Detail, body.Error, body.Message} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, true
			}
			continue
		}
		// structured detail, e.g. a list of field errors
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err == nil {
			return compact.String(), true
		}
	}
	return "", false
}

func validateComputeResponse(resp *ComputeResponse) error {
	if resp.OverallScore == nil {
		return unavailable(OpCompute, http.StatusOK, "response is missing overall_score", nil)
	}
	if score := *resp.OverallScore; score < 0 || score > 100 {
		return unavailable(OpCompute, http.StatusOK, fmt.Sprintf("overall_score %.2f out of range", score), nil)
	}
	if resp.MetricsByAttribute == nil {
		return unavailable(OpCompute, http.StatusOK, "response is missing metrics_by_attribute", nil)
	}
	return nil
}

func buildMultipart(req *UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "dataset"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}

	name := req.Name
	if name == "" {
		name = filename
	}
	if err := w.WriteField("name", name); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
