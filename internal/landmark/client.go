// Package landmark is the quantitative side of an analysis: it calls the
// pose-landmark service for per-frame joint angles, aggregates them into
// session metrics and classifies those metrics against the exercise's
// criteria template.
//
// The landmark service is an external HTTP process (MediaPipe based). Its
// contract:
//
//	GET  /health          -> {"status": "healthy", ...}
//	POST /analyze-frames  {frames: [{path, timestamp_ms}], exercise_type}
//	                      -> {success, frames: [...], error}
package landmark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/jsonutil"
	"github.com/fpang/biomech-analyzer/internal/metrics"
)

const (
	// EnvServiceURL overrides DefaultServiceURL.
	EnvServiceURL = "LANDMARK_SERVICE_URL"

	// DefaultServiceURL is where the service listens in local setups.
	DefaultServiceURL = "http://localhost:5000"

	healthTimeout  = 3 * time.Second
	analyzeTimeout = 90 * time.Second
)

// ErrUnavailable is returned when the service cannot be reached or reports
// itself unhealthy.
var ErrUnavailable = errors.New("landmark service unavailable")

// Client talks to the landmark service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for baseURL. An empty baseURL uses DefaultServiceURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the service root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --- wire types ---

type frameRef struct {
	Path        string `json:"path"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type analyzeRequest struct {
	Frames       []frameRef `json:"frames"`
	ExerciseType string     `json:"exercise_type"`
}

// FrameAngles holds every angle the service may report for one frame.
// Pointers distinguish "not reported" from 0.
type FrameAngles struct {
	KneeLeft        *float64 `json:"knee_left,omitempty"`
	KneeRight       *float64 `json:"knee_right,omitempty"`
	Hip             *float64 `json:"hip,omitempty"`
	Trunk           *float64 `json:"trunk,omitempty"`
	AnkleLeft       *float64 `json:"ankle_left,omitempty"`
	AnkleRight      *float64 `json:"ankle_right,omitempty"`
	KneeValgusLeft  *float64 `json:"knee_valgus_left,omitempty"`
	KneeValgusRight *float64 `json:"knee_valgus_right,omitempty"`
	PelvicTilt      *float64 `json:"pelvic_tilt,omitempty"`
	BackAngle       *float64 `json:"back_angle,omitempty"`
}

// FrameResult is one frame processed by the service.
type FrameResult struct {
	FrameNumber int         `json:"frame_number"`
	TimestampMs int64       `json:"timestamp_ms"`
	Phase       string      `json:"phase"`
	Confidence  float64     `json:"confidence"`
	Angles      FrameAngles `json:"angles"`
}

// AnalyzeResponse is the body returned by POST /analyze-frames.
type AnalyzeResponse struct {
	Success          bool          `json:"success"`
	Frames           []FrameResult `json:"frames"`
	DurationMs       int64         `json:"duration_ms"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Error            string        `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Health reports whether the service answers GET /health with status "healthy".
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var resp healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("%w: status %q", ErrUnavailable, resp.Status)
	}
	log.Debug().Str("service", resp.Service).Str("version", resp.Version).Msg("Landmark service healthy")
	return nil
}

// AnalyzeFrames sends the frame paths to the service. The paths must be
// readable by the service process.
func (c *Client) AnalyzeFrames(ctx context.Context, frames []analysis.FrameInput, exerciseType string) (*AnalyzeResponse, error) {
	if len(frames) == 0 {
		return nil, errors.New("analyze frames: no frames")
	}
	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	body := analyzeRequest{ExerciseType: exerciseType, Frames: make([]frameRef, len(frames))}
	for i, f := range frames {
		body.Frames[i] = frameRef{Path: f.Path, TimestampMs: int64(f.TimestampSeconds * 1000)}
	}

	start := time.Now()
	var resp AnalyzeResponse
	err := c.do(ctx, http.MethodPost, "/analyze-frames", body, &resp)

	rec := metrics.New().Dimension("Operation", "landmark").Since("LandmarkLatencyMs", start)
	if err != nil {
		rec.Count("LandmarkFailures").Flush()
		return nil, fmt.Errorf("analyze frames: %w", err)
	}
	if !resp.Success {
		rec.Count("LandmarkFailures").Flush()
		return nil, fmt.Errorf("analyze frames: service reported failure: %s", resp.Error)
	}
	rec.Metric("LandmarkFrames", float64(len(resp.Frames)), metrics.UnitCount).Flush()

	log.Info().
		Int("requested", len(frames)).
		Int("processed", len(resp.Frames)).
		Int64("serviceMs", resp.ProcessingTimeMs).
		Msg("Landmark analysis complete")
	return &resp, nil
}

// do sends a JSON request and decodes a JSON response. Error bodies from the
// service are JSON too ({"success": false, "error": ...}) and are decoded
// into out before the status check so callers can surface the message.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	log.Debug().Str("method", method).Str("path", path).Msg("Landmark service request")
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()
	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", time.Since(start)).Msg("Landmark service response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response (status %d): %w (body: %s)", httpResp.StatusCode, err, jsonutil.Preview(string(body), 200))
	}
	if httpResp.StatusCode >= 300 {
		if r, ok := out.(*AnalyzeResponse); ok && r.Error != "" {
			return fmt.Errorf("status %d: %s", httpResp.StatusCode, r.Error)
		}
		return fmt.Errorf("status %d", httpResp.StatusCode)
	}
	return nil
}
