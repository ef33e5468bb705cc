// Package measure reads joint angles from a single frame image by asking a
// vision-capable model, and decodes its loosely structured answer.
package measure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/assets"
	"github.com/fpang/biomech-analyzer/internal/frames"
	"github.com/fpang/biomech-analyzer/internal/gemini"
	"github.com/fpang/biomech-analyzer/internal/metrics"
	"github.com/fpang/biomech-analyzer/internal/retry"
)

var (
	// ErrMeasurementFailed is returned when every attempt produced no usable angles.
	ErrMeasurementFailed = errors.New("frame measurement failed")

	// ErrCapabilityUnavailable is returned when the vision model cannot be
	// reached at all. It is fatal to the qualitative pipeline.
	ErrCapabilityUnavailable = errors.New("frame measurement capability unavailable")
)

// Defaults for the measurement call.
const (
	MaxAttempts    = 2
	DefaultTimeout = 30 * time.Second
	MaxImageEdge   = 1280
)

// Generator is the model capability used by Client. *gemini.Client implements it.
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// Measurement is the decoded angle reading for one frame.
type Measurement struct {
	Angles       analysis.Angles
	Score        float64
	Confidence   float64
	Phase        analysis.Phase
	Observations []string
	Attempts     int
}

// Client measures frames through a Generator.
type Client struct {
	gen     Generator
	timeout time.Duration
	backoff time.Duration
	readImg func(path string) ([]byte, string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds a whole measurement, retries included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBackoff sets the pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithImageReader replaces how frame images are loaded (tests, S3-backed frames).
func WithImageReader(fn func(path string) ([]byte, string, error)) Option {
	return func(c *Client) { c.readImg = fn }
}

// NewClient creates a measurement client.
func NewClient(gen Generator, opts ...Option) *Client {
	c := &Client{
		gen:     gen,
		timeout: DefaultTimeout,
		backoff: 500 * time.Millisecond,
		readImg: readFrameImage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Measure reads the joint angles in the frame at imagePath. frameIndex is
// 1-based. The call is retried once when the model errors or returns no
// usable angle; after that the error wraps ErrMeasurementFailed, or
// ErrCapabilityUnavailable when the model could not be reached.
func (c *Client) Measure(ctx context.Context, imagePath string, frameIndex, totalFrames int) (*Measurement, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, mimeType, err := c.readImg(imagePath)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w: read image: %w", frameIndex, ErrMeasurementFailed, err)
	}

	view := newPromptView(frameIndex, totalFrames)
	prompt, err := assets.RenderMeasureFramePrompt(view)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", frameIndex, err)
	}

	req := gemini.Request{
		Operation:       "measure",
		System:          assets.MeasureSystemPrompt,
		Prompt:          prompt,
		Images:          []gemini.Image{{Data: data, MIMEType: mimeType}},
		MaxOutputTokens: 1024,
		JSON:            true,
	}

	policy := retry.Policy{
		MaxAttempts: MaxAttempts,
		Backoff:     c.backoff,
		Permanent:   func(err error) bool { return errors.Is(err, gemini.ErrUnavailable) },
	}
	m, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*Measurement, error) {
		text, err := c.gen.Generate(ctx, req)
		if err != nil {
			log.Debug().Err(err).Int("frame", frameIndex).Int("attempt", attempt).Msg("Measurement call failed")
			return nil, err
		}
		m, err := parseMeasurement(text)
		if err != nil {
			log.Debug().Err(err).Int("frame", frameIndex).Int("attempt", attempt).Msg("Measurement response unparseable")
			return nil, err
		}
		m.Attempts = attempt
		m.Phase = view.Phase
		return m, nil
	}, func(m *Measurement) bool { return m != nil && !m.Angles.IsZero() })

	rec := metrics.New().
		Dimension("Operation", "measure").
		Since("MeasureLatencyMs", start)

	if err != nil {
		rec.Count("MeasureFailures").Flush()
		if errors.Is(err, gemini.ErrUnavailable) {
			return nil, fmt.Errorf("frame %d: %w: %w", frameIndex, ErrCapabilityUnavailable, err)
		}
		return nil, fmt.Errorf("frame %d: %w: %w", frameIndex, ErrMeasurementFailed, err)
	}
	rec.Metric("MeasureAttempts", float64(m.Attempts), metrics.UnitCount).Flush()

	log.Debug().
		Int("frame", frameIndex).
		Str("phase", string(m.Phase)).
		Float64("kneeLeft", m.Angles.KneeLeft).
		Float64("kneeRight", m.Angles.KneeRight).
		Float64("hip", m.Angles.Hip).
		Float64("trunk", m.Angles.Trunk).
		Float64("score", m.Score).
		Int("attempts", m.Attempts).
		Msg("Frame measured")
	return m, nil
}

// parseMeasurement decodes model text into a Measurement. Not-visible
// sentinels and negative readings become unknown (0). The right knee
// inherits the left when the model reported only one side.
func parseMeasurement(text string) (*Measurement, error) {
	d, err := Decode(text)
	if err != nil {
		return nil, err
	}

	angle := func(f Field) float64 {
		v := d.Values[f]
		// -1 is the model's not-visible sentinel. The negated form also
		// drops NaN.
		if !(v > 0 && v <= 200) {
			return 0
		}
		return v
	}

	a := analysis.Angles{
		KneeLeft:  angle(FieldKneeLeft),
		KneeRight: angle(FieldKneeRight),
		Hip:       angle(FieldHip),
		Trunk:     angle(FieldTrunk),
	}
	switch {
	case a.KneeRight == 0 && a.KneeLeft != 0:
		a.KneeRight = a.KneeLeft
	case a.KneeLeft == 0 && a.KneeRight != 0:
		a.KneeLeft = a.KneeRight
	}

	score := d.Values[FieldScore]
	if score < 0 {
		score = 0
	}
	if score > 10 && score <= 100 {
		// Some responses grade out of 100.
		score /= 10
	}
	if score > 10 {
		score = 10
	}

	return &Measurement{
		Angles:       a,
		Score:        score,
		Confidence:   d.Values[FieldConfidence],
		Observations: d.Observations,
	}, nil
}

// readFrameImage loads a frame from disk and downscales it for upload.
func readFrameImage(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	mimeType := mimeFor(path)
	scaled, scaledType, err := frames.Downscale(data, mimeType, MaxImageEdge)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Downscale skipped, sending original image")
		return data, mimeType, nil
	}
	return scaled, scaledType, nil
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
