// Package pipeline runs the two analysis pipelines over a session's frames
// and fuses their results into one session record.
//
// Pipeline A (qualitative) measures and compares every frame and is
// mandatory. Pipeline B (quantitative) runs alongside it and is optional:
// its failure is recorded on the session, never returned as an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/fusion"
	"github.com/fpang/biomech-analyzer/internal/landmark"
	"github.com/fpang/biomech-analyzer/internal/measure"
	"github.com/fpang/biomech-analyzer/internal/metrics"
	"github.com/fpang/biomech-analyzer/internal/narrative"
	"github.com/fpang/biomech-analyzer/internal/rag"
	"github.com/fpang/biomech-analyzer/internal/reference"
)

var (
	// ErrQualitativeUnavailable is returned when the frame measurement
	// capability could not be reached for any frame.
	ErrQualitativeUnavailable = errors.New("qualitative pipeline unavailable")

	// ErrNoFrames is returned for a session without frames.
	ErrNoFrames = errors.New("no frames to analyze")
)

// Defaults for Orchestrator.
const (
	DefaultWorkers        = 4
	MaxWorkers            = 5
	DefaultSessionTimeout = 5 * time.Minute
)

// FrameAnalyzer measures and scores one frame. *compare.Engine implements it.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, in analysis.FrameInput, totalFrames int, standalone bool) (analysis.FrameAnalysisResult, error)
	Registry() *reference.Registry
}

// Quantitative runs landmark tracking and rule classification over the
// session's frames. *landmark.Client implements it.
type Quantitative interface {
	Analyze(ctx context.Context, frames []analysis.FrameInput, exerciseType string) (*analysis.QuantitativeResult, error)
}

// Narrator writes the reviewer report. *narrative.ReportGenerator implements it.
type Narrator interface {
	Generate(ctx context.Context, req narrative.Request) (*analysis.Report, error)
}

// Input is one session to analyze.
type Input struct {
	SessionID    string
	ExerciseType string
	VideoPath    string
	Frames       []analysis.FrameInput
}

// Orchestrator fork-joins the two pipelines. It is safe for concurrent use.
type Orchestrator struct {
	frames    FrameAnalyzer
	refs      reference.FrameSource
	quant     Quantitative
	retriever rag.Provider
	narrator  Narrator

	probe          func(ctx context.Context) error
	workers        int
	sessionTimeout time.Duration
	fallbackReport bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReferenceFrames sets where gold reference frames are looked up. Without
// it every session runs standalone.
func WithReferenceFrames(src reference.FrameSource) Option {
	return func(o *Orchestrator) { o.refs = src }
}

// WithQuantitative enables Pipeline B.
func WithQuantitative(q Quantitative) Option {
	return func(o *Orchestrator) { o.quant = q }
}

// WithRetriever sets the retrieval context provider for the narrative.
func WithRetriever(p rag.Provider) Option {
	return func(o *Orchestrator) { o.retriever = p }
}

// WithNarrator enables the narrative report.
func WithNarrator(n Narrator) Option {
	return func(o *Orchestrator) { o.narrator = n }
}

// WithFallbackReport writes a deterministic report when narrative generation fails.
func WithFallbackReport(enabled bool) Option {
	return func(o *Orchestrator) { o.fallbackReport = enabled }
}

// WithCapabilityProbe runs fn before dispatching frames; an error is fatal.
func WithCapabilityProbe(fn func(ctx context.Context) error) Option {
	return func(o *Orchestrator) { o.probe = fn }
}

// WithWorkers bounds concurrent frame measurements. Values are clamped to 1..MaxWorkers.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithSessionTimeout bounds Pipeline B. Pipeline A is bounded only by the
// caller's context and its per-frame timeouts.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.sessionTimeout = d }
}

// New creates an orchestrator around a frame analyzer.
func New(frames FrameAnalyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		frames:         frames,
		workers:        DefaultWorkers,
		sessionTimeout: DefaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	switch {
	case o.workers < 1:
		o.workers = 1
	case o.workers > MaxWorkers:
		o.workers = MaxWorkers
	}
	if o.sessionTimeout <= 0 {
		o.sessionTimeout = DefaultSessionTimeout
	}
	return o
}

// Workers returns the effective worker count.
func (o *Orchestrator) Workers() int {
	return o.workers
}

// Run analyzes a session. The returned session has status AI_ANALYZED; the
// only errors are a missing input, a cancelled context and an unreachable
// measurement capability.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*analysis.Session, error) {
	if len(in.Frames) == 0 {
		return nil, ErrNoFrames
	}
	start := time.Now()
	logger := log.With().Str("sessionId", in.SessionID).Logger()

	session := &analysis.Session{
		ID:              in.SessionID,
		MovementPattern: landmark.Category(in.ExerciseType),
		ExerciseType:    in.ExerciseType,
		VideoPath:       in.VideoPath,
		Status:          analysis.StatusProcessing,
		CreatedAt:       start.Unix(),
	}

	standalone := o.standalone(ctx)
	logger.Info().
		Int("frames", len(in.Frames)).
		Int("workers", o.workers).
		Bool("standalone", standalone).
		Bool("quantitative", o.quant != nil).
		Msg("Starting analysis session")

	g, gctx := errgroup.WithContext(ctx)

	var frames []analysis.FrameAnalysisResult
	g.Go(func() error {
		var err error
		frames, err = o.runQualitative(gctx, in.Frames, standalone)
		return err
	})

	var outcome fusion.Outcome
	g.Go(func() error {
		bctx, cancel := context.WithTimeout(gctx, o.sessionTimeout)
		defer cancel()
		outcome = o.runQuantitative(bctx, in)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Analysis session failed")
		return nil, err
	}

	session.Frames = frames
	session.ReferencesUsed = o.referencesUsed(standalone)
	fusion.Assemble(session, outcome)
	session.Status = analysis.StatusAIAnalyzed
	session.CompletedAt = time.Now().Unix()

	metrics.New().
		Dimension("Operation", "session").
		Since("SessionLatencyMs", start).
		Metric("SessionScore", session.MergedScore, metrics.UnitNone).
		Property("sessionId", session.ID).
		Property("quantitative", session.PipelinesUsed.Quantitative).
		Flush()

	logger.Info().
		Float64("pipelineA", session.PipelineAScore).
		Float64("merged", session.MergedScore).
		Str("classification", string(session.Classification)).
		Bool("quantitative", session.PipelinesUsed.Quantitative).
		Str("degraded", session.DegradedReason).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis session complete")
	return session, nil
}

// standalone reports whether the gold reference frames are missing.
func (o *Orchestrator) standalone(ctx context.Context) bool {
	if o.refs == nil {
		return true
	}
	gold := o.frames.Registry().Gold()
	check := reference.CheckFrames(ctx, o.refs, gold)
	if !check.Available() {
		log.Warn().
			Str("pattern", gold.ID).
			Int("missing", len(check.Missing)).
			Msg("Gold reference frames unavailable, running standalone")
		return true
	}
	return false
}

func (o *Orchestrator) referencesUsed(standalone bool) []string {
	reg := o.frames.Registry()
	var ids []string
	if !standalone {
		ids = append(ids, reg.Gold().ID)
	}
	for _, p := range reg.Deviations() {
		ids = append(ids, p.ID)
	}
	return ids
}

// runQualitative is Pipeline A: a bounded worker pool over the frames.
// Results are slotted by position so the output keeps frame order.
func (o *Orchestrator) runQualitative(ctx context.Context, inputs []analysis.FrameInput, standalone bool) ([]analysis.FrameAnalysisResult, error) {
	start := time.Now()
	if o.probe != nil {
		if err := o.probe(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQualitativeUnavailable, err)
		}
	}

	total := len(inputs)
	results := make([]analysis.FrameAnalysisResult, total)
	errs := make([]error, total)

	work := make(chan int, total)
	for i := range inputs {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i], errs[i] = o.frames.AnalyzeFrame(ctx, inputs[i], total, standalone)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var unavailable, failed int
	var lastUnavailable error
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if errors.Is(err, measure.ErrCapabilityUnavailable) {
			unavailable++
			lastUnavailable = err
		}
	}

	metrics.New().
		Dimension("Pipeline", "qualitative").
		Since("PipelineLatencyMs", start).
		Metric("FramesFailed", float64(failed), metrics.UnitCount).
		Flush()

	if unavailable == total {
		return nil, fmt.Errorf("%w: %w", ErrQualitativeUnavailable, lastUnavailable)
	}
	log.Debug().Int("frames", total).Int("failed", failed).Dur("elapsed", time.Since(start)).Msg("Pipeline A complete")
	return results, nil
}

// runQuantitative is Pipeline B. Every failure becomes a Degraded outcome.
func (o *Orchestrator) runQuantitative(ctx context.Context, in Input) fusion.Outcome {
	if o.quant == nil {
		return fusion.Degraded("quantitative pipeline not configured")
	}
	start := time.Now()
	out := o.quantitative(ctx, in)

	rec := metrics.New().
		Dimension("Pipeline", "quantitative").
		Since("PipelineLatencyMs", start)
	if !out.OK() {
		rec.Count("PipelineDegraded")
		log.Warn().Str("sessionId", in.SessionID).Str("reason", out.Degraded).Msg("Quantitative pipeline degraded")
	}
	rec.Flush()
	return out
}

func (o *Orchestrator) quantitative(ctx context.Context, in Input) fusion.Outcome {
	result, err := o.quant.Analyze(ctx, in.Frames, in.ExerciseType)
	if err != nil {
		if ctx.Err() != nil {
			return fusion.Degraded(fmt.Sprintf("session deadline exceeded: %v", err))
		}
		return fusion.Degraded(err.Error())
	}
	if result == nil {
		return fusion.Degraded("landmark analysis returned no result")
	}

	req := narrative.Request{
		ExerciseType:   in.ExerciseType,
		Classification: result,
		CriticalPoints: fusion.MeasuredCriticalPoints(result.Frames),
	}
	if o.retriever != nil {
		snippets, err := o.retriever.Retrieve(ctx, result.Topics())
		if err != nil {
			log.Warn().Err(err).Msg("Context retrieval failed, continuing without context")
		}
		req.Context = snippets
		result.ContextSnippets = len(snippets)
	}

	var report *analysis.Report
	if o.narrator != nil {
		report, err = o.narrator.Generate(ctx, req)
		if err != nil {
			log.Warn().Err(err).Bool("fallback", o.fallbackReport).Msg("Narrative report failed")
			if !o.fallbackReport {
				return fusion.Degraded("narrative: " + err.Error())
			}
			result.NarrativeDegraded = err.Error()
			report = nil
		}
	}
	if report == nil && o.fallbackReport {
		report = narrative.Fallback(req)
	}
	return fusion.Outcome{Data: result, Report: report}
}
