package compare

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/measure"
	"github.com/fpang/biomech-analyzer/internal/reference"
)

// Measurer extracts joint angles from one frame image.
type Measurer interface {
	Measure(ctx context.Context, imagePath string, frameIndex, totalFrames int) (*measure.Measurement, error)
}

// Engine compares measured frames with the reference catalog. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	registry *reference.Registry
	measurer Measurer
}

// NewEngine creates an engine over a loaded registry.
func NewEngine(registry *reference.Registry, measurer Measurer) *Engine {
	return &Engine{registry: registry, measurer: measurer}
}

// Registry returns the catalog the engine compares against.
func (e *Engine) Registry() *reference.Registry {
	return e.registry
}

// AnalyzeFrame measures one frame and scores it. The returned result is
// always usable: when measurement fails it is an error_fallback result and
// the error reports why, so callers can tell a bad frame from an unreachable
// capability without the session aborting.
//
// standalone marks sessions whose gold reference frames are unavailable.
func (e *Engine) AnalyzeFrame(ctx context.Context, in analysis.FrameInput, totalFrames int, standalone bool) (analysis.FrameAnalysisResult, error) {
	m, err := e.measurer.Measure(ctx, in.Path, in.Index, totalFrames)
	if err == nil && (m == nil || m.Angles.IsZero()) {
		err = fmt.Errorf("frame %d: %w", in.Index, measure.ErrMeasurementFailed)
	}
	if err != nil {
		log.Warn().Err(err).Int("frame", in.Index).Msg("Frame measurement failed, using fallback result")
		return FallbackResult(in, totalFrames, err), err
	}

	frame := analysis.MeasuredFrame{
		FrameIndex:       in.Index,
		TimestampSeconds: in.TimestampSeconds,
		ImagePath:        in.Path,
		Phase:            analysis.PhaseFor(in.Index, totalFrames),
		Angles:           m.Angles,
	}
	return e.Evaluate(frame, totalFrames, m.Score, standalone), nil
}

// Evaluate scores an already-measured frame. rawScore is the measurement
// capability's own 0–10 opinion; when absent it is derived from gold similarity.
func (e *Engine) Evaluate(frame analysis.MeasuredFrame, totalFrames int, rawScore float64, standalone bool) analysis.FrameAnalysisResult {
	if frame.Angles.IsZero() {
		return FallbackResult(analysis.FrameInput{
			Index:            frame.FrameIndex,
			Path:             frame.ImagePath,
			TimestampSeconds: frame.TimestampSeconds,
		}, totalFrames, measure.ErrMeasurementFailed)
	}
	if frame.Phase == "" {
		frame.Phase = analysis.PhaseFor(frame.FrameIndex, totalFrames)
	}

	gold := e.registry.Gold()
	expected := gold.Expected(ReferenceIndex(frame.FrameIndex, totalFrames, gold.Frames()))

	channels := Channels(frame.Angles, expected)
	goldSim := channels.Weighted()
	valgusSim, valgus := ValgusSimilarity(frame.Angles)
	leanSim := ForwardLeanSimilarity(frame.Angles.Trunk)
	lumbarSim := LumbarSimilarity(frame.Angles, expected, frame.Phase)

	frame.ValgusDetected = valgus
	frame.ForwardLeanDetected = ForwardLeanDetected(frame.Angles.Trunk)

	result := analysis.FrameAnalysisResult{
		Frame:            frame,
		SimilarityToGold: goldSim,
		SimilarityToDeviations: map[analysis.DeviationType]int{
			analysis.KneeValgus:           valgusSim,
			analysis.TrunkForwardLean:     leanSim,
			analysis.LumbarHyperextension: lumbarSim,
		},
		TrajectorySimilarity: e.trajectories(frame, totalFrames),
		Method:               analysis.MethodComparative,
	}
	result.DeviationsObserved, result.PositiveObservations = observations(frame, expected, channels, valgusSim, leanSim, lumbarSim)

	if rawScore <= 0 {
		rawScore = math.Round(float64(goldSim)) / 10
	}
	result.RawScore = clamp(rawScore, 0, 10)

	if standalone {
		// Without gold imagery the comparison is advisory; fusion falls back
		// to the raw scores.
		result.Method = analysis.MethodStandalone
		result.AdjustedScore = 0
		return result
	}
	result.AdjustedScore = AdjustedScore(goldSim, valgusSim, leanSim)
	return result
}

// trajectories compares the frame with every deviation pattern's expected
// angles. Reviewer diagnostics only; not used in scoring.
func (e *Engine) trajectories(frame analysis.MeasuredFrame, totalFrames int) map[string]int {
	devs := e.registry.Deviations()
	if len(devs) == 0 {
		return nil
	}
	out := make(map[string]int, len(devs))
	for _, p := range devs {
		exp := p.Expected(ReferenceIndex(frame.FrameIndex, totalFrames, p.Frames()))
		out[p.ID] = GoldSimilarity(frame.Angles, exp)
	}
	return out
}

// FallbackResult is the zero-score result for a frame whose measurement failed.
func FallbackResult(in analysis.FrameInput, totalFrames int, cause error) analysis.FrameAnalysisResult {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return analysis.FrameAnalysisResult{
		Frame: analysis.MeasuredFrame{
			FrameIndex:       in.Index,
			TimestampSeconds: in.TimestampSeconds,
			ImagePath:        in.Path,
			Phase:            analysis.PhaseFor(in.Index, totalFrames),
		},
		SimilarityToDeviations: map[analysis.DeviationType]int{
			analysis.KneeValgus:           0,
			analysis.TrunkForwardLean:     0,
			analysis.LumbarHyperextension: 0,
		},
		DeviationsObserved:   []string{},
		PositiveObservations: []string{},
		Method:               analysis.MethodErrorFallback,
		Error:                msg,
	}
}

// ReferenceIndex maps a 1-based session frame index onto a reference pattern
// with refFrames frames. Equal counts map one-to-one; otherwise the position
// in the repetition is preserved.
func ReferenceIndex(frameIndex, totalFrames, refFrames int) int {
	if refFrames <= 0 {
		return frameIndex
	}
	if totalFrames == refFrames || totalFrames <= 0 {
		return frameIndex
	}
	i := int(math.Round(float64(frameIndex) * float64(refFrames) / float64(totalFrames)))
	if i < 1 {
		return 1
	}
	if i > refFrames {
		return refFrames
	}
	return i
}
