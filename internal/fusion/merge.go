package fusion

import (
	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// Outcome is the result of the optional quantitative pipeline: either Data or
// a Degraded reason, never both. Report is set only when the narrative
// generator produced one.
type Outcome struct {
	Data     *analysis.QuantitativeResult
	Report   *analysis.Report
	Degraded string
}

// OK reports whether the quantitative pipeline produced a usable result.
func (o Outcome) OK() bool {
	return o.Data != nil && o.Degraded == ""
}

// Ok wraps a successful quantitative result.
func Ok(data *analysis.QuantitativeResult) Outcome {
	return Outcome{Data: data}
}

// Degraded records why the quantitative pipeline did not contribute.
func Degraded(reason string) Outcome {
	if reason == "" {
		reason = "quantitative pipeline unavailable"
	}
	return Outcome{Degraded: reason}
}

// MergedScore fuses the two pipeline scores. Without a quantitative result it
// returns scoreA unchanged.
func MergedScore(scoreA float64, b Outcome) float64 {
	if !b.OK() {
		return scoreA
	}
	return Round1(scoreA*QualitativeWeight + b.Data.Score*QuantitativeWeight)
}

// Assemble fills the session's score, classification and critical-point
// fields from its frame results and the quantitative outcome. It always
// produces a complete session.
func Assemble(s *analysis.Session, b Outcome) {
	s.OverallScore = OverallScore(s.Frames)
	s.PipelineAScore = s.OverallScore
	s.CriticalPoints = CriticalPoints(s.Frames)
	s.PipelinesUsed = analysis.PipelinesUsed{Qualitative: true, Quantitative: b.OK()}

	if b.OK() {
		s.Quantitative = b.Data
		s.Report = b.Report
		s.PipelineBScore = b.Data.Score
		s.DegradedReason = ""
	} else {
		s.Quantitative = nil
		s.Report = nil
		s.PipelineBScore = 0
		s.DegradedReason = b.Degraded
	}
	s.MergedScore = MergedScore(s.PipelineAScore, b)
	s.Classification = Classify(s.MergedScore)
}
