// Package compare is the comparative pattern-matching engine. It scores a
// measured frame against the gold-standard pattern, derives deviation
// similarities from fixed rules, and produces the per-frame adjusted score.
package compare

import (
	"math"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// Maximum angular difference, in degrees, at which a channel's similarity reaches 0.
const (
	MaxDiffKnee  = 40.0
	MaxDiffHip   = 40.0
	MaxDiffTrunk = 20.0
)

// Channel weights in the gold similarity. They sum to 1.
const (
	WeightKnee  = 0.40
	WeightHip   = 0.35
	WeightTrunk = 0.25
)

// Rule thresholds.
const (
	ValgusThreshold    = 10.0 // knee asymmetry, degrees
	AsymmetryThreshold = 5.0
	ValgusPenalty      = 1.5
	LeanPenalty        = 1.0
	DeviationCutoff    = 40 // similarity above which a deviation counts
	LumbarSuspected    = 40 // lumbar similarity reported as an observation only
)

// Similarity scores how close a measured angle is to the expected one on a
// 0–100 scale. A zero or non-finite reading means no data and always scores 0.
func Similarity(measured, expected, maxDiff float64) int {
	if measured == 0 || maxDiff <= 0 || !finite(measured) || !finite(expected) {
		return 0
	}
	s := math.Round(100 - math.Abs(measured-expected)/maxDiff*100)
	return int(clamp(s, 0, 100))
}

// ChannelSimilarities holds the per-channel similarity of one frame.
type ChannelSimilarities struct {
	KneeLeft  int
	KneeRight int
	Hip       int
	Trunk     int
}

// Knee is the mean of both knee channels.
func (c ChannelSimilarities) Knee() float64 {
	return float64(c.KneeLeft+c.KneeRight) / 2
}

// Channels computes every channel similarity against the expected angles.
func Channels(measured, expected analysis.Angles) ChannelSimilarities {
	return ChannelSimilarities{
		KneeLeft:  Similarity(measured.KneeLeft, expected.KneeLeft, MaxDiffKnee),
		KneeRight: Similarity(measured.KneeRight, expected.KneeRight, MaxDiffKnee),
		Hip:       Similarity(measured.Hip, expected.Hip, MaxDiffHip),
		Trunk:     Similarity(measured.Trunk, expected.Trunk, MaxDiffTrunk),
	}
}

// Weighted combines channel similarities with the knee/hip/trunk weights.
func (c ChannelSimilarities) Weighted() int {
	s := c.Knee()*WeightKnee + float64(c.Hip)*WeightHip + float64(c.Trunk)*WeightTrunk
	return int(clamp(math.Round(s), 0, 100))
}

// GoldSimilarity is Channels(measured, expected).Weighted().
func GoldSimilarity(measured, expected analysis.Angles) int {
	return Channels(measured, expected).Weighted()
}

// KneeAsymmetry is the absolute left/right knee difference, or 0 when either
// side is unknown.
func KneeAsymmetry(a analysis.Angles) float64 {
	if a.KneeLeft == 0 || a.KneeRight == 0 {
		return 0
	}
	return math.Abs(a.KneeLeft - a.KneeRight)
}

// ValgusDetected reports a knee asymmetry beyond the valgus threshold.
func ValgusDetected(a analysis.Angles) bool {
	return KneeAsymmetry(a) > ValgusThreshold
}

// ForwardLeanDetected reports a trunk lean whose similarity counts as a deviation.
func ForwardLeanDetected(trunk float64) bool {
	return ForwardLeanSimilarity(trunk) > DeviationCutoff
}

// ValgusSimilarity rates bilateral knee asymmetry: 70 when valgus is
// detected, 40 when asymmetric but under the valgus threshold, 10 otherwise.
func ValgusSimilarity(a analysis.Angles) (sim int, detected bool) {
	diff := KneeAsymmetry(a)
	switch {
	case diff > ValgusThreshold:
		return 70, true
	case diff > AsymmetryThreshold:
		return 40, false
	default:
		return 10, false
	}
}

// ForwardLeanSimilarity rates trunk inclination magnitude.
func ForwardLeanSimilarity(trunk float64) int {
	switch {
	case trunk > 25:
		return 70
	case trunk > 18:
		return 40
	case trunk > 10:
		return 15
	default:
		return 5
	}
}

// LumbarSimilarity flags a likely butt wink: at the bottom of the rep the hip
// closes more than 8° past the reference while the trunk stays within 3° of
// it, so the extra range can only come from the pelvis tucking under. The
// suspected score stays at the deviation cutoff: it never penalises and only
// reaches critical points through the observation it produces.
func LumbarSimilarity(measured, expected analysis.Angles, phase analysis.Phase) int {
	if phase != analysis.PhaseBottom || measured.Hip == 0 || measured.Trunk == 0 || expected.Hip == 0 {
		return 10
	}
	if expected.Hip-measured.Hip > 8 && math.Abs(measured.Trunk-expected.Trunk) <= 3 {
		return LumbarSuspected
	}
	return 10
}

// AdjustedScore converts gold similarity to 0–10 and subtracts the valgus and
// lean penalties, rounded to one decimal.
func AdjustedScore(goldSim, valgusSim, leanSim int) float64 {
	score := float64(goldSim) / 100 * 10
	if valgusSim > DeviationCutoff {
		score -= ValgusPenalty
	}
	if leanSim > DeviationCutoff {
		score -= LeanPenalty
	}
	return clamp(math.Round(score*10)/10, 0, 10)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
