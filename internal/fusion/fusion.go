// Package fusion turns per-frame results and the optional quantitative
// outcome into session-level scores, classification and critical points.
package fusion

import (
	"math"
	"sort"
	"strings"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// Fusion weights for a session where the quantitative pipeline succeeded.
const (
	QualitativeWeight  = 0.4
	QuantitativeWeight = 0.6
)

// Classification thresholds on the rounded overall score.
const (
	ExcelenteMin = 9.0
	BomMin       = 7.5
	RegularMin   = 6.0
)

// Severity thresholds on deviation frequency.
const (
	CriticaMin  = 0.6
	ModeradaMin = 0.3
)

// deviationThreshold is the per-frame similarity above which a deviation counts.
const deviationThreshold = 40

// keywordFamilies maps each deviation type to the words that identify it in
// free-text deviation notes. Portuguese and English forms are both accepted.
var keywordFamilies = map[analysis.DeviationType][]string{
	analysis.KneeValgus:           {"valgo", "joelho", "valgus", "knee"},
	analysis.TrunkForwardLean:     {"tronco", "anterior", "inclin", "lean", "trunk"},
	analysis.LumbarHyperextension: {"lordose", "lombar", "butt wink", "lumbar"},
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// OverallScore is the mean adjusted score over frames that have one, falling
// back to the mean raw score over all frames when no frame was adjusted.
func OverallScore(frames []analysis.FrameAnalysisResult) float64 {
	if len(frames) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, f := range frames {
		if f.AdjustedScore > 0 {
			sum += f.AdjustedScore
			n++
		}
	}
	if n > 0 {
		return Round1(sum / float64(n))
	}

	sum = 0
	for _, f := range frames {
		if f.RawScore > 0 {
			sum += f.RawScore
		}
	}
	return Round1(sum / float64(len(frames)))
}

// Classify labels a 0–10 score.
func Classify(score float64) analysis.Classification {
	score = Round1(score)
	switch {
	case score >= ExcelenteMin:
		return analysis.Excelente
	case score >= BomMin:
		return analysis.Bom
	case score >= RegularMin:
		return analysis.Regular
	default:
		return analysis.NecessitaCorrecao
	}
}

// SeverityFor maps a deviation frequency onto a severity. It is monotonic in
// frequency.
func SeverityFor(frequency float64) analysis.Severity {
	switch {
	case frequency >= CriticaMin:
		return analysis.SeverityCritica
	case frequency >= ModeradaMin:
		return analysis.SeverityModerada
	default:
		return analysis.SeverityLeve
	}
}

// Mentions reports whether a free-text deviation note names the deviation type.
func Mentions(note string, d analysis.DeviationType) bool {
	lower := strings.ToLower(note)
	for _, kw := range keywordFamilies[d] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func affected(f analysis.FrameAnalysisResult, d analysis.DeviationType) bool {
	if f.SimilarityToDeviations[d] > deviationThreshold {
		return true
	}
	for _, note := range f.DeviationsObserved {
		if Mentions(note, d) {
			return true
		}
	}
	return false
}

// CriticalPoints aggregates deviations across frames. A frame counts at most
// once per deviation type. Results are ordered CRITICA, MODERADA, LEVE and by
// frequency within a severity.
func CriticalPoints(frames []analysis.FrameAnalysisResult) []analysis.CriticalPoint {
	total := len(frames)
	points := []analysis.CriticalPoint{}
	if total == 0 {
		return points
	}

	for _, d := range analysis.DeviationTypes {
		count := 0
		for _, f := range frames {
			if affected(f, d) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		freq := float64(count) / float64(total)
		points = append(points, analysis.CriticalPoint{
			DeviationType:  d,
			DisplayName:    d.DisplayName(),
			FramesAffected: count,
			TotalFrames:    total,
			Frequency:      math.Round(freq*100) / 100,
			Severity:       SeverityFor(freq),
		})
	}

	sortPoints(points)
	return points
}

func sortPoints(points []analysis.CriticalPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		ri, rj := points[i].Severity.Rank(), points[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return points[i].Frequency > points[j].Frequency
	})
}

// MeasuredCriticalPoints aggregates the deviation flags of landmark-measured
// frames, which carry no similarity scores or notes.
func MeasuredCriticalPoints(frames []analysis.MeasuredFrame) []analysis.CriticalPoint {
	results := make([]analysis.FrameAnalysisResult, len(frames))
	for i, f := range frames {
		sims := map[analysis.DeviationType]int{}
		if f.ValgusDetected {
			sims[analysis.KneeValgus] = deviationThreshold + 1
		}
		if f.ForwardLeanDetected {
			sims[analysis.TrunkForwardLean] = deviationThreshold + 1
		}
		results[i] = analysis.FrameAnalysisResult{Frame: f, SimilarityToDeviations: sims}
	}
	return CriticalPoints(results)
}
