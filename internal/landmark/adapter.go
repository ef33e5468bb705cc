package landmark

import (
	"math"
	"sort"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/compare"
)

// MeasuredFrames converts service frames to the shared frame model. Frames
// the service skipped (no pose found) are simply absent.
func MeasuredFrames(resp *AnalyzeResponse, paths map[int]string) []analysis.MeasuredFrame {
	if resp == nil {
		return nil
	}
	total := len(resp.Frames)
	out := make([]analysis.MeasuredFrame, 0, total)
	for _, f := range resp.Frames {
		mf := analysis.MeasuredFrame{
			FrameIndex:       f.FrameNumber,
			TimestampSeconds: float64(f.TimestampMs) / 1000,
			ImagePath:        paths[f.FrameNumber],
			Phase:            phaseOf(f.Phase, f.FrameNumber, total),
			Angles: analysis.Angles{
				KneeLeft:  deref(f.Angles.KneeLeft),
				KneeRight: deref(f.Angles.KneeRight),
				Hip:       deref(f.Angles.Hip),
				Trunk:     deref(f.Angles.Trunk),
			},
		}
		if f.Angles.KneeLeft != nil && f.Angles.KneeRight != nil {
			mf.ValgusDetected = compare.ValgusDetected(mf.Angles)
		}
		mf.ForwardLeanDetected = compare.ForwardLeanDetected(mf.Angles.Trunk)
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameIndex < out[j].FrameIndex })
	return out
}

func phaseOf(p string, frameNumber, total int) analysis.Phase {
	switch p {
	case "eccentric":
		return analysis.PhaseEccentric
	case "bottom":
		return analysis.PhaseBottom
	case "concentric", "top":
		return analysis.PhaseConcentric
	}
	return analysis.PhaseFor(frameNumber, total)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

type series []float64

func (s series) mean() float64 {
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func (s series) min() float64 {
	m := s[0]
	for _, v := range s[1:] {
		m = math.Min(m, v)
	}
	return m
}

func (s series) max() float64 {
	m := s[0]
	for _, v := range s[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Aggregate reduces per-frame angles to the session metrics the criteria
// templates grade: the smallest hip angle (depth), the worst valgus reading,
// and means for everything else. Metrics with no readings are omitted.
func Aggregate(frames []FrameResult) map[string]float64 {
	var kneeL, kneeR, hip, trunk, ankle, valgus, pelvic series
	for _, f := range frames {
		a := f.Angles
		add := func(s *series, p *float64) {
			if p != nil {
				*s = append(*s, *p)
			}
		}
		add(&kneeL, a.KneeLeft)
		add(&kneeR, a.KneeRight)
		add(&hip, a.Hip)
		add(&trunk, a.Trunk)
		add(&ankle, a.AnkleLeft)
		add(&valgus, a.KneeValgusLeft)
		add(&valgus, a.KneeValgusRight)
		add(&pelvic, a.PelvicTilt)
	}

	out := make(map[string]float64)
	round := func(v float64) float64 { return math.Round(v*10) / 10 }
	if len(hip) > 0 {
		out[MetricHipAtBottom] = round(hip.min())
	}
	if len(trunk) > 0 {
		out[MetricTrunkInclination] = round(trunk.mean())
	}
	if len(ankle) > 0 {
		out[MetricAnkleDorsiflexion] = round(ankle.mean())
	}
	if len(valgus) > 0 {
		out[MetricKneeMedialCm] = round(valgus.max())
	}
	if len(pelvic) > 0 {
		out[MetricLumbarFlexion] = round(pelvic.mean())
	}
	if len(kneeL) > 0 && len(kneeR) > 0 {
		out[MetricBilateralDiff] = round(math.Abs(kneeL.mean() - kneeR.mean()))
	}
	if r, ok := tempoRatio(frames); ok {
		out[MetricTempoRatio] = math.Round(r*100) / 100
	}
	return out
}

// tempoRatio divides descent time (first frame to first bottom frame) by
// ascent time (last bottom frame to last frame).
func tempoRatio(frames []FrameResult) (float64, bool) {
	if len(frames) < 3 {
		return 0, false
	}
	sorted := make([]FrameResult, len(frames))
	copy(sorted, frames)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampMs < sorted[j].TimestampMs })

	firstBottom, lastBottom := -1, -1
	for i, f := range sorted {
		if f.Phase == "bottom" {
			if firstBottom < 0 {
				firstBottom = i
			}
			lastBottom = i
		}
	}
	if firstBottom < 0 {
		return 0, false
	}
	ecc := sorted[firstBottom].TimestampMs - sorted[0].TimestampMs
	con := sorted[len(sorted)-1].TimestampMs - sorted[lastBottom].TimestampMs
	if ecc <= 0 || con <= 0 {
		return 0, false
	}
	return float64(ecc) / float64(con), true
}
