package measure

import "github.com/fpang/biomech-analyzer/internal/analysis"

// PhaseGuide is the typical angle range for a phase. It only guides the
// model; measured values are never clamped to it.
type PhaseGuide struct {
	KneeMin, KneeMax   int
	HipMin, HipMax     int
	TrunkMin, TrunkMax int
}

var phaseGuides = map[analysis.Phase]PhaseGuide{
	analysis.PhaseEccentric:  {KneeMin: 120, KneeMax: 170, HipMin: 130, HipMax: 175, TrunkMin: 5, TrunkMax: 15},
	analysis.PhaseBottom:     {KneeMin: 80, KneeMax: 100, HipMin: 80, HipMax: 95, TrunkMin: 15, TrunkMax: 25},
	analysis.PhaseConcentric: {KneeMin: 120, KneeMax: 170, HipMin: 125, HipMax: 175, TrunkMin: 5, TrunkMax: 15},
}

var phaseLabels = map[analysis.Phase]string{
	analysis.PhaseEccentric:  "eccentric phase (descent)",
	analysis.PhaseBottom:     "bottom position",
	analysis.PhaseConcentric: "concentric phase (ascent)",
}

// GuideFor returns the guide range for a phase.
func GuideFor(p analysis.Phase) PhaseGuide {
	return phaseGuides[p]
}

// promptView is the data rendered into the measurement prompt template.
type promptView struct {
	FrameIndex  int
	TotalFrames int
	Phase       analysis.Phase
	PhaseLabel  string
	Guide       PhaseGuide
}

func newPromptView(frameIndex, totalFrames int) promptView {
	phase := analysis.PhaseFor(frameIndex, totalFrames)
	return promptView{
		FrameIndex:  frameIndex,
		TotalFrames: totalFrames,
		Phase:       phase,
		PhaseLabel:  phaseLabels[phase],
		Guide:       phaseGuides[phase],
	}
}
