package compare

import (
	"fmt"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// observations derives reviewer-facing deviation and positive notes from the
// frame's rule outcomes. Deviation wording matters: fusion matches these
// strings against keyword families when aggregating critical points.
func observations(frame analysis.MeasuredFrame, expected analysis.Angles, ch ChannelSimilarities, valgusSim, leanSim, lumbarSim int) (deviations, positives []string) {
	deviations = []string{}
	positives = []string{}
	a := frame.Angles

	switch {
	case frame.ValgusDetected:
		deviations = append(deviations, fmt.Sprintf("Valgo dinâmico de joelho detectado (diferença %.0f°)", KneeAsymmetry(a)))
	case valgusSim == 40:
		deviations = append(deviations, fmt.Sprintf("Leve assimetria bilateral (%.0f°)", KneeAsymmetry(a)))
	case a.KneeLeft != 0 && a.KneeRight != 0:
		positives = append(positives, "Joelhos alinhados, sem colapso medial")
	}

	if a.KneeLeft != 0 && expected.KneeLeft != 0 {
		if ch.Knee() < 70 {
			deviations = append(deviations, fmt.Sprintf("Flexão %.0f° vs referência %.0f°", a.KneeLeft, expected.KneeLeft))
		} else {
			positives = append(positives, fmt.Sprintf("Flexão próxima da referência (%.0f° vs %.0f°)", a.KneeLeft, expected.KneeLeft))
		}
	}

	if a.Hip != 0 && expected.Hip != 0 {
		switch {
		case frame.Phase == analysis.PhaseBottom && a.Hip-expected.Hip > 15:
			deviations = append(deviations, fmt.Sprintf("Profundidade insuficiente: quadril %.0f° vs referência %.0f°", a.Hip, expected.Hip))
		case ch.Hip >= 70:
			positives = append(positives, "Boa amplitude de quadril")
		}
	}

	if leanSim > DeviationCutoff {
		deviations = append(deviations, fmt.Sprintf("Inclinação anterior excessiva do tronco (%.0f°)", a.Trunk))
	} else if a.Trunk != 0 && a.Trunk <= 15 {
		positives = append(positives, fmt.Sprintf("Tronco estável (%.0f°)", a.Trunk))
	}

	if lumbarSim >= LumbarSuspected {
		deviations = append(deviations, fmt.Sprintf("Possível perda de neutralidade lombar (butt wink), quadril %.0f°", a.Hip))
	}
	return deviations, positives
}
