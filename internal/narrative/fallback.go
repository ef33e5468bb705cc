package narrative

import (
	"fmt"
	"strings"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/fusion"
	"github.com/fpang/biomech-analyzer/internal/landmark"
)

// Fallback builds a deterministic report from the classification alone, for
// when the model is unavailable.
func Fallback(req Request) *analysis.Report {
	c := req.Classification
	if c == nil {
		c = &analysis.QuantitativeResult{Score: landmark.NeutralScore}
	}
	score := fusion.Round1(c.Score)

	var danger, warning int
	for _, cr := range c.Classifications {
		switch cr.Level {
		case analysis.LevelDanger:
			danger++
		case analysis.LevelWarning:
			warning++
		}
	}

	recs := []analysis.Recommendation{}
	for _, cr := range c.Classifications {
		if cr.Level != analysis.LevelDanger {
			continue
		}
		category := "Técnica"
		if cr.SafetyCritical {
			category = "Segurança"
		}
		recs = append(recs, analysis.Recommendation{
			Priority:    len(recs) + 1,
			Category:    category,
			Description: fmt.Sprintf("Corrigir %s: valor atual %s", cr.Label, formatValue(cr)),
		})
		if len(recs) == 3 {
			break
		}
	}

	return &analysis.Report{
		ExecutiveSummary: fmt.Sprintf("Análise biomecânica de %s. Score: %.1f/10. %d critérios críticos, %d alertas.",
			ExerciseLabel(req.ExerciseType), score, danger, warning),
		Problems:        problemsFrom(c),
		Positives:       positivesFrom(c),
		Recommendations: recs,
		Score:           score,
		Classification:  string(fusion.Classify(score)),
		NextSteps: []string{
			"Revisar os problemas identificados com um profissional",
			"Aplicar exercícios corretivos antes de aumentar carga",
			"Reavaliar técnica em 2-4 semanas",
		},
		Generated: GeneratedByFallback,
	}
}

func problemsFrom(c *analysis.QuantitativeResult) []analysis.Problem {
	out := []analysis.Problem{}
	for _, cr := range c.Classifications {
		if cr.Level != analysis.LevelDanger && cr.Level != analysis.LevelWarning {
			continue
		}
		sev := analysis.SeverityModerada
		if cr.Level == analysis.LevelDanger {
			sev = analysis.SeverityCritica
		}
		out = append(out, analysis.Problem{
			Name:          cr.Label,
			Severity:      string(sev),
			Description:   fmt.Sprintf("%s: %s (%s)", cr.Metric, formatValue(cr), cr.Level),
			ProbableCause: cr.Note,
		})
	}
	return out
}

func positivesFrom(c *analysis.QuantitativeResult) []string {
	out := []string{}
	for _, cr := range c.Classifications {
		switch cr.Level {
		case analysis.LevelExcellent, analysis.LevelGood, analysis.LevelAcceptable:
			out = append(out, fmt.Sprintf("%s: %s (%s)", cr.Label, formatValue(cr), cr.Level))
		}
	}
	return out
}

func formatValue(cr analysis.CriterionResult) string {
	return fmt.Sprintf("%.1f%s", cr.Value, cr.Unit)
}

var exerciseLabels = map[string]string{
	"back_squat":   "Agachamento livre",
	"front_squat":  "Agachamento frontal",
	"goblet_squat": "Agachamento goblet",
	"box_squat":    "Agachamento no banco",
	"squat":        "Agachamento",
}

// ExerciseLabel returns the Portuguese display name of an exercise type.
func ExerciseLabel(exerciseType string) string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(exerciseType)), "-", "_")
	if l, ok := exerciseLabels[key]; ok {
		return l
	}
	if key == "" {
		return landmark.TemplateFor("").Label
	}
	return exerciseType
}
