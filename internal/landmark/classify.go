package landmark

import (
	"math"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// NeutralScore is returned when no criterion could be classified.
const NeutralScore = 5.0

// safetyDangerCap bounds the score when a safety-critical criterion is in danger.
const safetyDangerCap = 5.0

var levelWeights = map[analysis.ClassificationLevel]float64{
	analysis.LevelExcellent:  1,
	analysis.LevelGood:       1,
	analysis.LevelAcceptable: 1,
	analysis.LevelWarning:    0.6,
	analysis.LevelDanger:     0,
}

// Result is the rule classification of one session's metrics.
type Result struct {
	Category         string
	Classifications  []analysis.CriterionResult
	Score            float64
	HasDanger        bool
	HasSafetyWarning bool
}

// Level grades value against a criterion. Values outside every declared
// range are danger when a danger range exists (they lie past it), otherwise
// acceptable.
func Level(c Criterion, value float64) analysis.ClassificationLevel {
	ordered := []struct {
		r *Range
		l analysis.ClassificationLevel
	}{
		{c.Excellent, analysis.LevelExcellent},
		{c.Good, analysis.LevelGood},
		{c.Acceptable, analysis.LevelAcceptable},
		{c.Warning, analysis.LevelWarning},
		{c.Danger, analysis.LevelDanger},
	}
	for _, o := range ordered {
		if o.r.Contains(value) {
			return o.l
		}
	}
	if c.Danger != nil {
		return analysis.LevelDanger
	}
	return analysis.LevelAcceptable
}

// Classify grades every template criterion whose metric is present in values.
// Missing metrics are skipped, not penalised.
func Classify(t *Template, values map[string]float64) Result {
	res := Result{Category: t.Category, Classifications: []analysis.CriterionResult{}}
	for _, c := range t.Criteria {
		v, ok := values[c.Metric]
		if !ok {
			continue
		}
		cr := analysis.CriterionResult{
			Criterion:      c.Name,
			Label:          c.Label,
			Metric:         c.Metric,
			Value:          math.Round(v*10) / 10,
			Unit:           c.Unit,
			Level:          Level(c, v),
			SafetyCritical: t.IsSafetyCritical(c.Name),
			Topics:         c.Topics,
			Note:           c.Note,
		}
		if cr.Level == analysis.LevelDanger {
			res.HasDanger = true
		}
		if cr.SafetyCritical && cr.Level == analysis.LevelWarning {
			res.HasSafetyWarning = true
		}
		res.Classifications = append(res.Classifications, cr)
	}
	res.Score = Score(res.Classifications)
	return res
}

// Score is the weighted share of passing criteria on a 0-10 scale.
// Safety-critical criteria count twice, and any of them in danger caps the
// score at 5.
func Score(cs []analysis.CriterionResult) float64 {
	if len(cs) == 0 {
		return NeutralScore
	}
	var total, weighted float64
	capped := false
	for _, c := range cs {
		w := 1.0
		if c.SafetyCritical {
			w = 2
			if c.Level == analysis.LevelDanger {
				capped = true
			}
		}
		total += w
		weighted += levelWeights[c.Level] * w
	}
	score := weighted / total * 10
	if capped {
		score = math.Min(score, safetyDangerCap)
	}
	return math.Round(score*10) / 10
}
