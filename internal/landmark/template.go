package landmark

import (
	"fmt"
	"strings"
)

// Range is an interval of metric values. Open bounds exclude the endpoint.
type Range struct {
	Min, Max         float64
	HasMin, HasMax   bool
	MinOpen, MaxOpen bool
}

// Below is (-inf, v).
func Below(v float64) *Range { return &Range{Max: v, HasMax: true, MaxOpen: true} }

// Above is (v, +inf).
func Above(v float64) *Range { return &Range{Min: v, HasMin: true, MinOpen: true} }

// Between is [lo, hi].
func Between(lo, hi float64) *Range { return &Range{Min: lo, Max: hi, HasMin: true, HasMax: true} }

// Contains reports whether v lies in the range.
func (r *Range) Contains(v float64) bool {
	if r == nil {
		return false
	}
	if r.HasMin && (v < r.Min || (r.MinOpen && v == r.Min)) {
		return false
	}
	if r.HasMax && (v > r.Max || (r.MaxOpen && v == r.Max)) {
		return false
	}
	return true
}

func (r *Range) String() string {
	switch {
	case r == nil:
		return ""
	case r.HasMin && r.HasMax:
		return fmt.Sprintf("%g-%g", r.Min, r.Max)
	case r.HasMax:
		return fmt.Sprintf("< %g", r.Max)
	case r.HasMin:
		return fmt.Sprintf("> %g", r.Min)
	}
	return "any"
}

// Criterion grades one metric. Levels are checked best first; nil levels
// are skipped.
type Criterion struct {
	Name       string
	Label      string
	Metric     string
	Unit       string
	Excellent  *Range
	Good       *Range
	Acceptable *Range
	Warning    *Range
	Danger     *Range
	Topics     []string
	Note       string
}

// Template is the criteria set for one movement category.
type Template struct {
	Category       string
	Label          string
	SafetyCritical []string
	Criteria       []Criterion
}

// IsSafetyCritical reports whether the named criterion weighs double.
func (t *Template) IsSafetyCritical(name string) bool {
	for _, n := range t.SafetyCritical {
		if n == name {
			return true
		}
	}
	return false
}

// Metric names produced by the adapter.
const (
	MetricHipAtBottom       = "hip_angle_at_bottom"
	MetricKneeMedialCm      = "knee_medial_displacement_cm"
	MetricTrunkInclination  = "trunk_inclination_degrees"
	MetricAnkleDorsiflexion = "ankle_dorsiflexion_degrees"
	MetricLumbarFlexion     = "lumbar_flexion_change_degrees"
	MetricBilateralDiff     = "bilateral_angle_difference"
	MetricTempoRatio        = "eccentric_concentric_ratio"
)

// SquatTemplate grades squat variations.
var SquatTemplate = Template{
	Category:       "squat",
	Label:          "Agachamento",
	SafetyCritical: []string{"knee_valgus", "lumbar_control"},
	Criteria: []Criterion{
		{
			Name:       "depth",
			Label:      "Profundidade",
			Metric:     MetricHipAtBottom,
			Unit:       "°",
			Excellent:  Below(70),
			Good:       Between(70, 90),
			Acceptable: Between(70, 100),
			Warning:    Between(100, 120),
			Danger:     Above(120),
			Note:       "Quadril abaixo da linha do joelho = ângulo quadril < ~80°",
			Topics:     []string{"profundidade agachamento", "amplitude de movimento agachamento", "ângulo do quadril"},
		},
		{
			Name:       "knee_valgus",
			Label:      "Valgo de Joelho",
			Metric:     MetricKneeMedialCm,
			Unit:       "cm",
			Acceptable: Below(3),
			Warning:    Between(3, 6),
			Danger:     Above(6),
			Note:       "Deslocamento medial do joelho em cm (projeção frontal)",
			Topics:     []string{"valgo dinâmico", "insuficiência glúteo médio", "ativação VMO", "valgo de joelho"},
		},
		{
			Name:       "trunk_control",
			Label:      "Controle de Tronco",
			Metric:     MetricTrunkInclination,
			Unit:       "°",
			Acceptable: Below(45),
			Warning:    Between(45, 55),
			Danger:     Above(55),
			Note:       "Ângulo do tronco em relação à vertical",
			Topics:     []string{"inclinação anterior tronco agachamento", "controle core", "ângulo do tronco agachamento"},
		},
		{
			Name:       "ankle_mobility",
			Label:      "Mobilidade de Tornozelo",
			Metric:     MetricAnkleDorsiflexion,
			Unit:       "°",
			Excellent:  Above(35),
			Good:       Between(30, 35),
			Acceptable: Between(25, 30),
			Warning:    Between(20, 25),
			Danger:     Below(20),
			Note:       "Dorsiflexão do tornozelo em graus",
			Topics:     []string{"mobilidade tornozelo", "dorsiflexão", "limitação gastrocnêmio"},
		},
		{
			Name:       "lumbar_control",
			Label:      "Controle Lombar",
			Metric:     MetricLumbarFlexion,
			Unit:       "°",
			Acceptable: Below(10),
			Warning:    Between(10, 20),
			Danger:     Above(20),
			Note:       "Mudança de flexão lombar do início até o fundo (butt wink)",
			Topics:     []string{"retroversão pélvica agachamento", "butt wink", "flexão lombar"},
		},
		{
			Name:       "asymmetry",
			Label:      "Assimetria Bilateral",
			Metric:     MetricBilateralDiff,
			Unit:       "°",
			Acceptable: Below(5),
			Warning:    Between(5, 10),
			Danger:     Above(10),
			Note:       "Diferença entre ângulos de joelho direito e esquerdo",
			Topics:     []string{"assimetria bilateral", "desequilíbrio muscular", "compensação assimétrica"},
		},
		{
			Name:       "tempo",
			Label:      "Tempo do Movimento",
			Metric:     MetricTempoRatio,
			Unit:       ":1",
			Excellent:  Above(1.5),
			Acceptable: Between(1, 1.5),
			Warning:    Between(0.8, 1),
			Danger:     Below(0.8),
			Note:       "Razão entre tempo excêntrico e concêntrico",
			Topics:     []string{"controle excêntrico", "tempo agachamento", "velocidade movimento"},
		},
	},
}

var templates = map[string]*Template{
	SquatTemplate.Category: &SquatTemplate,
}

var categoryAliases = map[string]string{
	"back_squat":   "squat",
	"front_squat":  "squat",
	"goblet_squat": "squat",
	"box_squat":    "squat",
}

// Category maps an exercise type such as "back-squat" onto its movement
// category.
func Category(exerciseType string) string {
	t := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(exerciseType)), "-", "_")
	if c, ok := categoryAliases[t]; ok {
		return c
	}
	if t == "" {
		return SquatTemplate.Category
	}
	return t
}

// TemplateFor returns the criteria template for an exercise type. Unknown
// categories are graded as squats.
func TemplateFor(exerciseType string) *Template {
	if t, ok := templates[Category(exerciseType)]; ok {
		return t
	}
	return &SquatTemplate
}
