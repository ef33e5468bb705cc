package measure

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fpang/biomech-analyzer/internal/jsonutil"
)

// Field is one value the decoder resolves from the model's JSON.
type Field string

const (
	FieldKneeLeft   Field = "knee_left"
	FieldKneeRight  Field = "knee_right"
	FieldHip        Field = "hip"
	FieldTrunk      Field = "trunk"
	FieldScore      Field = "score"
	FieldConfidence Field = "confidence"
)

// fieldRule lists accepted keys for a field. Exact aliases are tried first,
// in order, then substring aliases, then Default.
type fieldRule struct {
	Field     Field
	Exact     []string
	Substring []string
	Default   float64

	// RightSide restricts substring matches to keys naming the right side.
	// Rules without it skip such keys.
	RightSide bool
}

// aliasTable is the complete key-matching policy. Keys are compared after
// normalisation (lower case, spaces and dashes folded to underscores). Order
// matters: a key claimed by an earlier field is not offered to later ones.
var aliasTable = []fieldRule{
	{
		Field:     FieldKneeLeft,
		Exact:     []string{"knee_left", "left_knee", "kneeleft", "joelho_esquerdo", "angulo_joelho_esquerdo", "knee_angle_left", "knee", "joelho", "angulo_joelho", "knee_angle"},
		Substring: []string{"knee_l", "left_knee", "joelho_esq", "knee", "joelho"},
	},
	{
		Field:     FieldKneeRight,
		Exact:     []string{"knee_right", "right_knee", "kneeright", "joelho_direito", "angulo_joelho_direito", "knee_angle_right"},
		Substring: []string{"knee", "joelho"},
		RightSide: true,
	},
	{
		Field:     FieldHip,
		Exact:     []string{"hip", "hip_angle", "hip_flexion", "quadril", "angulo_quadril", "flexao_quadril"},
		Substring: []string{"hip", "quadril"},
	},
	{
		Field:     FieldTrunk,
		Exact:     []string{"trunk", "trunk_angle", "trunk_lean", "trunk_inclination", "tronco", "angulo_tronco", "inclinacao_tronco", "torso"},
		Substring: []string{"trunk", "tronco", "torso", "inclina"},
	},
	{
		Field:     FieldScore,
		Exact:     []string{"score", "nota", "pontuacao", "quality_score", "technique_score"},
		Substring: []string{"score", "nota"},
	},
	{
		Field:     FieldConfidence,
		Exact:     []string{"confidence", "confianca"},
		Substring: []string{"confid", "confian"},
		Default:   0,
	},
}

// nestedKeys are object keys whose contents are hoisted to the top level
// before matching.
var nestedKeys = []string{"angles", "angulos", "joint_angles", "angulos_articulares", "measurements", "medidas"}

// observationKeys hold free-text notes from the model.
var observationKeys = []string{"observations", "observacoes", "notes", "notas"}

// Decoded is the result of decoding one model response.
type Decoded struct {
	Values       map[Field]float64
	Found        map[Field]string
	Observations []string
}

// Decode extracts angle values from free-form model text. It fails only when
// no JSON object can be found.
func Decode(raw string) (*Decoded, error) {
	obj, err := jsonutil.ParseObject(raw)
	if err != nil {
		return nil, fmt.Errorf("decode measurement: %w", err)
	}
	return DecodeObject(obj), nil
}

// DecodeObject resolves every field of the alias table against obj.
func DecodeObject(obj map[string]any) *Decoded {
	flat := flatten(obj)
	d := &Decoded{
		Values: make(map[Field]float64, len(aliasTable)),
		Found:  make(map[Field]string, len(aliasTable)),
	}

	claimed := make(map[string]bool)
	for _, rule := range aliasTable {
		key, v, ok := resolve(flat, rule, claimed)
		if !ok {
			d.Values[rule.Field] = rule.Default
			continue
		}
		claimed[key] = true
		d.Values[rule.Field] = v
		d.Found[rule.Field] = key
	}

	for _, k := range observationKeys {
		if notes, ok := obj[k].([]any); ok {
			for _, n := range notes {
				if s, ok := n.(string); ok && strings.TrimSpace(s) != "" {
					d.Observations = append(d.Observations, strings.TrimSpace(s))
				}
			}
		}
	}
	return d
}

func resolve(flat map[string]float64, rule fieldRule, claimed map[string]bool) (string, float64, bool) {
	for _, alias := range rule.Exact {
		if v, ok := flat[alias]; ok && !claimed[alias] {
			return alias, v, true
		}
	}

	// Substring matches iterate keys in sorted order for determinism.
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, alias := range rule.Substring {
		for _, k := range keys {
			if claimed[k] || isDerivedMetric(k) || isRightSide(k) != rule.RightSide {
				continue
			}
			if strings.Contains(k, alias) {
				return k, flat[k], true
			}
		}
	}
	return "", 0, false
}

// isDerivedMetric excludes keys such as "knee_valgus_left" or
// "knee_difference" that mention a joint but are not its angle.
func isDerivedMetric(key string) bool {
	for _, marker := range []string{"valg", "diff", "asym", "assim", "range", "min", "max"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func isRightSide(key string) bool {
	return strings.Contains(key, "right") || strings.Contains(key, "direit") || strings.HasSuffix(key, "_r")
}

// flatten normalises keys, hoists known nested objects and keeps only values
// that parse as numbers.
func flatten(obj map[string]any) map[string]float64 {
	out := make(map[string]float64, len(obj))
	for _, nk := range nestedKeys {
		if nested, ok := lookupObject(obj, nk); ok {
			for k, v := range nested {
				if f, ok := toFloat(v); ok {
					out[normalizeKey(k)] = f
				}
			}
		}
	}
	for k, v := range obj {
		if f, ok := toFloat(v); ok {
			out[normalizeKey(k)] = f
		}
	}
	return out
}

func lookupObject(obj map[string]any, key string) (map[string]any, bool) {
	for k, v := range obj {
		if normalizeKey(k) == key {
			m, ok := v.(map[string]any)
			return m, ok
		}
	}
	return nil, false
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_", "ã", "a", "â", "a", "á", "a", "ç", "c", "é", "e", "ê", "e", "í", "i", "ó", "o", "ô", "o", "õ", "o", "ú", "u").Replace(k)
	return k
}

// toFloat accepts numbers and numeric strings. NaN and infinities are
// rejected so they never reach scoring or the persisted session.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "°"))
		var err error
		if f, err = strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
