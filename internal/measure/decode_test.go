package measure

import (
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      map[Field]float64
		wantFound map[Field]string
	}{
		{
			name: "canonical keys",
			raw:  `{"knee_left": 92, "knee_right": 95, "hip": 88, "trunk": 20, "score": 8.5}`,
			want: map[Field]float64{FieldKneeLeft: 92, FieldKneeRight: 95, FieldHip: 88, FieldTrunk: 20, FieldScore: 8.5},
		},
		{
			name: "portuguese keys in fenced block",
			raw:  "Segue a análise:\n```json\n{\"joelho_esquerdo\": 100, \"joelho_direito\": 101, \"quadril\": 90, \"tronco\": 18, \"nota\": 7}\n```",
			want: map[Field]float64{FieldKneeLeft: 100, FieldKneeRight: 101, FieldHip: 90, FieldTrunk: 18, FieldScore: 7},
		},
		{
			name: "nested angles object",
			raw:  `{"angles": {"left_knee": 140, "right_knee": 138, "hip_angle": 150, "trunk_lean": 10}, "score": 9}`,
			want: map[Field]float64{FieldKneeLeft: 140, FieldKneeRight: 138, FieldHip: 150, FieldTrunk: 10, FieldScore: 9},
		},
		{
			name: "single knee key fills left only",
			raw:  `{"knee": 95, "hip": 90, "trunk": 20}`,
			want: map[Field]float64{FieldKneeLeft: 95, FieldKneeRight: 0, FieldHip: 90, FieldTrunk: 20},
		},
		{
			name: "substring keys with string values",
			raw:  `{"knee_angle_left_deg": "93°", "knee_angle_right_deg": "97", "hip_flexion_deg": "89,5", "trunk_forward_deg": 22}`,
			want: map[Field]float64{FieldKneeLeft: 93, FieldKneeRight: 97, FieldHip: 89.5, FieldTrunk: 22},
		},
		{
			name:      "derived metrics are not angles",
			raw:       `{"knee_valgus_diff": 12, "left_knee_deg": 90, "hip": 85, "trunk": 20}`,
			want:      map[Field]float64{FieldKneeLeft: 90, FieldHip: 85, FieldTrunk: 20},
			wantFound: map[Field]string{FieldKneeLeft: "left_knee_deg"},
		},
		{
			name: "right side key never fills left",
			raw:  `{"right_knee_deg": 97, "hip": 85, "trunk": 20}`,
			want: map[Field]float64{FieldKneeLeft: 0, FieldKneeRight: 97},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			for f, want := range tt.want {
				if got := d.Values[f]; got != want {
					t.Errorf("Values[%s] = %v, want %v (found %v)", f, got, want, d.Found)
				}
			}
			for f, want := range tt.wantFound {
				if got := d.Found[f]; got != want {
					t.Errorf("Found[%s] = %q, want %q", f, got, want)
				}
			}
		})
	}
}

func TestDecodeObservations(t *testing.T) {
	d, err := Decode(`{"knee_left": 90, "observations": ["joelhos alinhados", "  ", "tronco estável"]}`)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(d.Observations) != 2 {
		t.Fatalf("Observations = %v, want 2 entries", d.Observations)
	}
}

func TestDecodeNoJSON(t *testing.T) {
	if _, err := Decode("I cannot see the athlete in this image."); err == nil {
		t.Error("Decode() expected error for text without JSON")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"Ângulo Joelho":  "angulo_joelho",
		"flexão-quadril": "flexao_quadril",
		" inclinação ":   "inclinacao",
		"KNEE_LEFT":      "knee_left",
	}
	for in, want := range tests {
		if got := normalizeKey(in); got != want {
			t.Errorf("normalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeRejectsNonFinite(t *testing.T) {
	for _, v := range []string{"NaN", "nan", "inf", "-inf", "+Inf", "Infinity"} {
		t.Run(v, func(t *testing.T) {
			d, err := Decode(`{"knee_left": 90, "trunk": "` + v + `"}`)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := d.Values[FieldTrunk]; got != 0 {
				t.Errorf("trunk = %v, want 0", got)
			}
			if _, ok := d.Found[FieldTrunk]; ok {
				t.Errorf("trunk resolved from %q", d.Found[FieldTrunk])
			}
		})
	}
}
