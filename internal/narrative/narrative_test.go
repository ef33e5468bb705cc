package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/gemini"
	"github.com/fpang/biomech-analyzer/internal/rag"
)

type fakeGenerator struct {
	text string
	err  error
	req  gemini.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req gemini.Request) (string, error) {
	f.req = req
	return f.text, f.err
}

func sampleClassification() *analysis.QuantitativeResult {
	return &analysis.QuantitativeResult{
		Category: "squat",
		Score:    4.6,
		Classifications: []analysis.CriterionResult{
			{Criterion: "knee_valgus", Label: "Valgo de joelho", Metric: "knee_medial_displacement_cm", Value: 12.4, Unit: "cm", Level: analysis.LevelDanger, SafetyCritical: true, Note: "Fraqueza de glúteo médio"},
			{Criterion: "trunk_control", Label: "Controle de tronco", Metric: "trunk_inclination_degrees", Value: 38, Unit: "°", Level: analysis.LevelWarning},
			{Criterion: "depth", Label: "Profundidade", Metric: "hip_angle_at_bottom", Value: 85, Unit: "°", Level: analysis.LevelGood},
		},
		HasDanger: true,
	}
}

func TestGenerate(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n" + `{
		"resumo_executivo": "Valgo dinâmico relevante.",
		"problemas_identificados": [{"nome": "Valgo", "severidade": "critica", "descricao": "Colapso medial"}, {"nome": "", "severidade": "grave"}],
		"pontos_positivos": ["Boa profundidade"],
		"recomendacoes": [{"prioridade": 0, "descricao": "Fortalecer glúteo médio"}],
		"score_geral": 14,
		"classificacao": "NECESSITA_CORRECAO"
	}` + "\n```"}
	g := New(gen, 0)

	req := Request{
		ExerciseType:   "back-squat",
		Classification: sampleClassification(),
		Context:        []rag.Snippet{{Topic: "valgo dinâmico", Content: "Colapso medial do joelho.", Source: "Manual"}},
		CriticalPoints: []analysis.CriticalPoint{{DisplayName: "Valgo Dinâmico de Joelho", FramesAffected: 4, TotalFrames: 6, Severity: analysis.SeverityCritica}},
	}
	r, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for _, want := range []string{"Agachamento livre", "valgo dinâmico", "Colapso medial do joelho.", "Valgo de joelho", "4/6 frames"} {
		if !strings.Contains(gen.req.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !gen.req.JSON || gen.req.System == "" {
		t.Error("request should ask for JSON with a system instruction")
	}

	if r.Score != 10 {
		t.Errorf("score = %v, want clamped 10", r.Score)
	}
	if r.Classification != string(analysis.NecessitaCorrecao) {
		t.Errorf("classification = %q", r.Classification)
	}
	if r.Problems[0].Severity != "CRITICA" || r.Problems[1].Severity != "MODERADA" || r.Problems[1].Name == "" {
		t.Errorf("problems not normalized: %+v", r.Problems)
	}
	if r.Recommendations[0].Priority != 3 || r.Recommendations[0].Category != "Técnica" {
		t.Errorf("recommendation defaults not applied: %+v", r.Recommendations[0])
	}
	if len(r.NextSteps) == 0 || r.Generated != GeneratedByModel {
		t.Errorf("next steps %v, generated %q", r.NextSteps, r.Generated)
	}
}

func TestGenerate_FillsMissingSections(t *testing.T) {
	gen := &fakeGenerator{text: `{"resumo_executivo": ""}`}
	r, err := New(gen, 0).Generate(context.Background(), Request{Classification: sampleClassification()})
	if err != nil {
		t.Fatal(err)
	}
	if r.Score != 4.6 || r.ExecutiveSummary != "Score: 4.6/10" {
		t.Errorf("score %v, summary %q", r.Score, r.ExecutiveSummary)
	}
	if len(r.Problems) != 2 || len(r.Positives) != 1 {
		t.Errorf("problems %d, positives %d; want derived from classification", len(r.Problems), len(r.Positives))
	}
	if r.Classification != string(analysis.NecessitaCorrecao) {
		t.Errorf("classification = %q, want derived from score", r.Classification)
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
		req  Request
	}{
		{"model error", &fakeGenerator{err: errors.New("deadline")}, Request{Classification: sampleClassification()}},
		{"no json", &fakeGenerator{text: "não consegui"}, Request{Classification: sampleClassification()}},
		{"no classification", &fakeGenerator{text: "{}"}, Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.gen, 0).Generate(context.Background(), tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFallback(t *testing.T) {
	r := Fallback(Request{ExerciseType: "back_squat", Classification: sampleClassification()})

	if !strings.Contains(r.ExecutiveSummary, "1 critérios críticos, 1 alertas") {
		t.Errorf("summary = %q", r.ExecutiveSummary)
	}
	if len(r.Problems) != 2 || r.Problems[0].Severity != "CRITICA" || r.Problems[1].Severity != "MODERADA" {
		t.Errorf("problems = %+v", r.Problems)
	}
	if len(r.Recommendations) != 1 || r.Recommendations[0].Category != "Segurança" {
		t.Errorf("recommendations = %+v", r.Recommendations)
	}
	if r.Recommendations[0].Description != "Corrigir Valgo de joelho: valor atual 12.4cm" {
		t.Errorf("recommendation = %q", r.Recommendations[0].Description)
	}
	if r.Score != 4.6 || r.Classification != string(analysis.NecessitaCorrecao) || r.Generated != GeneratedByFallback {
		t.Errorf("score %v, classification %q, generated %q", r.Score, r.Classification, r.Generated)
	}
}

func TestExerciseLabel(t *testing.T) {
	tests := map[string]string{
		"back_squat":  "Agachamento livre",
		"Front-Squat": "Agachamento frontal",
		"":            "Agachamento",
		"deadlift":    "deadlift",
	}
	for in, want := range tests {
		if got := ExerciseLabel(in); got != want {
			t.Errorf("ExerciseLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
