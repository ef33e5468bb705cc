// Package narrative writes the structured reviewer report for a landmark
// classification, grounded on retrieved reference context.
package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/assets"
	"github.com/fpang/biomech-analyzer/internal/fusion"
	"github.com/fpang/biomech-analyzer/internal/gemini"
	"github.com/fpang/biomech-analyzer/internal/jsonutil"
	"github.com/fpang/biomech-analyzer/internal/rag"
)

// DefaultTimeout bounds one report generation.
const DefaultTimeout = 180 * time.Second

// Generated values record where a report came from.
const (
	GeneratedByModel    = "model"
	GeneratedByFallback = "fallback"
)

// Generator is the model capability used to write reports. *gemini.Client
// implements it.
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// Request is everything the report is written from.
type Request struct {
	ExerciseType   string
	Classification *analysis.QuantitativeResult
	Context        []rag.Snippet
	CriticalPoints []analysis.CriticalPoint
}

// ReportGenerator writes narrative reports through a Generator.
type ReportGenerator struct {
	gen     Generator
	timeout time.Duration
}

// New creates a report generator. A zero timeout uses DefaultTimeout.
func New(gen Generator, timeout time.Duration) *ReportGenerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ReportGenerator{gen: gen, timeout: timeout}
}

type promptView struct {
	ExerciseLabel   string
	Score           float64
	HasDanger       bool
	Classifications []analysis.CriterionResult
	CriticalPoints  []analysis.CriticalPoint
	Context         []rag.Snippet
}

// Generate asks the model for a report and normalizes its answer. Missing
// sections are filled from the classification.
func (g *ReportGenerator) Generate(ctx context.Context, req Request) (*analysis.Report, error) {
	if req.Classification == nil {
		return nil, fmt.Errorf("narrative: no classification to report on")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt, err := assets.RenderNarrativeReportPrompt(promptView{
		ExerciseLabel:   ExerciseLabel(req.ExerciseType),
		Score:           req.Classification.Score,
		HasDanger:       req.Classification.HasDanger,
		Classifications: req.Classification.Classifications,
		CriticalPoints:  req.CriticalPoints,
		Context:         req.Context,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := g.gen.Generate(ctx, gemini.Request{
		Operation:       "narrative",
		System:          assets.NarrativeSystemPrompt,
		Prompt:          prompt,
		MaxOutputTokens: 4000,
		Temperature:     0.3,
		JSON:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("narrative: %w", err)
	}

	raw, err := jsonutil.ParseJSON[analysis.Report](text)
	if err != nil {
		log.Warn().Err(err).Str("preview", jsonutil.Preview(text, 200)).Msg("Narrative response unparseable")
		return nil, fmt.Errorf("narrative: %w", err)
	}

	report := normalize(&raw, req.Classification)
	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("problems", len(report.Problems)).
		Int("recommendations", len(report.Recommendations)).
		Msg("Narrative report generated")
	return report, nil
}

var validSeverities = map[string]bool{
	string(analysis.SeverityCritica):  true,
	string(analysis.SeverityModerada): true,
	string(analysis.SeverityLeve):     true,
}

var defaultNextSteps = []string{
	"Revisar pontos críticos",
	"Praticar exercícios corretivos",
	"Reavaliar em 2-4 semanas",
}

func normalize(r *analysis.Report, c *analysis.QuantitativeResult) *analysis.Report {
	score := r.Score
	if score <= 0 {
		score = c.Score
	}
	score = fusion.Round1(clamp(score, 0, 10))
	r.Score = score

	if r.ExecutiveSummary == "" {
		r.ExecutiveSummary = fmt.Sprintf("Score: %.1f/10", score)
	}

	if r.Problems == nil {
		r.Problems = problemsFrom(c)
	}
	for i := range r.Problems {
		p := &r.Problems[i]
		if p.Name == "" {
			p.Name = "Problema não especificado"
		}
		sev := strings.ToUpper(strings.TrimSpace(p.Severity))
		if !validSeverities[sev] {
			sev = string(analysis.SeverityModerada)
		}
		p.Severity = sev
	}

	if r.Positives == nil {
		r.Positives = positivesFrom(c)
	}
	for i := range r.Recommendations {
		rec := &r.Recommendations[i]
		if rec.Priority <= 0 {
			rec.Priority = 3
		}
		if rec.Category == "" {
			rec.Category = "Técnica"
		}
	}
	if r.Recommendations == nil {
		r.Recommendations = []analysis.Recommendation{}
	}

	r.Classification = normalizeClassification(r.Classification, score)
	if len(r.NextSteps) == 0 {
		r.NextSteps = append([]string(nil), defaultNextSteps...)
	}
	r.Generated = GeneratedByModel
	return r
}

// normalizeClassification accepts the labels with or without the cedilla and
// otherwise derives the label from the score.
func normalizeClassification(label string, score float64) string {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case string(analysis.Excelente):
		return string(analysis.Excelente)
	case string(analysis.Bom):
		return string(analysis.Bom)
	case string(analysis.Regular):
		return string(analysis.Regular)
	case string(analysis.NecessitaCorrecao), "NECESSITA_CORRECAO":
		return string(analysis.NecessitaCorrecao)
	}
	return string(fusion.Classify(score))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
