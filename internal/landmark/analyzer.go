package landmark

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// Analyze runs the quantitative chain for one session: health probe,
// landmark extraction, aggregation and rule classification. Retrieval and
// narrative are layered on by the caller.
func (c *Client) Analyze(ctx context.Context, frames []analysis.FrameInput, exerciseType string) (*analysis.QuantitativeResult, error) {
	start := time.Now()
	if err := c.Health(ctx); err != nil {
		return nil, err
	}

	resp, err := c.AnalyzeFrames(ctx, frames, exerciseType)
	if err != nil {
		return nil, err
	}
	if len(resp.Frames) == 0 {
		return nil, fmt.Errorf("landmark service returned no frames")
	}

	paths := make(map[int]string, len(frames))
	for _, f := range frames {
		paths[f.Index] = f.Path
	}

	tmpl := TemplateFor(exerciseType)
	values := Aggregate(resp.Frames)
	cls := Classify(tmpl, values)

	log.Info().
		Str("category", cls.Category).
		Int("criteria", len(cls.Classifications)).
		Float64("score", cls.Score).
		Bool("danger", cls.HasDanger).
		Msg("Landmark classification complete")

	return &analysis.QuantitativeResult{
		Category:         cls.Category,
		Frames:           MeasuredFrames(resp, paths),
		Metrics:          values,
		Classifications:  cls.Classifications,
		Score:            cls.Score,
		HasDanger:        cls.HasDanger,
		HasSafetyWarning: cls.HasSafetyWarning,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
