package cli

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/auth"
	"github.com/fpang/biomech-analyzer/internal/config"
)

// InitApp wires the engine for a command-line run and exits fatally when the
// API key is missing or the wiring fails.
func InitApp(ctx context.Context, cfg *config.Config, opts ...app.Option) *app.App {
	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		var validationErr *auth.ValidationError
		if errors.As(err, &validationErr) {
			HandleValidationError(err)
		}
		log.Fatal().Err(err).Msg("failed to initialize analysis engine")
	}
	log.Info().Str("model", a.Gemini.Model()).Msg("Analysis engine ready")
	return a
}
