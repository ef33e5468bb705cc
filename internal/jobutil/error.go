// Package jobutil provides shared helpers for the analysis job lifecycle.
//
// Begin and SetAnalysisError unify the status writes made by the CLI, the
// web API and the Lambda worker around an orchestrator run.
package jobutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/store"
)

// ErrNotStartable is returned by Begin when the record is not waiting for an
// analysis run.
var ErrNotStartable = errors.New("analysis cannot start from current status")

// Begin moves a session to PROCESSING. Only PENDING_AI and ERROR records may
// start a run.
func Begin(ctx context.Context, st store.AnalysisStore, sessionID string) (*analysis.Session, error) {
	s, err := st.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("begin %s: %w", sessionID, store.ErrNotFound)
	}
	if !analysis.CanStartAnalysis(s.Status) {
		return nil, fmt.Errorf("begin %s: %w (%s)", sessionID, ErrNotStartable, s.Status)
	}
	if err := st.UpdateStatus(ctx, sessionID, analysis.StatusProcessing, nil); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("begin %s: %w: %w", sessionID, ErrNotStartable, err)
		}
		return nil, err
	}
	s.Status = analysis.StatusProcessing
	s.Error = nil
	log.Info().Str("sessionId", sessionID).Msg("Analysis started")
	return s, nil
}

// SetAnalysisError logs the failure and records ERROR with a timestamped
// message. The write uses a fresh context so a cancelled run can still
// record why it failed.
func SetAnalysisError(ctx context.Context, st store.AnalysisStore, sessionID, msg string) error {
	log.Error().
		Str("sessionId", sessionID).
		Str("error", msg).
		Msg("Analysis failed")
	return st.UpdateStatus(context.WithoutCancel(ctx), sessionID, analysis.StatusError, analysis.NewSessionError(msg))
}
