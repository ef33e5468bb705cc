package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/dispatch"
	"github.com/fpang/biomech-analyzer/internal/jobs"
	"github.com/fpang/biomech-analyzer/internal/metrics"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
	"github.com/fpang/biomech-analyzer/internal/s3util"
	"github.com/fpang/biomech-analyzer/internal/store"
)

// RunResult is returned to the caller (the state machine reads it).
type RunResult struct {
	SessionID      string                  `json:"sessionId"`
	Status         string                  `json:"status"`
	Classification analysis.Classification `json:"classification,omitempty"`
	MergedScore    float64                 `json:"mergedScore"`
	ReportKey      string                  `json:"reportKey,omitempty"`
	ReportURL      string                  `json:"reportUrl,omitempty"`
}

type worker struct {
	exec   *app.Executor
	store  store.AnalysisStore
	s3     s3util.PutObjectAPI
	bucket string

	// tag and presign are optional.
	tag     func(ctx context.Context, key string) error
	presign func(ctx context.Context, key string) (string, error)
}

// run executes one session. Events from the state machine may reference an
// upload that has no session record yet; one is created from the event.
func (w *worker) run(ctx context.Context, event dispatch.Event) (*RunResult, error) {
	start := time.Now()
	if err := jobs.ValidateSessionID(event.SessionID); err != nil {
		return nil, err
	}
	if event.Model != "" {
		log.Debug().Str("model", event.Model).Msg("Per-event model override ignored; the engine model is fixed at cold start")
	}

	existing, err := w.store.Get(ctx, event.SessionID)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if existing == nil {
		if event.VideoKey == "" && len(event.FrameKeys) == 0 {
			return nil, errors.New("unknown session and no videoKey or frameKeys to create it from")
		}
		in := pipeline.Input{SessionID: event.SessionID, ExerciseType: event.ExerciseType}
		if event.VideoKey != "" {
			in.VideoPath = app.S3VideoPath(w.bucket, event.VideoKey)
		}
		if _, err := w.exec.Runner.Create(ctx, in); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		log.Info().Str("sessionId", event.SessionID).Msg("Session record created from event")
	}

	if event.VideoKey != "" && w.tag != nil {
		if err := w.tag(ctx, event.VideoKey); err != nil {
			log.Warn().Err(err).Str("key", event.VideoKey).Msg("Failed to tag uploaded video")
		}
	}

	s, err := w.exec.Run(ctx, event)
	if err != nil {
		metrics.New().
			Dimension("Operation", "analysis-run").
			Count("AnalysisFailures").
			Property("sessionId", event.SessionID).
			Flush()
		return nil, err
	}

	result := &RunResult{
		SessionID:      s.ID,
		Status:         s.Status,
		Classification: s.Classification,
		MergedScore:    s.MergedScore,
	}
	if key, err := w.export(ctx, s); err != nil {
		// The session is stored; the export is a convenience copy.
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("Failed to export report")
	} else {
		result.ReportKey = key
		if w.presign != nil {
			if url, err := w.presign(ctx, key); err == nil {
				result.ReportURL = url
			}
		}
	}

	elapsed := time.Since(start)
	metrics.New().
		Dimension("Operation", "analysis-run").
		Metric("AnalysisDurationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("MergedScore", s.MergedScore, metrics.UnitNone).
		Count("AnalysisCompleted").
		Property("sessionId", s.ID).
		Property("classification", string(s.Classification)).
		Flush()

	log.Info().
		Str("sessionId", s.ID).
		Str("classification", string(s.Classification)).
		Float64("mergedScore", s.MergedScore).
		Dur("duration", elapsed).
		Msg("Analysis run complete")
	return result, nil
}

func (w *worker) export(ctx context.Context, s *analysis.Session) (string, error) {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return s3util.UploadReport(ctx, w.s3, w.bucket, s.ID, body)
}
