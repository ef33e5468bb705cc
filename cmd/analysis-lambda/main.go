// Package main provides the Lambda entry point that runs analysis sessions.
//
// It is invoked asynchronously by the API Lambda, or as the run step of the
// analysis state machine, with a dispatch.Event:
//   - analysis-run: load the session's video or frames from the media bucket,
//     run both pipelines, store the result and export report.json next to
//     the upload
//
// Container: Heavy (ffmpeg for frame sampling)
// Memory: 2 GB
// Timeout: 15 minutes
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/config"
	"github.com/fpang/biomech-analyzer/internal/dispatch"
	"github.com/fpang/biomech-analyzer/internal/lambdaboot"
	"github.com/fpang/biomech-analyzer/internal/logging"
	"github.com/fpang/biomech-analyzer/internal/s3util"
)

var coldStart = true

// reportURLExpiry bounds the presigned report link returned to the state machine.
const reportURLExpiry = time.Hour

var w *worker

// setup runs once per cold start, before the first invocation.
func setup() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(clients.Config, config.EnvMediaBucket)
	sessions := lambdaboot.InitDynamo(clients.Config, config.EnvDynamoTable)
	lambdaboot.LoadGeminiKey(clients.SSM)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	a, err := app.Build(context.Background(), cfg,
		app.WithAWSConfig(clients.Config),
		app.WithStore(sessions),
		app.WithFallbackReport(true),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize analysis engine")
	}

	exec := &app.Executor{
		Runner: a.Runner,
		Frames: cfg.Frames,
		S3:     s3s.Client,
		Bucket: s3s.Bucket,
	}
	exec.Events = lambdaboot.InitEvents(clients.Config)

	w = &worker{
		exec:   exec,
		store:  a.Store,
		s3:     s3s.Client,
		bucket: s3s.Bucket,
		tag: func(ctx context.Context, key string) error {
			return s3util.TagObject(ctx, s3s.Client, s3s.Bucket, key)
		},
		presign: func(ctx context.Context, key string) (string, error) {
			return s3util.GeneratePresignedURL(ctx, s3s.Presigner, s3s.Bucket, key, reportURLExpiry)
		},
	}

	a.StartupLog("analysis-lambda", initStart).
		Resource("mediaBucket", s3s.Bucket).
		Resource("sessions", cfg.DynamoTable).
		Resource("geminiApiKey", lambdaboot.APIKeyParam()).
		Feature("events", exec.Events != nil).
		Log()
}

func main() {
	setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, event dispatch.Event) (*RunResult, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "analysis-lambda").Msg("Cold start: first invocation")
	}
	log.Info().
		Str("type", event.Type).
		Str("sessionId", event.SessionID).
		Str("videoKey", event.VideoKey).
		Int("frameKeys", len(event.FrameKeys)).
		Msg("Analysis Lambda invoked")

	switch event.Type {
	case dispatch.EventTypeRun, "":
		return w.run(ctx, event)
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
