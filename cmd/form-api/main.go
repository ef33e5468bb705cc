// Package main serves the analysis API: session creation, run dispatch,
// result retrieval and the review status workflow.
//
// It listens on a local port, or runs behind API Gateway when started inside
// Lambda.
//
// Endpoints:
//
//	GET  /api/health                 health check (no origin check)
//	GET  /api/upload-url             presigned S3 PUT URL for a video upload
//	POST /api/analysis               create a session, optionally start it
//	GET  /api/analysis/{id}          session record and results
//	POST /api/analysis/{id}/run      start or retry the analysis
//	POST /api/analysis/{id}/status   move a session through review
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/config"
	"github.com/fpang/biomech-analyzer/internal/dispatch"
	"github.com/fpang/biomech-analyzer/internal/lambdaboot"
	"github.com/fpang/biomech-analyzer/internal/logging"
)

// CLI flags
var (
	portFlag           int
	mediaRootFlag      string
	fallbackReportFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "form-api",
	Short: "HTTP API for biomechanical form analysis",
	Long: `Form API exposes the analysis engine over HTTP. Sessions are created from
an uploaded video (S3) or a local video or frame directory under --media-root,
analyzed in the background, and then moved through the review workflow.

Inside AWS Lambda the same handler is served through API Gateway and runs
are dispatched to the analysis Lambda or its state machine.

Examples:
  form-api
  form-api --port 9090 --media-root ./videos`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&mediaRootFlag, "media-root", ".", "Directory local videoPath inputs are resolved against (empty disables them)")
	rootCmd.Flags().BoolVar(&fallbackReportFlag, "fallback-report", false, "Write a deterministic report when narrative generation fails")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()
	inLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	opts := []app.Option{app.WithFallbackReport(fallbackReportFlag)}
	if inLambda {
		clients := lambdaboot.InitAWS()
		lambdaboot.LoadGeminiKey(clients.SSM)
		opts = append(opts, app.WithAWSConfig(clients.Config))
	}
	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize analysis engine")
	}
	defer a.Close()

	srv := &server{runner: a.Runner, store: a.Store}
	if !inLambda {
		srv.mediaRoot = mediaRootFlag
	}

	executor := &app.Executor{Runner: a.Runner, Frames: cfg.Frames}
	if cfg.MediaBucket != "" || inLambda {
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS config")
		}
		if cfg.MediaBucket != "" {
			client := s3.NewFromConfig(awsCfg)
			srv.presigner = s3.NewPresignClient(client)
			srv.bucket = cfg.MediaBucket
			executor.S3 = client
			executor.Bucket = cfg.MediaBucket
		}
		executor.Events = lambdaboot.InitEvents(awsCfg)
		srv.dispatcher = dispatch.FromEnv(awsCfg)
	}

	// Runs get the orchestrator's session timeout plus room for frame
	// download and Pipeline A.
	local := dispatch.NewLocal(executor.Dispatch, 2*cfg.SessionTimeout)
	if srv.dispatcher == nil {
		if inLambda {
			log.Warn().Msg("No analysis Lambda or state machine configured; runs execute inside the API Lambda")
		}
		srv.dispatcher = local
	}

	handler := withMetrics(withOriginVerify(os.Getenv("ORIGIN_VERIFY_SECRET"), srv.routes()))

	a.StartupLog("form-api", initStart).
		Resource("mediaBucket", cfg.MediaBucket).
		Feature("lambda", inLambda).
		Feature("uploads", srv.presigner != nil).
		Feature("events", executor.Events != nil).
		Log()

	if inLambda {
		adapter := httpadapter.NewV2(handler)
		lambda.Start(adapter.ProxyWithContext)
		return
	}
	serve(handler, local)
}

func serve(handler http.Handler, local *dispatch.Local) {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", portFlag),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Int("port", portFlag).Msg("Starting API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Waiting for running analyses")
	local.Wait()
}
