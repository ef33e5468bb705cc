package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/cli"
	"github.com/fpang/biomech-analyzer/internal/config"
	"github.com/fpang/biomech-analyzer/internal/frames"
	"github.com/fpang/biomech-analyzer/internal/jobs"
	"github.com/fpang/biomech-analyzer/internal/logging"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
)

// CLI flags
var (
	framesFlag         int
	exerciseFlag       string
	workersFlag        int
	referencesFlag     string
	storeFlag          string
	outFlag            string
	noLandmarksFlag    bool
	modelFlag          string
	fallbackReportFlag bool
	pickFlag           string
)

var rootCmd = &cobra.Command{
	Use:   "form-analyze [VIDEO|FRAME_DIR]",
	Short: "Biomechanical form analysis of an exercise video",
	Long: `Form Analyze samples frames from an exercise video (or reads an existing
frame directory), measures joint angles with Gemini, compares every frame with
gold-standard and deviation references and, when the landmark service is
reachable, fuses the result with rule-based landmark metrics and a narrative
report.

Examples:
  form-analyze squat.mp4
  form-analyze ./frames --exercise front_squat --workers 2
  form-analyze squat.mp4 --no-landmarks --out result.json
  form-analyze squat.mp4 --store dynamo --fallback-report
  form-analyze --pick video`,
	Args: cobra.MaximumNArgs(1),
	Run:  runMain,
}

func init() {
	rootCmd.Flags().IntVarP(&framesFlag, "frames", "n", frames.DefaultCount, "Number of frames to sample from a video")
	rootCmd.Flags().StringVarP(&exerciseFlag, "exercise", "e", "back_squat", "Exercise type (back_squat, front_squat, goblet_squat, deadlift, ...)")
	rootCmd.Flags().IntVarP(&workersFlag, "workers", "w", pipeline.DefaultWorkers, fmt.Sprintf("Concurrent frame measurements (1-%d)", pipeline.MaxWorkers))
	rootCmd.Flags().StringVar(&referencesFlag, "references", "", "Directory holding reference frame images (default $REFERENCE_DIR)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Where to save the session: file, dynamo, postgres or memory (default $BIOMECH_STORE)")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Write the session JSON to this file")
	rootCmd.Flags().BoolVar(&noLandmarksFlag, "no-landmarks", false, "Skip the quantitative landmark pipeline")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model for frame measurement (default $BIOMECH_MODEL)")
	rootCmd.Flags().BoolVar(&fallbackReportFlag, "fallback-report", false, "Write a deterministic report when narrative generation fails")
	rootCmd.Flags().StringVar(&pickFlag, "pick", "", "Choose the input in a native dialog: video or dir")

	rootCmd.AddCommand(showCmd, indexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the environment and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	flags := cmd.Flags()
	if flags.Changed("frames") {
		cfg.Frames = framesFlag
	}
	if flags.Changed("workers") {
		cfg.Workers = workersFlag
	}
	if flags.Changed("references") {
		cfg.ReferenceDir = referencesFlag
		cfg.ReferenceBucket = ""
	}
	if flags.Changed("store") {
		cfg.Store = storeFlag
	}
	if flags.Changed("no-landmarks") {
		cfg.NoLandmarks = noLandmarksFlag
	}
	if flags.Changed("model") {
		cfg.Model = modelFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()
	cfg := loadConfig(cmd)

	input, err := chooseInput(args)
	if err != nil {
		log.Fatal().Err(err).Msg("No input selected")
	}
	input, err = cli.ResolveInput(input)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid input")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := cli.InitApp(ctx, cfg, app.WithFallbackReport(fallbackReportFlag))
	defer a.Close()
	a.StartupLog("form-analyze", initStart).Log()

	if err := analyze(ctx, a, input); err != nil {
		a.Close()
		log.Fatal().Err(err).Msg("Analysis failed")
	}
}

// chooseInput takes the positional argument, then the native picker, then an
// interactive prompt defaulting to the working directory.
func chooseInput(args []string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case pickFlag == "video" || pickFlag == "dir":
		return cli.PickInput(pickFlag == "dir")
	case pickFlag != "":
		return "", fmt.Errorf("--pick must be video or dir, got %q", pickFlag)
	}
	cwd, _ := os.Getwd()
	return cli.PromptForInput(os.Stdin, os.Stdout, cwd), nil
}

func analyze(ctx context.Context, a *app.App, input string) error {
	start := time.Now()
	set, err := frames.Load(ctx, input, a.Config.Frames)
	if err != nil {
		return err
	}
	defer set.Cleanup()

	in := pipeline.Input{
		SessionID:    jobs.NewSessionID(),
		ExerciseType: exerciseFlag,
		VideoPath:    input,
		Frames:       set.Frames,
	}
	log.Info().
		Str("sessionId", in.SessionID).
		Str("input", input).
		Str("exercise", in.ExerciseType).
		Int("frames", len(in.Frames)).
		Msg("Starting form analysis")

	if _, err := a.Runner.Create(ctx, in); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	session, err := a.Runner.Execute(ctx, in)
	if err != nil {
		return err
	}

	cli.PrintSession(os.Stdout, session, time.Since(start))

	if outFlag != "" {
		data, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		if err := os.WriteFile(outFlag, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outFlag, err)
		}
		log.Info().Str("path", outFlag).Msg("Session written")
	}
	return nil
}
