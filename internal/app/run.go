package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/dispatch"
	"github.com/fpang/biomech-analyzer/internal/events"
	"github.com/fpang/biomech-analyzer/internal/frames"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
	"github.com/fpang/biomech-analyzer/internal/s3util"
)

// s3Scheme prefixes video paths that live in the media bucket.
const s3Scheme = "s3://"

// S3VideoPath is the stored form of an uploaded video's location.
func S3VideoPath(bucket, key string) string {
	return s3Scheme + bucket + "/" + key
}

func parseS3Path(p string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(p, s3Scheme)
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	return bucket, key, ok && bucket != "" && key != ""
}

// Executor runs dispatch events: it fetches the session's frames from local
// disk or S3 and drives the runner. It is the body of both the in-process
// dispatcher and the analysis Lambda.
type Executor struct {
	Runner *pipeline.Runner
	Frames int

	// S3 and Bucket serve events that carry S3 keys. Bucket is the media
	// bucket used for VideoKey and FrameKeys.
	S3     s3util.GetObjectAPI
	Bucket string

	// Events, when set, receives a completion or failure event per run.
	Events *events.Publisher
}

// Run executes ev to completion.
func (e *Executor) Run(ctx context.Context, ev dispatch.Event) (*analysis.Session, error) {
	in := pipeline.Input{SessionID: ev.SessionID, ExerciseType: ev.ExerciseType}
	if ev.VideoKey != "" {
		in.VideoPath = S3VideoPath(e.Bucket, ev.VideoKey)
	}

	s, err := e.Runner.ExecuteWith(ctx, in, func(ctx context.Context, prev *analysis.Session) ([]analysis.FrameInput, func(), error) {
		return e.load(ctx, ev, prev)
	})
	if e.Events != nil {
		pctx := context.WithoutCancel(ctx)
		var perr error
		if err != nil {
			perr = e.Events.Failed(pctx, ev.SessionID, ev.ExerciseType, err)
		} else {
			perr = e.Events.Completed(pctx, s)
		}
		if perr != nil {
			log.Warn().Err(perr).Str("sessionId", ev.SessionID).Msg("Failed to publish analysis event")
		}
	}
	return s, err
}

// Dispatch adapts Run to dispatch.RunFunc.
func (e *Executor) Dispatch(ctx context.Context, ev dispatch.Event) error {
	_, err := e.Run(ctx, ev)
	return err
}

func (e *Executor) load(ctx context.Context, ev dispatch.Event, prev *analysis.Session) ([]analysis.FrameInput, func(), error) {
	if len(ev.FrameKeys) > 0 {
		return e.loadFrameKeys(ctx, ev.FrameKeys)
	}

	videoPath := prev.VideoPath
	if ev.VideoKey != "" {
		videoPath = S3VideoPath(e.Bucket, ev.VideoKey)
	}
	if videoPath == "" {
		return nil, nil, errors.New("session has no video or frames")
	}

	cleanup := func() {}
	if bucket, key, ok := parseS3Path(videoPath); ok {
		if e.S3 == nil {
			return nil, nil, fmt.Errorf("S3 is not configured for %s", videoPath)
		}
		local, rm, err := s3util.DownloadToTempFile(ctx, e.S3, bucket, key)
		if err != nil {
			return nil, nil, err
		}
		videoPath, cleanup = local, rm
	}

	set, err := frames.Load(ctx, videoPath, e.Frames)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return set.Frames, func() { set.Cleanup(); cleanup() }, nil
}

func (e *Executor) loadFrameKeys(ctx context.Context, keys []string) ([]analysis.FrameInput, func(), error) {
	if e.S3 == nil {
		return nil, nil, errors.New("S3 is not configured for frame keys")
	}
	dir, err := os.MkdirTemp("", "biomech-s3-frames-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	if _, err := s3util.DownloadFrames(ctx, e.S3, e.Bucket, keys, dir); err != nil {
		cleanup()
		return nil, nil, err
	}
	set, err := frames.FromDir(dir, 0)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	frames.ApplyCaptureTimes(set)
	return set.Frames, cleanup, nil
}
