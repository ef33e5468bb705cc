// Package frames turns an exercise video into the evenly spaced still frames
// the analysis engine measures, using ffmpeg and ffprobe from PATH.
package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// DefaultCount is the number of frames sampled from a video.
const DefaultCount = 6

// frameJPEGQuality is ffmpeg's qscale:v; 2 is near-lossless.
const frameJPEGQuality = 2

// Set holds sampled frames on local disk.
type Set struct {
	Dir    string
	Frames []analysis.FrameInput

	// Cleanup removes the temporary frame directory. It is a no-op for
	// caller-owned directories.
	Cleanup func()
}

// Probe returns the video duration in seconds.
func Probe(ctx context.Context, videoPath string) (float64, error) {
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeDuration(out)
}

func parseProbeDuration(out []byte) (float64, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("video has no usable duration: %q", probe.Format.Duration)
	}
	return d, nil
}

// Timestamps returns n evenly spaced timestamps strictly inside the video:
// interval = duration/(n+1), frame i at interval*i.
func Timestamps(duration float64, n int) []float64 {
	if n <= 0 || duration <= 0 {
		return nil
	}
	interval := duration / float64(n+1)
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = interval * float64(i+1)
	}
	return ts
}

// Sample extracts n evenly spaced JPEG frames from videoPath into a temporary
// directory. The caller must call Cleanup on the returned set.
func Sample(ctx context.Context, videoPath string, n int) (*Set, error) {
	if n <= 0 {
		n = DefaultCount
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: frame sampling requires ffmpeg: %w", err)
	}

	duration, err := Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "biomech-frames-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove frame directory")
		}
	}

	log.Info().
		Str("video", filepath.Base(videoPath)).
		Float64("duration_s", duration).
		Int("frames", n).
		Msg("Sampling frames")

	set := &Set{Dir: dir, Cleanup: cleanup}
	for i, ts := range Timestamps(duration, n) {
		out := filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i+1))
		cmd := exec.CommandContext(ctx, ffmpegPath,
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", videoPath,
			"-frames:v", "1",
			"-qscale:v", strconv.Itoa(frameJPEGQuality),
			"-y", out,
		)
		if output, err := cmd.CombinedOutput(); err != nil {
			cleanup()
			return nil, fmt.Errorf("frame %d extraction failed: %w\nOutput: %s", i+1, err, string(output))
		}
		set.Frames = append(set.Frames, analysis.FrameInput{Index: i + 1, Path: out, TimestampSeconds: ts})
	}

	log.Info().Int("frames", len(set.Frames)).Str("dir", dir).Msg("Frame sampling complete")
	return set, nil
}

// FromDir lists already-extracted JPEG/PNG frames in dir, sorted by name.
// Timestamps are index*interval seconds; pass 0 when unknown.
func FromDir(dir string, interval float64) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no JPEG or PNG frames in %s", dir)
	}
	sort.Strings(names)

	set := &Set{Dir: dir, Cleanup: func() {}}
	for i, name := range names {
		set.Frames = append(set.Frames, analysis.FrameInput{
			Index:            i + 1,
			Path:             filepath.Join(dir, name),
			TimestampSeconds: float64(i) * interval,
		})
	}
	return set, nil
}

// Load returns frames for path. A directory is read with FromDir, using EXIF
// capture times when present; anything else is sampled as a video.
func Load(ctx context.Context, path string, n int) (*Set, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input not found: %w", err)
	}
	if !info.IsDir() {
		return Sample(ctx, path, n)
	}
	set, err := FromDir(path, 0)
	if err != nil {
		return nil, err
	}
	if ApplyCaptureTimes(set) {
		log.Debug().Str("dir", path).Msg("Frame timestamps taken from EXIF capture times")
	}
	return set, nil
}
