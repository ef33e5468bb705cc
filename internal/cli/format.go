package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// PrintSession writes a human-readable summary of a finished session.
func PrintSession(w io.Writer, s *analysis.Session, elapsed time.Duration) {
	rule := strings.Repeat("-", 44)
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 44))
	fmt.Fprintln(w, "Biomechanical Analysis")
	fmt.Fprintln(w, strings.Repeat("=", 44))
	fmt.Fprintf(w, "Session:        %s\n", s.ID)
	fmt.Fprintf(w, "Exercise:       %s (%s)\n", s.ExerciseType, s.MovementPattern)
	fmt.Fprintf(w, "Classification: %s\n", s.Classification)
	fmt.Fprintf(w, "Score:          %.1f (qualitative %.1f", s.MergedScore, s.PipelineAScore)
	if s.PipelinesUsed.Quantitative {
		fmt.Fprintf(w, ", quantitative %.1f", s.PipelineBScore)
	}
	fmt.Fprintln(w, ")")
	if s.DegradedReason != "" {
		fmt.Fprintf(w, "Degraded:       %s\n", s.DegradedReason)
	}
	fmt.Fprintf(w, "Elapsed:        %s\n", FormatDurationShort(elapsed))
	fmt.Fprintln(w, rule)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tTIME\tPHASE\tGOLD\tSCORE\tMETHOD")
	for _, f := range s.Frames {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d%%\t%.1f\t%s\n",
			f.Frame.FrameIndex, f.Frame.TimestampLabel(), f.Frame.Phase,
			f.SimilarityToGold, f.AdjustedScore, f.Method)
	}
	tw.Flush()

	if len(s.CriticalPoints) > 0 {
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w, "Critical points:")
		for _, cp := range s.CriticalPoints {
			fmt.Fprintf(w, "  [%s] %s: %d/%d frames (%.0f%%)\n",
				cp.Severity, cp.DisplayName, cp.FramesAffected, cp.TotalFrames, cp.Frequency*100)
		}
	}

	if r := s.Report; r != nil {
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w, r.ExecutiveSummary)
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  %d. [%s] %s\n", rec.Priority, rec.Category, rec.Description)
		}
	}
	fmt.Fprintln(w)
}
