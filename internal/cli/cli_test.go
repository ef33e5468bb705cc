package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{65 * time.Second, "1:05"},
		{3725 * time.Second, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestResolveInput(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "squat.MP4")
	notes := filepath.Join(dir, "notes.txt")
	for _, p := range []string{video, notes} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"directory", dir, false},
		{"video", video, false},
		{"unsupported file", notes, true},
		{"missing", filepath.Join(dir, "missing.mp4"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInput(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveInput(%s) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err == nil && !filepath.IsAbs(got) {
				t.Errorf("ResolveInput returned relative path %s", got)
			}
		})
	}
}

func TestPromptForInput(t *testing.T) {
	var out bytes.Buffer
	if got := PromptForInput(strings.NewReader("\n"), &out, "/videos"); got != "/videos" {
		t.Errorf("empty answer = %q, want default", got)
	}
	if got := PromptForInput(strings.NewReader("  squat.mp4 \n"), &out, "/videos"); got != "squat.mp4" {
		t.Errorf("answer = %q", got)
	}
	if !strings.Contains(out.String(), "[/videos]") {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestPrintSession(t *testing.T) {
	s := &analysis.Session{
		ID:              "s1",
		ExerciseType:    "back_squat",
		MovementPattern: "squat",
		Classification:  analysis.Bom,
		MergedScore:     7.6,
		PipelineAScore:  7.0,
		PipelineBScore:  8.0,
		PipelinesUsed:   analysis.PipelinesUsed{Qualitative: true, Quantitative: true},
		Frames: []analysis.FrameAnalysisResult{{
			Frame:            analysis.MeasuredFrame{FrameIndex: 1, TimestampSeconds: 0.5, Phase: analysis.PhaseEccentric},
			SimilarityToGold: 88,
			AdjustedScore:    8.8,
			Method:           analysis.MethodComparative,
		}},
		CriticalPoints: []analysis.CriticalPoint{{
			DisplayName: "Valgo dinâmico", FramesAffected: 4, TotalFrames: 6, Frequency: 0.67, Severity: analysis.SeverityCritica,
		}},
		Report: &analysis.Report{
			ExecutiveSummary: "Resumo",
			Recommendations:  []analysis.Recommendation{{Priority: 1, Category: "Segurança", Description: "Corrigir valgo"}},
		},
	}

	var buf bytes.Buffer
	PrintSession(&buf, s, 75*time.Second)
	out := buf.String()
	for _, want := range []string{"BOM", "quantitative 8.0", "1:15", "0.5s", "88%", "[CRITICA] Valgo dinâmico: 4/6 frames (67%)", "1. [Segurança] Corrigir valgo"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
