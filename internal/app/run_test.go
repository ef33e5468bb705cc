package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/dispatch"
	"github.com/fpang/biomech-analyzer/internal/events"
	"github.com/fpang/biomech-analyzer/internal/metrics"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
	"github.com/fpang/biomech-analyzer/internal/reference"
	"github.com/fpang/biomech-analyzer/internal/store"
)

func init() {
	metrics.Disabled = true
}

type stubAnalyzer struct {
	reg *reference.Registry
}

func (s stubAnalyzer) AnalyzeFrame(_ context.Context, in analysis.FrameInput, _ int, _ bool) (analysis.FrameAnalysisResult, error) {
	return analysis.FrameAnalysisResult{
		Frame:         analysis.MeasuredFrame{FrameIndex: in.Index, ImagePath: in.Path},
		RawScore:      8,
		AdjustedScore: 8,
		Method:        analysis.MethodStandalone,
	}, nil
}

func (s stubAnalyzer) Registry() *reference.Registry { return s.reg }

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

type fakeBus struct {
	detailTypes []string
}

func (f *fakeBus) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	for _, e := range in.Entries {
		f.detailTypes = append(f.detailTypes, *e.DetailType)
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newExecutor(t *testing.T, st store.AnalysisStore, objects map[string][]byte, bus *fakeBus) *Executor {
	t.Helper()
	orch := pipeline.New(stubAnalyzer{reg: reference.MustLoadDefault()})
	return &Executor{
		Runner: pipeline.NewRunner(orch, st),
		Frames: 6,
		S3:     &fakeS3{objects: objects},
		Bucket: "media",
		Events: events.NewPublisher(bus, ""),
	}
}

func TestExecutor_FrameKeys(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bus := &fakeBus{}
	img := pngBytes(t)
	e := newExecutor(t, st, map[string][]byte{"s1/f1.png": img, "s1/f2.png": img}, bus)

	runner := e.Runner
	if _, err := runner.Create(ctx, pipeline.Input{SessionID: "s1", ExerciseType: "back_squat"}); err != nil {
		t.Fatal(err)
	}

	s, err := e.Run(ctx, dispatch.Event{Type: dispatch.EventTypeRun, SessionID: "s1", FrameKeys: []string{"s1/f1.png", "s1/f2.png"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Status != analysis.StatusAIAnalyzed || len(s.Frames) != 2 {
		t.Fatalf("session = %s with %d frames", s.Status, len(s.Frames))
	}
	if s.ExerciseType != "back_squat" {
		t.Errorf("exercise type not taken from the stored record: %q", s.ExerciseType)
	}
	if len(bus.detailTypes) != 1 || bus.detailTypes[0] != events.DetailAnalysisComplete {
		t.Errorf("events = %v", bus.detailTypes)
	}
}

func TestExecutor_MissingFrameRecordsError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bus := &fakeBus{}
	e := newExecutor(t, st, map[string][]byte{}, bus)

	if _, err := e.Runner.Create(ctx, pipeline.Input{SessionID: "s2", ExerciseType: "back_squat"}); err != nil {
		t.Fatal(err)
	}
	err := e.Dispatch(ctx, dispatch.Event{SessionID: "s2", FrameKeys: []string{"s2/missing.png"}})
	if err == nil {
		t.Fatal("expected a download error")
	}

	got, _ := st.Get(ctx, "s2")
	if got.Status != analysis.StatusError || !strings.Contains(got.Error.Message, "missing.png") {
		t.Errorf("status %s error %+v", got.Status, got.Error)
	}
	if len(bus.detailTypes) != 1 || bus.detailTypes[0] != events.DetailAnalysisFailed {
		t.Errorf("events = %v", bus.detailTypes)
	}
}

func TestExecutor_NoSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := newExecutor(t, st, nil, &fakeBus{})
	if _, err := e.Runner.Create(ctx, pipeline.Input{SessionID: "s3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(ctx, dispatch.Event{SessionID: "s3"}); err == nil || !strings.Contains(err.Error(), "no video or frames") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{S3VideoPath("media", "s1/squat.mp4"), "media", "s1/squat.mp4", true},
		{"s3://media/", "", "", false},
		{"s3://media", "", "", false},
		{"/videos/squat.mp4", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := parseS3Path(tt.in)
		if ok != tt.ok || (ok && (bucket != tt.bucket || key != tt.key)) {
			t.Errorf("parseS3Path(%q) = (%q, %q, %v)", tt.in, bucket, key, ok)
		}
	}
}
