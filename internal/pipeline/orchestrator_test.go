package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/compare"
	"github.com/fpang/biomech-analyzer/internal/measure"
	"github.com/fpang/biomech-analyzer/internal/metrics"
	"github.com/fpang/biomech-analyzer/internal/narrative"
	"github.com/fpang/biomech-analyzer/internal/rag"
	"github.com/fpang/biomech-analyzer/internal/reference"
	"github.com/fpang/biomech-analyzer/internal/store"
)

func init() {
	metrics.Disabled = true
}

// stubMeasurer returns canned angles per 1-based frame index and tracks how
// many measurements run at once.
type stubMeasurer struct {
	angles map[int]analysis.Angles
	errs   map[int]error
	delay  time.Duration

	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *stubMeasurer) Measure(ctx context.Context, _ string, frameIndex, _ int) (*measure.Measurement, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		// Later frames finish first.
		time.Sleep(s.delay * time.Duration(7-frameIndex))
	}
	if err := s.errs[frameIndex]; err != nil {
		return nil, err
	}
	return &measure.Measurement{Angles: s.angles[frameIndex]}, nil
}

type stubQuantitative struct {
	result *analysis.QuantitativeResult
	err    error
	block  bool
}

func (s *stubQuantitative) Analyze(ctx context.Context, _ []analysis.FrameInput, _ string) (*analysis.QuantitativeResult, error) {
	if s.block {
		<-ctx.Done()
		return nil, fmt.Errorf("landmark analyze: %w", ctx.Err())
	}
	return s.result, s.err
}

type stubNarrator struct {
	mu  sync.Mutex
	req narrative.Request
	err error
}

func (s *stubNarrator) Generate(_ context.Context, req narrative.Request) (*analysis.Report, error) {
	s.mu.Lock()
	s.req = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &analysis.Report{ExecutiveSummary: "ok", Generated: narrative.GeneratedByModel}, nil
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(_ context.Context, topics []string) ([]rag.Snippet, error) {
	return []rag.Snippet{{Topic: topics[0], Content: "c"}}, nil
}

func goldAngles(reg *reference.Registry) map[int]analysis.Angles {
	gold := reg.Gold()
	out := make(map[int]analysis.Angles, gold.Frames())
	for i := 1; i <= gold.Frames(); i++ {
		out[i] = gold.Expected(i)
	}
	return out
}

func frameInputs(n int) []analysis.FrameInput {
	in := make([]analysis.FrameInput, n)
	for i := range in {
		in[i] = analysis.FrameInput{Index: i + 1, Path: fmt.Sprintf("frame_%03d.jpg", i+1), TimestampSeconds: float64(i+1) * 0.5}
	}
	return in
}

// goldFrames writes placeholder gold reference images and returns a source over them.
func goldFrames(t *testing.T, reg *reference.Registry) reference.FrameSource {
	t.Helper()
	dir := t.TempDir()
	for _, img := range reg.Gold().FrameImages {
		p := filepath.Join(dir, filepath.FromSlash(img))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return reference.NewDirSource(dir)
}

func newOrchestrator(t *testing.T, m *stubMeasurer, opts ...Option) *Orchestrator {
	t.Helper()
	reg := reference.MustLoadDefault()
	if m.angles == nil {
		m.angles = goldAngles(reg)
	}
	opts = append([]Option{WithReferenceFrames(goldFrames(t, reg))}, opts...)
	return New(compare.NewEngine(reg, m), opts...)
}

func run(t *testing.T, o *Orchestrator) *analysis.Session {
	t.Helper()
	s, err := o.Run(context.Background(), Input{SessionID: "sess-1", ExerciseType: "back_squat", Frames: frameInputs(6)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return s
}

func TestRun_MatchesGold(t *testing.T) {
	s := run(t, newOrchestrator(t, &stubMeasurer{}))

	for _, f := range s.Frames {
		if f.SimilarityToGold != 100 || f.Method != analysis.MethodComparative {
			t.Errorf("frame %d: similarity %d method %s", f.Frame.FrameIndex, f.SimilarityToGold, f.Method)
		}
	}
	if s.OverallScore != 10 || s.Classification != analysis.Excelente {
		t.Errorf("overall %v %s, want 10 EXCELENTE", s.OverallScore, s.Classification)
	}
	if s.Status != analysis.StatusAIAnalyzed || s.CompletedAt == 0 {
		t.Errorf("status %s completedAt %d", s.Status, s.CompletedAt)
	}
	if s.MovementPattern != "squat" || len(s.ReferencesUsed) != 4 || s.ReferencesUsed[0] != "squat-gold-1" {
		t.Errorf("movement %q references %v", s.MovementPattern, s.ReferencesUsed)
	}
}

func TestRun_RecurringValgusIsCritical(t *testing.T) {
	reg := reference.MustLoadDefault()
	angles := goldAngles(reg)
	for i := 1; i <= 4; i++ {
		a := angles[i]
		a.KneeRight = a.KneeLeft - 14
		angles[i] = a
	}
	s := run(t, newOrchestrator(t, &stubMeasurer{angles: angles}))

	if len(s.CriticalPoints) == 0 || s.CriticalPoints[0].DeviationType != analysis.KneeValgus {
		t.Fatalf("critical points = %+v, want knee_valgus first", s.CriticalPoints)
	}
	cp := s.CriticalPoints[0]
	if cp.FramesAffected != 4 || cp.Frequency != 0.67 || cp.Severity != analysis.SeverityCritica {
		t.Errorf("knee_valgus = %d/%d %.2f %s, want 4/6 0.67 CRITICA", cp.FramesAffected, cp.TotalFrames, cp.Frequency, cp.Severity)
	}
}

func TestRun_LandmarkFailureKeepsPipelineA(t *testing.T) {
	quant := &stubQuantitative{err: errors.New("dial tcp 127.0.0.1:5000: connect: connection refused")}
	s := run(t, newOrchestrator(t, &stubMeasurer{}, WithQuantitative(quant)))

	if s.PipelinesUsed.Quantitative {
		t.Error("quantitative pipeline reported as used")
	}
	if s.MergedScore != s.PipelineAScore {
		t.Errorf("merged %v != pipeline A %v", s.MergedScore, s.PipelineAScore)
	}
	if s.DegradedReason == "" || s.Report != nil {
		t.Errorf("degraded %q report %v", s.DegradedReason, s.Report)
	}
}

func TestRun_OneFrameFailsAfterRetries(t *testing.T) {
	reg := reference.MustLoadDefault()
	angles := goldAngles(reg)
	angles[3] = analysis.Angles{}
	s := run(t, newOrchestrator(t, &stubMeasurer{angles: angles}))

	if len(s.Frames) != 6 {
		t.Fatalf("got %d frames", len(s.Frames))
	}
	bad := s.Frames[2]
	if bad.Method != analysis.MethodErrorFallback || bad.AdjustedScore != 0 || bad.SimilarityToGold != 0 {
		t.Errorf("failed frame = %+v", bad)
	}
	for i, f := range s.Frames {
		if i != 2 && f.AdjustedScore != 10 {
			t.Errorf("frame %d affected by neighbour failure: %v", i+1, f.AdjustedScore)
		}
	}
	if s.OverallScore != 10 {
		t.Errorf("overall = %v, want 10 from the five valid frames", s.OverallScore)
	}
}

func TestRun_NoGoldFramesRunsStandalone(t *testing.T) {
	reg := reference.MustLoadDefault()
	o := New(compare.NewEngine(reg, &stubMeasurer{angles: goldAngles(reg)}), WithReferenceFrames(reference.NewDirSource(t.TempDir())))
	s := run(t, o)

	for _, f := range s.Frames {
		if f.Method != analysis.MethodStandalone {
			t.Errorf("frame %d method = %s", f.Frame.FrameIndex, f.Method)
		}
	}
	if s.OverallScore != 10 {
		t.Errorf("overall = %v, want raw-score fallback 10", s.OverallScore)
	}
	if len(s.ReferencesUsed) != 3 {
		t.Errorf("references = %v, want deviations only", s.ReferencesUsed)
	}
}

func TestRun_CapabilityUnavailableIsFatal(t *testing.T) {
	errs := map[int]error{}
	for i := 1; i <= 6; i++ {
		errs[i] = fmt.Errorf("frame %d: %w", i, measure.ErrCapabilityUnavailable)
	}
	o := newOrchestrator(t, &stubMeasurer{errs: errs})

	_, err := o.Run(context.Background(), Input{SessionID: "s", Frames: frameInputs(6)})
	if !errors.Is(err, ErrQualitativeUnavailable) || !errors.Is(err, measure.ErrCapabilityUnavailable) {
		t.Errorf("error = %v, want ErrQualitativeUnavailable wrapping the capability error", err)
	}
}

func TestRun_PartialUnavailabilityIsNotFatal(t *testing.T) {
	o := newOrchestrator(t, &stubMeasurer{errs: map[int]error{2: measure.ErrCapabilityUnavailable}})
	s := run(t, o)
	if s.Frames[1].Method != analysis.MethodErrorFallback {
		t.Errorf("frame 2 method = %s", s.Frames[1].Method)
	}
}

func TestRun_ProbeFailureIsFatal(t *testing.T) {
	o := newOrchestrator(t, &stubMeasurer{}, WithCapabilityProbe(func(context.Context) error {
		return errors.New("invalid api key")
	}))
	if _, err := o.Run(context.Background(), Input{Frames: frameInputs(6)}); !errors.Is(err, ErrQualitativeUnavailable) {
		t.Errorf("error = %v", err)
	}
}

func TestRun_NoFrames(t *testing.T) {
	o := newOrchestrator(t, &stubMeasurer{})
	if _, err := o.Run(context.Background(), Input{}); !errors.Is(err, ErrNoFrames) {
		t.Errorf("error = %v", err)
	}
}

func TestRun_QuantitativeFusion(t *testing.T) {
	quant := &stubQuantitative{result: &analysis.QuantitativeResult{
		Score: 6,
		Frames: []analysis.MeasuredFrame{
			{FrameIndex: 1, ValgusDetected: true},
			{FrameIndex: 2},
		},
		Classifications: []analysis.CriterionResult{{Criterion: "knee_valgus", Level: analysis.LevelDanger, Topics: []string{"valgo dinâmico"}}},
	}}
	narr := &stubNarrator{}
	s := run(t, newOrchestrator(t, &stubMeasurer{}, WithQuantitative(quant), WithRetriever(stubRetriever{}), WithNarrator(narr)))

	if !s.PipelinesUsed.Quantitative || s.PipelineBScore != 6 {
		t.Fatalf("pipelines %+v B=%v", s.PipelinesUsed, s.PipelineBScore)
	}
	if s.MergedScore != 7.6 || s.Classification != analysis.Bom {
		t.Errorf("merged %v %s, want 7.6 BOM", s.MergedScore, s.Classification)
	}
	if s.Report == nil || s.Report.ExecutiveSummary != "ok" {
		t.Errorf("report = %+v", s.Report)
	}
	if s.Quantitative.ContextSnippets != 1 || len(narr.req.Context) != 1 || narr.req.Context[0].Topic != "valgo dinâmico" {
		t.Errorf("retrieved context not passed to narrator: %+v", narr.req.Context)
	}
	if len(narr.req.CriticalPoints) != 1 || narr.req.CriticalPoints[0].DeviationType != analysis.KneeValgus {
		t.Errorf("narrator critical points = %+v", narr.req.CriticalPoints)
	}
}

func TestRun_NarrativeFailure(t *testing.T) {
	newQuant := func() *stubQuantitative {
		return &stubQuantitative{result: &analysis.QuantitativeResult{Score: 8}}
	}

	t.Run("degrades pipeline B", func(t *testing.T) {
		quant := &stubQuantitative{result: &analysis.QuantitativeResult{Score: 2}}
		s := run(t, newOrchestrator(t, &stubMeasurer{}, WithQuantitative(quant), WithNarrator(&stubNarrator{err: errors.New("narrative generation timeout")})))
		if s.PipelinesUsed.Quantitative {
			t.Errorf("pipelines %+v, want quantitative dropped", s.PipelinesUsed)
		}
		if s.MergedScore != s.PipelineAScore {
			t.Errorf("merged %v, want pipeline A score %v", s.MergedScore, s.PipelineAScore)
		}
		if s.Quantitative != nil || s.Report != nil {
			t.Errorf("quantitative %+v report %+v, want both nil", s.Quantitative, s.Report)
		}
		if !strings.HasPrefix(s.DegradedReason, "narrative: ") {
			t.Errorf("degraded reason = %q", s.DegradedReason)
		}
	})

	t.Run("fallback report keeps pipeline B", func(t *testing.T) {
		s := run(t, newOrchestrator(t, &stubMeasurer{}, WithQuantitative(newQuant()), WithNarrator(&stubNarrator{err: errors.New("timeout")}), WithFallbackReport(true)))
		if !s.PipelinesUsed.Quantitative || s.PipelineBScore != 8 {
			t.Errorf("pipeline B lost: %+v", s.PipelinesUsed)
		}
		if s.Report == nil || s.Report.Generated != narrative.GeneratedByFallback {
			t.Errorf("report = %+v", s.Report)
		}
		if s.Quantitative.NarrativeDegraded == "" {
			t.Error("narrative failure not recorded")
		}
	})
}

func TestRun_SessionDeadlineCancelsPipelineB(t *testing.T) {
	o := newOrchestrator(t, &stubMeasurer{}, WithQuantitative(&stubQuantitative{block: true}), WithSessionTimeout(50*time.Millisecond))

	start := time.Now()
	s := run(t, o)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("session took %v", elapsed)
	}
	if s.PipelinesUsed.Quantitative || s.MergedScore != s.PipelineAScore {
		t.Errorf("pipelines %+v merged %v A %v", s.PipelinesUsed, s.MergedScore, s.PipelineAScore)
	}
}

func TestRun_BoundedConcurrencyKeepsOrder(t *testing.T) {
	m := &stubMeasurer{delay: 5 * time.Millisecond}
	s := run(t, newOrchestrator(t, m, WithWorkers(2)))

	if peak := m.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	for i, f := range s.Frames {
		if f.Frame.FrameIndex != i+1 || f.Frame.TimestampSeconds != float64(i+1)*0.5 {
			t.Errorf("slot %d holds frame %d at %v", i, f.Frame.FrameIndex, f.Frame.TimestampSeconds)
		}
	}
}

func TestNew_ClampsWorkers(t *testing.T) {
	reg := reference.MustLoadDefault()
	e := compare.NewEngine(reg, &stubMeasurer{})
	tests := map[int]int{0: 1, -3: 1, 3: 3, 5: 5, 12: MaxWorkers}
	for in, want := range tests {
		if got := New(e, WithWorkers(in)).Workers(); got != want {
			t.Errorf("WithWorkers(%d) = %d, want %d", in, got, want)
		}
	}
	if got := New(e).Workers(); got != DefaultWorkers {
		t.Errorf("default workers = %d", got)
	}
}

func TestRunner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	failing := map[int]error{}
	for i := 1; i <= 6; i++ {
		failing[i] = measure.ErrCapabilityUnavailable
	}
	m := &stubMeasurer{errs: failing}
	r := NewRunner(newOrchestrator(t, m), st)

	in := Input{SessionID: "sess-run", ExerciseType: "back_squat", Frames: frameInputs(6)}
	if _, err := r.Create(ctx, in); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Execute(ctx, in); !errors.Is(err, ErrQualitativeUnavailable) {
		t.Fatalf("Execute() error = %v", err)
	}
	got, _ := st.Get(ctx, "sess-run")
	if got.Status != analysis.StatusError || got.Error == nil {
		t.Fatalf("after failure: status %s error %+v", got.Status, got.Error)
	}

	m.errs = nil
	s, err := r.Execute(ctx, in)
	if err != nil {
		t.Fatalf("retry from ERROR: %v", err)
	}
	got, _ = st.Get(ctx, "sess-run")
	if got.Status != analysis.StatusAIAnalyzed || got.Error != nil || len(got.Frames) != 6 {
		t.Errorf("after retry: status %s error %+v frames %d", got.Status, got.Error, len(got.Frames))
	}
	if got.CreatedAt == 0 || got.CreatedAt != s.CreatedAt {
		t.Errorf("createdAt not preserved: %d vs %d", got.CreatedAt, s.CreatedAt)
	}

	if _, err := r.Execute(ctx, in); err == nil {
		t.Error("re-running an analyzed session should fail")
	}
}

func TestRunner_ExecuteWith(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	r := NewRunner(newOrchestrator(t, &stubMeasurer{}), st)

	in := Input{SessionID: "sess-load", ExerciseType: "back_squat", VideoPath: "s3://media/v.mp4"}
	if _, err := r.Create(ctx, in); err != nil {
		t.Fatal(err)
	}

	_, err := r.ExecuteWith(ctx, Input{SessionID: in.SessionID}, func(context.Context, *analysis.Session) ([]analysis.FrameInput, func(), error) {
		return nil, nil, errors.New("download failed")
	})
	if err == nil || !strings.Contains(err.Error(), "download failed") {
		t.Fatalf("ExecuteWith() error = %v", err)
	}
	got, _ := st.Get(ctx, in.SessionID)
	if got.Status != analysis.StatusError || !strings.Contains(got.Error.Message, "load frames") {
		t.Fatalf("after load failure: status %s error %+v", got.Status, got.Error)
	}

	cleaned := false
	var seenPath string
	s, err := r.ExecuteWith(ctx, Input{SessionID: in.SessionID}, func(_ context.Context, prev *analysis.Session) ([]analysis.FrameInput, func(), error) {
		seenPath = prev.VideoPath
		return frameInputs(6), func() { cleaned = true }, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWith() retry: %v", err)
	}
	if seenPath != "s3://media/v.mp4" || !cleaned {
		t.Errorf("loader saw %q, cleanup ran %v", seenPath, cleaned)
	}
	if s.Status != analysis.StatusAIAnalyzed || s.ExerciseType != "back_squat" || len(s.Frames) != 6 {
		t.Errorf("session = %s %s frames %d", s.Status, s.ExerciseType, len(s.Frames))
	}
}

// putFailingStore rejects full-record writes once armed.
type putFailingStore struct {
	*store.MemoryStore
	fail atomic.Bool
}

func (s *putFailingStore) Put(ctx context.Context, sess *analysis.Session) error {
	if s.fail.Load() {
		return errors.New("item size has exceeded the maximum allowed size")
	}
	return s.MemoryStore.Put(ctx, sess)
}

func TestRunner_SaveFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	st := &putFailingStore{MemoryStore: store.NewMemoryStore()}
	r := NewRunner(newOrchestrator(t, &stubMeasurer{}), st)

	in := Input{SessionID: "sess-save", ExerciseType: "back_squat", Frames: frameInputs(6)}
	if _, err := r.Create(ctx, in); err != nil {
		t.Fatal(err)
	}

	st.fail.Store(true)
	if _, err := r.Execute(ctx, in); err == nil || !strings.Contains(err.Error(), "save session") {
		t.Fatalf("Execute() error = %v", err)
	}
	got, _ := st.Get(ctx, in.SessionID)
	if got.Status != analysis.StatusError || got.Error == nil || !strings.Contains(got.Error.Message, "item size") {
		t.Fatalf("after save failure: status %s error %+v", got.Status, got.Error)
	}

	st.fail.Store(false)
	if _, err := r.Execute(ctx, in); err != nil {
		t.Fatalf("retry after save failure: %v", err)
	}
	if got, _ = st.Get(ctx, in.SessionID); got.Status != analysis.StatusAIAnalyzed {
		t.Errorf("after retry: status %s", got.Status)
	}
}
