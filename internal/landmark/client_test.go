package landmark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/metrics"
)

func init() {
	metrics.Disabled = true
}

func f64(v float64) *float64 { return &v }

func newService(t *testing.T, healthy bool, analyze http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		if !healthy {
			status = "degraded"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "service": "mediapipe-biomechanics"})
	})
	if analyze != nil {
		mux.HandleFunc("POST /analyze-frames", analyze)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func squatResponse() AnalyzeResponse {
	return AnalyzeResponse{
		Success: true,
		Frames: []FrameResult{
			{FrameNumber: 1, TimestampMs: 0, Phase: "eccentric", Confidence: 0.9, Angles: FrameAngles{KneeLeft: f64(150), KneeRight: f64(148), Hip: f64(160), Trunk: f64(10), AnkleLeft: f64(32)}},
			{FrameNumber: 2, TimestampMs: 1000, Phase: "bottom", Confidence: 0.9, Angles: FrameAngles{KneeLeft: f64(90), KneeRight: f64(86), Hip: f64(78), Trunk: f64(20), AnkleLeft: f64(34), KneeValgusLeft: f64(2)}},
			{FrameNumber: 3, TimestampMs: 1500, Phase: "concentric", Confidence: 0.9, Angles: FrameAngles{KneeLeft: f64(140), KneeRight: f64(139), Hip: f64(150), Trunk: f64(12), AnkleLeft: f64(30)}},
		},
		ProcessingTimeMs: 40,
	}
}

func TestHealth(t *testing.T) {
	srv := newService(t, true, nil)
	if err := NewClient(srv.URL).Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	bad := newService(t, false, nil)
	if err := NewClient(bad.URL).Health(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Health() error = %v, want ErrUnavailable", err)
	}
}

func TestHealth_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewClient(url).Health(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Health() error = %v, want ErrUnavailable", err)
	}
}

func TestAnalyzeFrames_SendsContract(t *testing.T) {
	var got analyzeRequest
	srv := newService(t, true, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(squatResponse())
	})

	frames := []analysis.FrameInput{
		{Index: 1, Path: "/tmp/f1.jpg", TimestampSeconds: 0},
		{Index: 2, Path: "/tmp/f2.jpg", TimestampSeconds: 1.25},
	}
	resp, err := NewClient(srv.URL).AnalyzeFrames(context.Background(), frames, "back_squat")
	if err != nil {
		t.Fatalf("AnalyzeFrames() error = %v", err)
	}
	if len(resp.Frames) != 3 {
		t.Errorf("got %d frames, want 3", len(resp.Frames))
	}
	if got.ExerciseType != "back_squat" || len(got.Frames) != 2 {
		t.Fatalf("request = %+v", got)
	}
	if got.Frames[1].Path != "/tmp/f2.jpg" || got.Frames[1].TimestampMs != 1250 {
		t.Errorf("frame 2 = %+v", got.Frames[1])
	}
}

func TestAnalyzeFrames_ServiceError(t *testing.T) {
	srv := newService(t, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "No frames could be processed"})
	})

	_, err := NewClient(srv.URL).AnalyzeFrames(context.Background(), []analysis.FrameInput{{Index: 1, Path: "x"}}, "squat")
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "No frames could be processed"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
}

func TestAnalyze(t *testing.T) {
	srv := newService(t, true, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(squatResponse())
	})

	frames := []analysis.FrameInput{{Index: 1, Path: "a"}, {Index: 2, Path: "b"}, {Index: 3, Path: "c"}}
	q, err := NewClient(srv.URL).Analyze(context.Background(), frames, "squat")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if q.Category != "squat" {
		t.Errorf("Category = %q", q.Category)
	}
	if len(q.Frames) != 3 || q.Frames[1].ImagePath != "b" || q.Frames[1].Phase != analysis.PhaseBottom {
		t.Errorf("Frames = %+v", q.Frames)
	}
	if q.Metrics[MetricHipAtBottom] != 78 {
		t.Errorf("hip at bottom = %v, want 78", q.Metrics[MetricHipAtBottom])
	}
	if q.Score <= 0 || q.Score > 10 {
		t.Errorf("Score = %v", q.Score)
	}
}

func TestAnalyze_UnhealthySkipsAnalysis(t *testing.T) {
	called := false
	srv := newService(t, false, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	_, err := NewClient(srv.URL).Analyze(context.Background(), []analysis.FrameInput{{Index: 1}}, "squat")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Analyze() error = %v, want ErrUnavailable", err)
	}
	if called {
		t.Error("analyze-frames called despite failed health check")
	}
}
