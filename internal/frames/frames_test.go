package frames

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestTimestamps(t *testing.T) {
	got := Timestamps(7, 6)
	want := []float64{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("Timestamps() = %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("Timestamps()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if Timestamps(0, 6) != nil {
		t.Error("zero duration should yield no timestamps")
	}
}

func TestParseProbeDuration(t *testing.T) {
	d, err := parseProbeDuration([]byte(`{"format":{"duration":"4.250000"}}`))
	if err != nil || d != 4.25 {
		t.Errorf("parseProbeDuration() = %v, %v; want 4.25", d, err)
	}
	if _, err := parseProbeDuration([]byte(`{"format":{}}`)); err == nil {
		t.Error("expected error for missing duration")
	}
}

func TestFromDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_002.jpg", "frame_001.jpg", "notes.txt", "frame_003.PNG"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	set, err := FromDir(dir, 0.5)
	if err != nil {
		t.Fatalf("FromDir() error = %v", err)
	}
	if len(set.Frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(set.Frames))
	}
	if filepath.Base(set.Frames[0].Path) != "frame_001.jpg" || set.Frames[0].Index != 1 {
		t.Errorf("first frame = %+v", set.Frames[0])
	}
	if set.Frames[2].TimestampSeconds != 1.0 {
		t.Errorf("third timestamp = %v, want 1.0", set.Frames[2].TimestampSeconds)
	}
	set.Cleanup()
	if _, err := os.Stat(dir); err != nil {
		t.Error("Cleanup removed a caller-owned directory")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "frame_001.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	set, err := Load(context.Background(), dir, 6)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if len(set.Frames) != 1 {
		t.Errorf("got %d frames, want 1", len(set.Frames))
	}

	if _, err := Load(context.Background(), filepath.Join(dir, "missing.mp4"), 6); err == nil {
		t.Error("expected error for a missing input")
	}
}

func TestApplyCaptureTimes_NoEXIF(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), pngOf(4, 4), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	set, err := FromDir(dir, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if ApplyCaptureTimes(set) {
		t.Fatal("ApplyCaptureTimes reported success for frames without EXIF")
	}
	if set.Frames[1].TimestampSeconds != 0.5 {
		t.Errorf("timestamp changed to %v", set.Frames[1].TimestampSeconds)
	}
}

func TestFromDir_Empty(t *testing.T) {
	if _, err := FromDir(t.TempDir(), 0); err == nil {
		t.Error("expected error for directory without frames")
	}
}

func pngOf(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestDownscale(t *testing.T) {
	src := pngOf(400, 200)

	out, mime, err := Downscale(src, "image/png", 100)
	if err != nil {
		t.Fatalf("Downscale() error = %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", mime)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestDownscale_SmallImageUnchanged(t *testing.T) {
	src := pngOf(64, 32)
	out, mime, err := Downscale(src, "image/png", 1280)
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/png" || !bytes.Equal(out, src) {
		t.Error("image within bounds should be returned unchanged")
	}
}

func TestDownscale_NotAnImage(t *testing.T) {
	if _, _, err := Downscale([]byte("not an image"), "image/jpeg", 100); err == nil {
		t.Error("expected error for invalid image data")
	}
}
