package frames

import (
	"fmt"
	"os"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// captureTime reads DateTimeOriginal, falling back to CreateDate.
func captureTime(path string) (time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open frame: %w", err)
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}
	if t := exifData.DateTimeOriginal(); !t.IsZero() {
		return t, nil
	}
	return exifData.CreateDate(), nil
}

// ApplyCaptureTimes replaces the synthetic timestamps of a frame directory
// with offsets from the first frame's EXIF capture time. The set is left
// untouched unless every frame carries a capture time and they do not
// all coincide.
func ApplyCaptureTimes(set *Set) bool {
	if len(set.Frames) < 2 {
		return false
	}
	times := make([]time.Time, len(set.Frames))
	for i, f := range set.Frames {
		t, err := captureTime(f.Path)
		if err != nil || t.IsZero() {
			log.Debug().Err(err).Str("path", f.Path).Msg("Frame has no capture time")
			return false
		}
		times[i] = t
	}
	if times[len(times)-1].Equal(times[0]) {
		return false
	}
	for i := range set.Frames {
		set.Frames[i].TimestampSeconds = times[i].Sub(times[0]).Seconds()
	}
	return true
}
