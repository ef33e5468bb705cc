package cli

import (
	"errors"
	"fmt"

	"github.com/ncruces/zenity"
)

// ErrPickCanceled is returned when the user closes the picker.
var ErrPickCanceled = errors.New("selection canceled")

// PickInput opens a native dialog for a video file or, with directory set,
// a frame directory.
func PickInput(directory bool) (string, error) {
	var (
		selected string
		err      error
	)
	if directory {
		selected, err = zenity.SelectFile(
			zenity.Directory(),
			zenity.Title("Select frame directory"),
		)
	} else {
		selected, err = zenity.SelectFile(
			zenity.Title("Select exercise video"),
			zenity.FileFilters{
				{
					Name:     "Videos",
					Patterns: []string{"*.mp4", "*.mov", "*.m4v", "*.webm", "*.avi", "*.mkv"},
				},
			},
		)
	}
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPickCanceled
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	return selected, nil
}
