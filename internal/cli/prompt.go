package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForInput asks for a video file or frame directory. An empty answer
// yields def.
func PromptForInput(in io.Reader, out io.Writer, def string) string {
	fmt.Fprintf(out, "Video or frame directory [%s]: ", def)

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input, using default")
		return def
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}
