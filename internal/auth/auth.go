// Package auth resolves and validates the Gemini API credentials used by the
// measurement and narrative clients.
package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Environment variables consulted by GetAPIKey.
const (
	EnvAPIKey     = "GEMINI_API_KEY"
	EnvAPIKeyFile = "GEMINI_API_KEY_FILE"
)

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. File named by GEMINI_API_KEY_FILE (mounted secrets); must not be
//     readable by group or others
func GetAPIKey() (string, error) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	path := os.Getenv(EnvAPIKeyFile)
	if path == "" {
		return "", &ValidationError{Type: ErrTypeNoKey, Message: "API key not found. Set " + EnvAPIKey + " or " + EnvAPIKeyFile}
	}

	key, err := readKeyFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to read API key file")
		return "", &ValidationError{Type: ErrTypeNoKey, Message: "API key file unreadable", Err: err}
	}
	log.Debug().Str("file", path).Msg("Using API key from file")
	return key, nil
}

func readKeyFile(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		return "", fmt.Errorf("insecure permissions %04o on %s (want 0600)", mode, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return key, nil
}
