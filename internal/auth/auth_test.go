package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/genai"
)

func TestGetAPIKeyFromEnv(t *testing.T) {
	const testKey = "test-api-key-12345"
	t.Setenv(EnvAPIKey, testKey)

	key, err := GetAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != testKey {
		t.Errorf("expected key %q, got %q", testKey, key)
	}
}

func TestGetAPIKeyNoSource(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIKeyFile, "")

	_, err := GetAPIKey()
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Type != ErrTypeNoKey {
		t.Errorf("expected ErrTypeNoKey, got %v", err)
	}
}

func TestGetAPIKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("  file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIKeyFile, path)

	key, err := GetAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "file-key" {
		t.Errorf("expected file-key, got %q", key)
	}
}

func TestGetAPIKeyFileInsecure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("k"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIKeyFile, path)

	if _, err := GetAPIKey(); err == nil {
		t.Error("expected error for world-readable key file")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		want        ValidationErrorType
		unavailable bool
	}{
		{"api 401", genai.APIError{Code: 401, Message: "unauthenticated"}, ErrTypeInvalidKey, true},
		{"wrapped api 429", fmt.Errorf("generate: %w", genai.APIError{Code: 429}), ErrTypeQuotaExceeded, false},
		{"api 503", genai.APIError{Code: 503}, ErrTypeUnknown, false},
		{"dial", errors.New("dial tcp: lookup generativelanguage.googleapis.com: no such host"), ErrTypeNetworkError, true},
		{"invalid key text", errors.New("API key not valid. Please pass a valid API key."), ErrTypeInvalidKey, true},
		{"other", errors.New("something odd"), ErrTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Type != tt.want {
				t.Errorf("type = %v, want %v", got.Type, tt.want)
			}
			if got.Unavailable() != tt.unavailable {
				t.Errorf("Unavailable() = %v, want %v", got.Unavailable(), tt.unavailable)
			}
			if got.Err == nil {
				t.Error("classified error should wrap the original")
			}
		})
	}
}
