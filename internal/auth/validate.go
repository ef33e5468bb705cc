package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/biomech-analyzer/internal/metrics"
)

// ValidationError represents a specific type of API key or connectivity failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	}
	return "unknown"
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Unavailable reports whether the failure means the model cannot be reached
// at all with the current credentials and network, as opposed to a bad
// response for one request.
func (e *ValidationError) Unavailable() bool {
	return e.Type == ErrTypeNoKey || e.Type == ErrTypeInvalidKey || e.Type == ErrTypeNetworkError
}

// ValidateAPIKey verifies the key with a minimal request against model.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	result := "success"
	var valErr *ValidationError
	switch {
	case err != nil:
		valErr = ClassifyError(err)
		result = valErr.Type.String()
	case resp == nil || len(resp.Candidates) == 0:
		valErr = &ValidationError{Type: ErrTypeUnknown, Message: "API returned empty response"}
		result = "empty_response"
	}

	metrics.New().
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		log.Error().Err(valErr).Str("result", result).Msg("API key validation failed")
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// ClassifyError maps a Gemini client error onto a ValidationError.
func ClassifyError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}
	var ptrErr *genai.APIError
	if errors.As(err, &ptrErr) && ptrErr != nil {
		return classifyAPIError(*ptrErr, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection refused") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Network error reaching Gemini API", Err: err}

	default:
		return &ValidationError{Type: ErrTypeUnknown, Message: "Gemini request failed", Err: err}
	}
}

func classifyAPIError(apiErr genai.APIError, wrapped error) *ValidationError {
	switch apiErr.Code {
	case 400:
		if strings.Contains(strings.ToLower(apiErr.Message), "api key") {
			return &ValidationError{Type: ErrTypeInvalidKey, Message: "Bad request - API key may be malformed", Err: wrapped}
		}
		return &ValidationError{Type: ErrTypeUnknown, Message: "Bad request", Err: wrapped}
	case 401, 403:
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: wrapped}
	case 429:
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded - try again later", Err: wrapped}
	case 500, 502, 503, 504:
		return &ValidationError{Type: ErrTypeUnknown, Message: "Gemini API server error", Err: wrapped}
	default:
		return &ValidationError{Type: ErrTypeUnknown, Message: "Gemini API error", Err: wrapped}
	}
}
