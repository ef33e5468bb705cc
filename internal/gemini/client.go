// Package gemini wraps the genai SDK for the engine's three uses of the
// model: reading joint angles from a frame, writing the narrative report and
// embedding retrieval topics.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/biomech-analyzer/internal/auth"
	"github.com/fpang/biomech-analyzer/internal/metrics"
)

// ErrUnavailable marks failures where the model cannot be reached at all
// (missing or rejected key, network down). Callers treat it as fatal rather
// than retrying per request.
var ErrUnavailable = errors.New("gemini unavailable")

// Client issues generate and embed calls against one model configuration.
type Client struct {
	client     *genai.Client
	model      string
	embedModel string
}

// NewClient creates a Gemini API client for apiKey.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// New wraps an SDK client. Empty model names fall back to the environment
// defaults.
func New(client *genai.Client, model, embedModel string) *Client {
	if model == "" {
		model = GetModelName()
	}
	if embedModel == "" {
		embedModel = GetEmbeddingModelName()
	}
	return &Client{client: client, model: model, embedModel: embedModel}
}

// Model returns the generation model name.
func (c *Client) Model() string {
	return c.model
}

// WithModel returns a copy of c that generates with a different model.
func (c *Client) WithModel(model string) *Client {
	cp := *c
	if model != "" {
		cp.model = model
	}
	return &cp
}

// Request is one generate call: an optional system instruction, a prompt and
// optional inline images.
type Request struct {
	Operation       string
	System          string
	Prompt          string
	Images          []Image
	MaxOutputTokens int32
	Temperature     float32
	JSON            bool
}

// Image is inline image data for a request.
type Image struct {
	Data     []byte
	MIMEType string
}

// Generate sends req and returns the response text. Errors that mean the model
// is unreachable wrap ErrUnavailable.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	op := req.Operation
	if op == "" {
		op = "generate"
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{{Role: genai.RoleUser, Parts: parts}}, config)
	elapsed := time.Since(start)

	rec := metrics.New().
		Dimension("Operation", op).
		Metric("GeminiLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Property("model", c.model)

	if err != nil {
		rec.Count("GeminiErrors").Flush()
		return "", classify(op, err)
	}

	text := resp.Text()
	rec.Metric("GeminiResponseChars", float64(len(text)), metrics.UnitCount).Flush()

	log.Debug().
		Str("operation", op).
		Str("model", c.model).
		Dur("elapsed", elapsed).
		Int("responseChars", len(text)).
		Msg("Gemini response received")

	if text == "" {
		return "", fmt.Errorf("%s: empty response from %s", op, c.model)
	}
	return text, nil
}

// Embedding task types.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// EmbedDimensions is the embedding width requested from the model. It must
// match the vector column of the knowledge table.
const EmbedDimensions = 768

// Embed returns one embedding per text, in order.
func (c *Client) Embed(ctx context.Context, taskType string, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	dims := int32(EmbedDimensions)
	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, classify("embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if valErr := auth.ClassifyError(err); valErr.Unavailable() {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, valErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
