package gemini

import "os"

// Gemini model IDs used by the engine.
//
// | Model Name               | API Model ID            | Use Case                          |
// |--------------------------|-------------------------|-----------------------------------|
// | Gemini 3 Flash (Preview) | gemini-3-flash-preview  | Frame measurement (default)       |
// | Gemini 2.5 Pro           | gemini-2.5-pro          | Narrative reports                 |
// | Gemini 2.5 Flash         | gemini-2.5-flash        | Stable fallback for measurement   |
// | Gemini Embedding 001     | gemini-embedding-001    | Retrieval context embeddings      |
const (
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Pro         = "gemini-2.5-pro"
	ModelGemini25Flash       = "gemini-2.5-flash"
	ModelEmbedding001        = "gemini-embedding-001"
)

// DefaultModelName is the default vision model for frame measurement.
const DefaultModelName = ModelGemini3FlashPreview

// DefaultEmbeddingModel is the default embedding model for retrieval.
const DefaultEmbeddingModel = ModelEmbedding001

// GetModelName returns the measurement model, resolved from:
// 1. BIOMECH_MODEL environment variable
// 2. GEMINI_MODEL environment variable
// 3. Default: gemini-3-flash-preview
func GetModelName() string {
	if env := os.Getenv("BIOMECH_MODEL"); env != "" {
		return env
	}
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}

// GetNarrativeModelName returns the report model (BIOMECH_NARRATIVE_MODEL,
// default: the measurement model).
func GetNarrativeModelName() string {
	if env := os.Getenv("BIOMECH_NARRATIVE_MODEL"); env != "" {
		return env
	}
	return GetModelName()
}

// GetEmbeddingModelName returns the embedding model (BIOMECH_EMBED_MODEL).
func GetEmbeddingModelName() string {
	if env := os.Getenv("BIOMECH_EMBED_MODEL"); env != "" {
		return env
	}
	return DefaultEmbeddingModel
}
