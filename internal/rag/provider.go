// Package rag retrieves reference snippets for the topics a classification
// flags, to ground the narrative report.
package rag

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Snippet is one retrieved piece of reference knowledge.
type Snippet struct {
	Topic   string  `json:"topic"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score,omitempty"`
}

// Provider returns snippets relevant to a list of topics.
type Provider interface {
	Retrieve(ctx context.Context, topics []string) ([]Snippet, error)
}

// Chain queries providers in order and returns the first non-empty result.
// Provider errors are logged and skipped; an exhausted chain yields an empty
// context rather than an error.
type Chain []Provider

// Retrieve implements Provider.
func (c Chain) Retrieve(ctx context.Context, topics []string) ([]Snippet, error) {
	for i, p := range c {
		if p == nil {
			continue
		}
		snippets, err := p.Retrieve(ctx, topics)
		if err != nil {
			log.Warn().Err(err).Int("provider", i).Msg("Retrieval provider failed, trying next")
			continue
		}
		if len(snippets) > 0 {
			return snippets, nil
		}
	}
	return nil, nil
}

func normalizeTopic(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
