package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/gemini"
)

// Embedder turns texts into vectors. *gemini.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, taskType string, texts []string) ([][]float32, error)
}

// DefaultTopK is the number of neighbours returned per query.
const DefaultTopK = 3

// PgvectorProvider performs nearest-neighbour search over an embedded
// knowledge table.
type PgvectorProvider struct {
	pool     *pgxpool.Pool
	embedder Embedder
	topK     int
	maxDist  float64
}

// NewPgvectorProvider creates a provider over pool. The pool must have been
// opened with pgvector types registered.
func NewPgvectorProvider(pool *pgxpool.Pool, embedder Embedder) *PgvectorProvider {
	return &PgvectorProvider{pool: pool, embedder: embedder, topK: DefaultTopK, maxDist: 0.6}
}

// InitSchema creates the knowledge table and its cosine index.
func (p *PgvectorProvider) InitSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS biomech_knowledge (
			id BIGSERIAL PRIMARY KEY,
			topic TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, gemini.EmbedDimensions),
		`CREATE INDEX IF NOT EXISTS biomech_knowledge_embedding_idx
			ON biomech_knowledge USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("init knowledge schema: %w", err)
		}
	}
	return nil
}

// Index embeds entries and upserts them by topic.
func (p *PgvectorProvider) Index(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Topic + "\n" + e.Content
	}
	vecs, err := p.embedder.Embed(ctx, gemini.TaskRetrievalDocument, texts)
	if err != nil {
		return fmt.Errorf("embed knowledge: %w", err)
	}

	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(`INSERT INTO biomech_knowledge (topic, source, content, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (topic) DO UPDATE SET source = EXCLUDED.source, content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			e.Topic, e.Source, e.Content, pgvector.NewVector(vecs[i]))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("index knowledge: %w", err)
	}
	log.Info().Int("entries", len(entries)).Msg("Knowledge base indexed")
	return nil
}

// Retrieve embeds the joined topics once and returns the nearest entries
// within the distance cutoff.
func (p *PgvectorProvider) Retrieve(ctx context.Context, topics []string) ([]Snippet, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	vecs, err := p.embedder.Embed(ctx, gemini.TaskRetrievalQuery, []string{strings.Join(topics, "; ")})
	if err != nil {
		return nil, fmt.Errorf("embed topics: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT topic, source, content, embedding <=> $1 AS distance
		FROM biomech_knowledge
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(vecs[0]), p.topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		var s Snippet
		var dist float64
		if err := rows.Scan(&s.Topic, &s.Source, &s.Content, &dist); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		if dist > p.maxDist {
			continue
		}
		s.Score = 1 - dist
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	log.Debug().Int("topics", len(topics)).Int("snippets", len(out)).Msg("Vector retrieval complete")
	return out, nil
}
