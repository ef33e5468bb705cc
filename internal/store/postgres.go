package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// PostgresStore keeps each session as a JSONB document with its status and
// error promoted to columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ AnalysisStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the sessions table.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS biomech_analysis (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			exercise_type TEXT NOT NULL DEFAULT '',
			merged_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			data JSONB NOT NULL,
			error JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS biomech_analysis_status_idx ON biomech_analysis (status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init analysis schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, session *analysis.Session) error {
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	var errDoc []byte
	if session.Error != nil {
		if errDoc, err = json.Marshal(session.Error); err != nil {
			return fmt.Errorf("marshal session error: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO biomech_analysis (id, status, exercise_type, merged_score, data, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7::bigint), now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			exercise_type = EXCLUDED.exercise_type,
			merged_score = EXCLUDED.merged_score,
			data = EXCLUDED.data,
			error = EXCLUDED.error,
			updated_at = now()`,
		session.ID, session.Status, session.ExerciseType, session.MergedScore, data, errDoc, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.ID, err)
	}

	log.Debug().Str("sessionId", session.ID).Str("status", session.Status).Msg("Session persisted to Postgres")
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*analysis.Session, error) {
	var (
		status  string
		data    []byte
		errDoc  []byte
		session analysis.Session
	)
	err := s.pool.QueryRow(ctx,
		`SELECT status, data, error FROM biomech_analysis WHERE id = $1`, id).
		Scan(&status, &data, &errDoc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	session.ID = id
	session.Status = status
	session.Error = nil
	if len(errDoc) > 0 {
		var se analysis.SessionError
		if err := json.Unmarshal(errDoc, &se); err != nil {
			return nil, fmt.Errorf("decode session error %s: %w", id, err)
		}
		session.Error = &se
	}
	return &session, nil
}

// UpdateStatus changes the status only when the current status allows it.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string, sessErr *analysis.SessionError) error {
	var errDoc []byte
	if status == analysis.StatusError && sessErr != nil {
		var err error
		if errDoc, err = json.Marshal(sessErr); err != nil {
			return fmt.Errorf("marshal session error: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE biomech_analysis
		SET status = $2, error = $3, updated_at = now(),
			data = jsonb_set(data, '{status}', to_jsonb($2::text))
		WHERE id = $1 AND status = ANY($4)`,
		id, status, errDoc, analysis.AllowedFrom(status))
	if err != nil {
		return fmt.Errorf("update session status %s -> %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 1 {
		log.Debug().Str("sessionId", id).Str("status", status).Msg("Session status updated")
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM biomech_analysis WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read session status %s: %w", id, err)
	}
	return transitionError(id, current, status)
}
