// Package store persists analysis session records for the review workflow.
//
// Every backend enforces the status machine in analysis.CanTransition on
// UpdateStatus. Put is a full upsert and does not check transitions; callers
// move a record to PROCESSING through UpdateStatus before writing results.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

var (
	// ErrNotFound is returned by UpdateStatus for an unknown session.
	ErrNotFound = errors.New("analysis session not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AnalysisStore is the persistence interface for analysis sessions.
// Implementations are safe for concurrent use.
type AnalysisStore interface {
	// Get returns the session, or nil, nil when it does not exist.
	Get(ctx context.Context, id string) (*analysis.Session, error)

	// Put creates or replaces a session record.
	Put(ctx context.Context, s *analysis.Session) error

	// UpdateStatus moves a session to status. sessErr is stored with ERROR
	// and cleared for any other status.
	UpdateStatus(ctx context.Context, id, status string, sessErr *analysis.SessionError) error
}

func transitionError(id, from, to string) error {
	return fmt.Errorf("session %s: %w: %s -> %s", id, ErrInvalidTransition, from, to)
}

func checkTransition(id, from, to string) error {
	if !analysis.CanTransition(from, to) {
		return transitionError(id, from, to)
	}
	return nil
}
