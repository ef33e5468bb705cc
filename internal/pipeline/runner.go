package pipeline

import (
	"context"
	"fmt"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/jobutil"
	"github.com/fpang/biomech-analyzer/internal/store"
)

// Runner drives a stored session through one orchestrator run: PROCESSING,
// then AI_ANALYZED with the results, or ERROR with the cause.
type Runner struct {
	orch  *Orchestrator
	store store.AnalysisStore
}

// NewRunner creates a runner.
func NewRunner(orch *Orchestrator, st store.AnalysisStore) *Runner {
	return &Runner{orch: orch, store: st}
}

// Create stores a new PENDING_AI record for in.
func (r *Runner) Create(ctx context.Context, in Input) (*analysis.Session, error) {
	s := &analysis.Session{
		ID:           in.SessionID,
		ExerciseType: in.ExerciseType,
		VideoPath:    in.VideoPath,
		Status:       analysis.StatusPendingAI,
	}
	if err := r.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FrameLoader resolves the frames of a claimed session, for callers that
// fetch them only once the run has started. cleanup may be nil.
type FrameLoader func(ctx context.Context, s *analysis.Session) (frames []analysis.FrameInput, cleanup func(), err error)

// Execute runs an existing record. The session must be PENDING_AI or ERROR.
func (r *Runner) Execute(ctx context.Context, in Input) (*analysis.Session, error) {
	return r.ExecuteWith(ctx, in, nil)
}

// ExecuteWith is Execute with frames supplied by load instead of in.Frames.
// A load failure is recorded on the session like an analysis failure.
func (r *Runner) ExecuteWith(ctx context.Context, in Input, load FrameLoader) (*analysis.Session, error) {
	prev, err := jobutil.Begin(ctx, r.store, in.SessionID)
	if err != nil {
		return nil, err
	}
	if in.ExerciseType == "" {
		in.ExerciseType = prev.ExerciseType
	}
	if in.VideoPath == "" {
		in.VideoPath = prev.VideoPath
	}

	if load != nil {
		frames, cleanup, err := load(ctx, prev)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return nil, r.fail(ctx, in.SessionID, fmt.Errorf("load frames: %w", err))
		}
		in.Frames = frames
	}

	s, err := r.orch.Run(ctx, in)
	if err != nil {
		return nil, r.fail(ctx, in.SessionID, err)
	}

	s.CreatedAt = prev.CreatedAt
	if err := r.store.Put(ctx, s); err != nil {
		return nil, r.fail(ctx, in.SessionID, fmt.Errorf("save session %s: %w", s.ID, err))
	}
	return s, nil
}

func (r *Runner) fail(ctx context.Context, id string, err error) error {
	if werr := jobutil.SetAnalysisError(ctx, r.store, id, err.Error()); werr != nil {
		return fmt.Errorf("%w (and recording the failure: %v)", err, werr)
	}
	return err
}
