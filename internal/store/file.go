package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

const fileExt = ".json.zst"

// FileStore writes each session as zstd-compressed JSON under a directory.
// It serves single-user CLI runs; the mutex covers this process only.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ AnalysisStore = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file a session is stored in.
func (f *FileStore) Path(id string) string {
	return filepath.Join(f.dir, id+fileExt)
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, id string) (*analysis.Session, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(id)
}

func (f *FileStore) Put(_ context.Context, s *analysis.Session) error {
	if err := validID(s.ID); err != nil {
		return err
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(s)
}

func (f *FileStore) UpdateStatus(_ context.Context, id, status string, sessErr *analysis.SessionError) error {
	if err := validID(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.read(id)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	if err := checkTransition(id, s.Status, status); err != nil {
		return err
	}
	applyStatus(s, status, sessErr)
	return f.write(s)
}

func (f *FileStore) read(id string) (*analysis.Session, error) {
	file, err := os.Open(f.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", id, err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var s analysis.Session
	if err := json.NewDecoder(dec).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	s.ID = id
	return &s, nil
}

// write replaces the session file atomically via a temp file and rename.
func (f *FileStore) write(s *analysis.Session) error {
	tmp, err := os.CreateTemp(f.dir, s.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(s); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush session %s: %w", s.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp.Name(), f.Path(s.ID)); err != nil {
		return fmt.Errorf("rename session %s: %w", s.ID, err)
	}

	log.Debug().Str("sessionId", s.ID).Str("path", f.Path(s.ID)).Str("status", s.Status).Msg("Session written")
	return nil
}
