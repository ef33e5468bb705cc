package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/dispatch"
	"github.com/fpang/biomech-analyzer/internal/jobs"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
	"github.com/fpang/biomech-analyzer/internal/s3util"
	"github.com/fpang/biomech-analyzer/internal/store"
)

const analysisPrefix = "/api/analysis/"

const uploadURLExpiry = 15 * time.Minute

// safeFilenameRegex allows alphanumeric, dots, hyphens, underscores, spaces, and parentheses.
var safeFilenameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

// reviewStatuses are the statuses clients may set; the engine owns the rest.
var reviewStatuses = map[string]bool{
	analysis.StatusPendingReview:  true,
	analysis.StatusApproved:       true,
	analysis.StatusRejected:       true,
	analysis.StatusRevisionNeeded: true,
}

type server struct {
	runner     *pipeline.Runner
	store      store.AnalysisStore
	dispatcher dispatch.Dispatcher

	// presigner and bucket serve browser uploads; nil disables them.
	presigner *s3.PresignClient
	bucket    string

	// mediaRoot confines local videoPath inputs. Empty disables them.
	mediaRoot string
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/upload-url", s.handleUploadURL)
	mux.HandleFunc("/api/analysis", s.handleCreate)
	mux.HandleFunc(analysisPrefix, s.handleAnalysisRoutes)
	return mux
}

// GET /api/health
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/upload-url?filename=squat.mp4&contentType=video/mp4
func (s *server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.presigner == nil {
		httpError(w, http.StatusServiceUnavailable, "uploads are not configured")
		return
	}
	filename := r.URL.Query().Get("filename")
	if !safeFilenameRegex.MatchString(filename) || strings.Contains(filename, "..") {
		httpError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	contentType := r.URL.Query().Get("contentType")
	if !strings.HasPrefix(contentType, "video/") {
		httpError(w, http.StatusBadRequest, "contentType must be a video type")
		return
	}

	sessionID := jobs.NewSessionID()
	key := sessionID + "/" + filename
	url, err := s3util.GeneratePresignedUploadURL(r.Context(), s.presigner, s.bucket, key, contentType, uploadURLExpiry)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to presign upload")
		httpError(w, http.StatusInternalServerError, "failed to create upload URL")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"key":       key,
		"uploadUrl": url,
	})
}

type createRequest struct {
	SessionID    string `json:"sessionId"`
	ExerciseType string `json:"exerciseType"`
	VideoKey     string `json:"videoKey"`
	VideoPath    string `json:"videoPath"`
	Run          bool   `json:"run"`
}

// POST /api/analysis
// Body: {"exerciseType": "back_squat", "videoKey": "<sessionId>/squat.mp4", "run": true}
func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExerciseType == "" {
		req.ExerciseType = "back_squat"
	}
	if req.SessionID == "" {
		req.SessionID = jobs.NewSessionID()
	}
	req.SessionID = jobs.NormalizeSessionID(req.SessionID)
	if err := jobs.ValidateSessionID(req.SessionID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	videoPath, err := s.resolveVideo(req)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if existing, err := s.store.Get(ctx, req.SessionID); err != nil {
		log.Error().Err(err).Str("sessionId", req.SessionID).Msg("Failed to read session")
		httpError(w, http.StatusInternalServerError, "failed to read session")
		return
	} else if existing != nil {
		httpError(w, http.StatusConflict, "session already exists")
		return
	}

	session, err := s.runner.Create(ctx, pipeline.Input{
		SessionID:    req.SessionID,
		ExerciseType: req.ExerciseType,
		VideoPath:    videoPath,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", req.SessionID).Msg("Failed to create session")
		httpError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	log.Info().Str("sessionId", session.ID).Str("exercise", session.ExerciseType).Msg("Analysis session created")

	if !req.Run {
		respondJSON(w, http.StatusCreated, session)
		return
	}
	if !s.dispatch(w, r, session) {
		return
	}
	respondJSON(w, http.StatusAccepted, session)
}

// resolveVideo validates the request's video location and returns its stored form.
func (s *server) resolveVideo(req createRequest) (string, error) {
	switch {
	case req.VideoKey != "" && req.VideoPath != "":
		return "", errors.New("set only one of videoKey and videoPath")
	case req.VideoKey != "":
		if s.bucket == "" {
			return "", errors.New("videoKey requires a media bucket")
		}
		if containsPathTraversal(req.VideoKey) || !strings.HasPrefix(req.VideoKey, req.SessionID+"/") {
			return "", errors.New("invalid videoKey: expected <sessionId>/<filename>")
		}
		return app.S3VideoPath(s.bucket, req.VideoKey), nil
	case req.VideoPath != "":
		if s.mediaRoot == "" {
			return "", errors.New("local video paths are disabled")
		}
		if containsPathTraversal(req.VideoPath) || filepath.IsAbs(req.VideoPath) {
			return "", errors.New("invalid videoPath")
		}
		return filepath.Join(s.mediaRoot, filepath.FromSlash(req.VideoPath)), nil
	}
	return "", errors.New("videoKey or videoPath is required")
}

func (s *server) handleAnalysisRoutes(w http.ResponseWriter, r *http.Request) {
	id, action, ok := jobs.ParseRoute(r.URL.Path, analysisPrefix)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if err := jobs.ValidateSessionID(id); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch action {
	case "":
		s.handleGet(w, r, id)
	case "run":
		s.handleRun(w, r, id)
	case "status":
		s.handleStatus(w, r, id)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// GET /api/analysis/{id}
func (s *server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// POST /api/analysis/{id}/run
func (s *server) handleRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	if !analysis.CanStartAnalysis(session.Status) {
		httpError(w, http.StatusConflict, "session is "+session.Status)
		return
	}
	if !s.dispatch(w, r, session) {
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"sessionId": id, "status": session.Status})
}

// POST /api/analysis/{id}/status
// Body: {"status": "APPROVED"}
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !reviewStatuses[req.Status] {
		httpError(w, http.StatusBadRequest, "status must be one of PENDING_REVIEW, APPROVED, REJECTED, REVISION_NEEDED")
		return
	}

	ctx := r.Context()
	err := s.store.UpdateStatus(ctx, id, req.Status, nil)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, store.ErrInvalidTransition):
		httpError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("sessionId", id).Msg("Failed to update status")
		httpError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	log.Info().Str("sessionId", id).Str("status", req.Status).Msg("Review status updated")

	session, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request, id string) (*analysis.Session, bool) {
	session, err := s.store.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("Failed to read session")
		httpError(w, http.StatusInternalServerError, "failed to read session")
		return nil, false
	}
	if session == nil {
		httpError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

func (s *server) dispatch(w http.ResponseWriter, r *http.Request, session *analysis.Session) bool {
	err := s.dispatcher.Dispatch(r.Context(), dispatch.Event{
		Type:         dispatch.EventTypeRun,
		SessionID:    session.ID,
		ExerciseType: session.ExerciseType,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start analysis")
		return false
	}
	return true
}
