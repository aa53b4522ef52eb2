// Package api exposes sessions over HTTP: JSON for commands and views,
// Server-Sent Events for live updates.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/session"
)

const (
	maxBodyBytes   = 64 << 10
	sseKeepAlive   = 15 * time.Second
	audioCacheHint = "no-store"
)

type Server struct {
	sessions  *session.Manager
	logger    *slog.Logger
	keepAlive time.Duration
}

func New(sessions *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions:  sessions,
		logger:    logger.With(slog.String("component", "api")),
		keepAlive: sseKeepAlive,
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/meditations", s.withSession(s.handleSubmit))
	mux.HandleFunc("DELETE /api/sessions/{id}/meditations", s.withSession(s.handleCancel))
	mux.HandleFunc("GET /api/sessions/{id}/audio", s.withSession(s.handleAudio))
	mux.HandleFunc("POST /api/sessions/{id}/playback/toggle", s.withSession(s.handleToggle))
	mux.HandleFunc("POST /api/sessions/{id}/playback/seek", s.withSession(s.handleSeek))
	mux.HandleFunc("POST /api/sessions/{id}/background/volume", s.withSession(s.handleVolume))
	mux.HandleFunc("GET /api/sessions/{id}/events", s.withSession(s.handleEvents))
}

// Handler returns the API on its own mux, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.Wrap(http.NewServeMux())
}

// Wrap registers the API on mux, which may already carry other routes, and
// returns it with request logging.
func (s *Server) Wrap(mux *http.ServeMux) http.Handler {
	s.Register(mux)
	return s.logRequests(mux)
}

type sessionHandler func(http.ResponseWriter, *http.Request, *session.Session)

func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, session.ErrNotFound)
			return
		}
		next(w, r, sess)
	}
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrTooManySessions) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{SessionID: sess.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Prompt string `json:"prompt"`
}

type submitResponse struct {
	RequestID uint64 `json:"request_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := sess.Submit(req.Prompt)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusGone, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{RequestID: id})
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: sess.Cancel()})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	asset, ok := sess.Audio()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no audio loaded"))
		return
	}
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Cache-Control", audioCacheHint)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(asset.Data))
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	if err := sess.Toggle(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type seekRequest struct {
	PositionSeconds *float64 `json:"position_seconds"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req seekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PositionSeconds == nil {
		writeError(w, http.StatusBadRequest, errors.New("position_seconds is required"))
		return
	}
	pos := secondsToDuration(*req.PositionSeconds)
	if err := sess.Seek(pos); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// secondsToDuration saturates at the Duration range instead of overflowing.
func secondsToDuration(secs float64) time.Duration {
	switch {
	case math.IsNaN(secs) || secs <= 0:
		return 0
	case secs >= float64(math.MaxInt64)/float64(time.Second):
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(secs * float64(time.Second))
	}
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req volumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, errors.New("volume is required"))
		return
	}
	if _, err := sess.SetBackgroundVolume(*req.Volume); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoBackground) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleEvents streams a view on every change until the client leaves or
// the session closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	listener := sess.Subscribe()
	defer sess.Unsubscribe(listener)

	if err := writeEvent(w, sess.View()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case v := <-listener.C:
			if err := writeEvent(w, v); err != nil {
				s.logger.Debug("event stream closed", slog.String("session_id", sess.ID), slogError(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, v session.View) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload)
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
