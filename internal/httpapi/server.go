// Package httpapi serves the trip dashboard API: the formatted telemetry
// view, the wake-lock toggle, health, and static assets.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"bicimon/internal/trip"
	"bicimon/internal/view"
)

// SnapshotSource is implemented by monitor.Monitor.
type SnapshotSource interface {
	Snapshot() trip.Snapshot
}

type Server struct {
	src    SnapshotSource
	loc    *time.Location
	assets http.Handler
	log    logrus.FieldLogger

	wakeLock atomic.Bool
}

// NewServer builds the API. assets may be nil, in which case only the API
// routes are served.
func NewServer(src SnapshotSource, loc *time.Location, assets http.Handler, log logrus.FieldLogger) *Server {
	if loc == nil {
		loc = time.Local
	}
	return &Server{src: src, loc: loc, assets: assets, log: log}
}

// WakeLock reports whether the screen wake lock is requested.
func (s *Server) WakeLock() bool { return s.wakeLock.Load() }

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", s.showTelemetry)
	mux.HandleFunc("/api/wakelock", s.wakeLockHandler)
	mux.HandleFunc("/healthz", s.healthz)
	if s.assets != nil {
		mux.Handle("/", s.assets)
	}
	return mux
}

// Handler is the mux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux(), s.log)
}

func (s *Server) showTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	v := view.Build(s.src.Snapshot(), s.loc)
	v.WakeLock = s.WakeLock()
	s.writeJSON(w, v)
}

type wakeLockState struct {
	On *bool `json:"on"`
}

// wakeLockHandler reports the flag on GET. POST sets it from {"on": bool},
// or toggles it when the body is empty.
func (s *Server) wakeLockHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req wakeLockState
		if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid wake lock request")
			return
		}
		if req.On != nil {
			s.wakeLock.Store(*req.On)
		} else {
			toggle(&s.wakeLock)
		}
		s.log.WithField("on", s.WakeLock()).Info("wake lock changed")
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	on := s.WakeLock()
	s.writeJSON(w, wakeLockState{On: &on})
}

func toggle(b *atomic.Bool) {
	for {
		old := b.Load()
		if b.CompareAndSwap(old, !old) {
			return
		}
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"trip":   snap.TripID,
		"fixes":  snap.Fixes,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("write response failed")
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status, and duration at debug level.
func LoggingMiddleware(next http.Handler, log logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.RequestURI,
			"status": lrw.statusCode,
			"ms":     float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Debug("http request")
	})
}
