// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the evaluator over HTTP for interactive use.
//
// Each session may start one evaluation per cooldown window. Evaluations are
// serialized because the evaluator shares one cache and one model.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pdiddy/citation-novelty/internal/openalex"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// SessionHeader carries a client-chosen session id.
const SessionHeader = "X-Session-ID"

// SessionCookie is set for clients that do not send SessionHeader.
const SessionCookie = "novelty_session"

// sweepThreshold is the session count above which idle sessions are pruned.
const sweepThreshold = 1024

var workID = regexp.MustCompile(`^W\d+$`)

// Evaluator scores one paper. *evaluate.Evaluator implements it.
type Evaluator interface {
	EvalPaper(ctx context.Context, id string, title, abstract *string) (types.Result, error)
}

// Server is the HTTP front door.
type Server struct {
	eval     Evaluator
	evalMu   sync.Mutex
	cooldown time.Duration
	addr     string
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server.
func New(eval Evaluator, cfg types.ServerConfig, opts ...Option) *Server {
	s := &Server{
		eval:     eval,
		cooldown: cfg.Cooldown,
		addr:     cfg.Addr,
		logger:   slog.Default(),
		sessions: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/eval", s.handleEval)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type evalRequest struct {
	ID       string  `json:"id"`
	Title    *string `json:"title,omitempty"`
	Abstract *string `json:"abstract,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	var req evalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ID = openalex.NormalizeID(req.ID)
	if !workID.MatchString(req.ID) {
		writeError(w, http.StatusBadRequest, "Please enter a valid OpenAlex work ID, e.g. W123456789")
		return
	}

	session := s.session(w, r)
	if wait, ok := s.admit(session); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "Please wait before starting another evaluation")
		return
	}

	s.evalMu.Lock()
	res, err := s.eval.EvalPaper(r.Context(), req.ID, blankToNil(req.Title), blankToNil(req.Abstract))
	s.evalMu.Unlock()
	if err != nil {
		s.logger.Error("evaluation failed", slog.String("id", req.ID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// session returns the caller's session id, issuing a cookie when it has none.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// admit reports whether the session may start an evaluation now, and
// otherwise how long it must wait.
func (s *Server) admit(session string) (time.Duration, bool) {
	if s.cooldown <= 0 {
		return 0, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) > sweepThreshold {
		for id, lim := range s.sessions {
			if lim.Tokens() >= 1 {
				delete(s.sessions, id)
			}
		}
	}

	lim, ok := s.sessions[session]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cooldown), 1)
		s.sessions[session] = lim
	}
	res := lim.Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return d, false
	}
	return 0, true
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
