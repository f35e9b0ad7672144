package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"property-scraper/scrape"
	"property-scraper/utils"
)

const heartbeatInterval = 15 * time.Second

// RunFunc executes one scrape session, emitting its status events to sink.
// The server owns the goroutine; the function owns everything else.
type RunFunc func(ctx context.Context, url, mode, sessionID string, sink scrape.EventSink) error

// Server exposes the scrape engine over HTTP: one endpoint to kick a
// session off, one SSE endpoint to watch it run.
type Server struct {
	run    RunFunc
	hub    *Hub
	logger *utils.Logger
	addr   string
}

// New builds a Server around run.
func New(addr string, run RunFunc, logger *utils.Logger) *Server {
	return &Server{
		run:    run,
		hub:    NewHub(),
		logger: logger,
		addr:   addr,
	}
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/scrape", s.handleScrape)
	r.Get("/scrape/logs/{sessionID}", s.handleLogs)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[server] Listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type scrapeRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}
	if req.Mode == "" {
		req.Mode = "dom"
	}
	if req.Mode != "dom" && req.Mode != "api" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "mode must be \"dom\" or \"api\""})
		return
	}

	sessionID := uuid.NewString()
	stream := s.hub.Open(sessionID)

	go func() {
		// The session outlives the HTTP request.
		if err := s.run(context.Background(), req.URL, req.Mode, sessionID, stream); err != nil {
			s.logger.Error("[server] Session %s failed: %v", sessionID, err)
		}
		// No-op when the run already closed the stream; guarantees
		// subscribers are released even on an early failure.
		stream.Emit(scrape.EventCompleted, "done", nil)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "started",
		"sessionId": sessionID,
		"logsUrl":   fmt.Sprintf("/scrape/logs/%s", sessionID),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	stream, ok := s.hub.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, Event{Kind: "connected", Message: "log stream connected", Time: time.Now()})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-stream.Events():
			if !open {
				s.hub.Remove(sessionID)
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
