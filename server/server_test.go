package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"property-scraper/scrape"
	"property-scraper/utils"
)

func newTestServer(run RunFunc) *Server {
	return New(":0", run, utils.NewLogger())
}

func noopRun(context.Context, string, string, string, scrape.EventSink) error { return nil }

func TestHandleScrapeStartsSession(t *testing.T) {
	var (
		mu      sync.Mutex
		gotURL  string
		gotMode string
		started = make(chan struct{})
	)
	srv := newTestServer(func(_ context.Context, url, mode, _ string, _ scrape.EventSink) error {
		mu.Lock()
		gotURL, gotMode = url, mode
		mu.Unlock()
		close(started)
		return nil
	})

	body := strings.NewReader(`{"url":"https://www.example.com/flats","mode":"api"}`)
	req := httptest.NewRequest(http.MethodPost, "/scrape", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusAccepted)
	}

	var resp struct {
		Status    string `json:"status"`
		SessionID string `json:"sessionId"`
		LogsURL   string `json:"logsUrl"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "started" || resp.SessionID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.LogsURL != "/scrape/logs/"+resp.SessionID {
		t.Errorf("logsUrl = %q; want it to address the session", resp.LogsURL)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run function was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotURL != "https://www.example.com/flats" || gotMode != "api" {
		t.Errorf("run invoked with url=%q mode=%q", gotURL, gotMode)
	}

	// The session's log stream must be addressable.
	if _, ok := srv.hub.Get(resp.SessionID); !ok {
		t.Error("no stream registered for the session")
	}
}

func TestHandleScrapeValidation(t *testing.T) {
	srv := newTestServer(noopRun)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing url", `{"mode":"dom"}`},
		{"bad mode", `{"url":"https://x","mode":"carrier-pigeon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/scrape", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleLogsUnknownSession(t *testing.T) {
	srv := newTestServer(noopRun)

	req := httptest.NewRequest(http.MethodGet, "/scrape/logs/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStreamClosesOnCompletion(t *testing.T) {
	hub := NewHub()
	stream := hub.Open("s1")

	stream.Emit(scrape.EventInfo, "session started", nil)
	stream.Emit(scrape.EventCheckpoint, "step 1 done", map[string]any{"step": 1})
	stream.Emit(scrape.EventCompleted, "done", nil)

	// Emits after completion are dropped, not a panic.
	stream.Emit(scrape.EventLog, "late", nil)

	var kinds []string
	for ev := range stream.Events() {
		kinds = append(kinds, ev.Kind)
	}
	want := []string{scrape.EventInfo, scrape.EventCheckpoint, scrape.EventCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("received %d events; want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %q; want %q", i, kinds[i], want[i])
		}
	}
}

func TestStreamNeverBlocksEmitter(t *testing.T) {
	hub := NewHub()
	stream := hub.Open("s1")

	// No subscriber and a full buffer: emits must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < streamBuffer*2; i++ {
			stream.Emit(scrape.EventLog, "chatter", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full stream")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(noopRun)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
}
