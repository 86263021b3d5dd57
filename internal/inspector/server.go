// Package inspector serves a read-only HTTP view of a running verifier:
// live events over SSE, verification history, routes, session spend and
// Prometheus metrics.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cgast/vguard/pkg/events"
	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"
)

// Server is the inspector HTTP server.
type Server struct {
	bus       events.EventBus
	handler   *middleware.Handler
	pipeline  *verify.Pipeline
	ledger    ledger.Ledger
	log       zerolog.Logger
	mux       *http.ServeMux
	clients   map[*sseClient]bool
	clientsMu sync.Mutex
	startTime time.Time
}

type sseClient struct {
	send chan []byte
}

// New creates an inspector server. l may be nil.
func New(bus events.EventBus, h *middleware.Handler, p *verify.Pipeline, l ledger.Ledger, log zerolog.Logger) *Server {
	s := &Server{
		bus:       bus,
		handler:   h,
		pipeline:  p,
		ledger:    l,
		log:       log,
		mux:       http.NewServeMux(),
		clients:   make(map[*sseClient]bool),
		startTime: time.Now(),
	}

	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/routes", s.handleRoutes)
	s.mux.HandleFunc("/api/ledger", s.handleLedger)

	return s
}

// ServeHTTP lets the server be mounted or tested directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)
	go s.broadcastEvents(ch)

	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("Inspector listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) broadcastEvents(ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		s.clientsMu.Lock()
		for client := range s.clients {
			select {
			case client.send <- data:
			default:
				// Slow client, drop the event.
			}
		}
		s.clientsMu.Unlock()
	}
}

// handleEvents streams events as Server-Sent Events, starting with the
// bus history.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
	}()

	for _, ev := range s.bus.History(time.Time{}) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.send:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(time.Time{})
	blocked := 0
	for _, ev := range history {
		if ev.Type == events.EventVerifyBlocked {
			blocked++
		}
	}

	writeJSON(w, map[string]any{
		"uptime":  time.Since(s.startTime).String(),
		"events":  len(history),
		"blocked": blocked,
		"guards":  len(s.pipeline.Names()),
		"summary": s.handler.Summary(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.handler.History())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"guards": s.pipeline.Names(),
		"routes": s.pipeline.Routes(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "no spend ledger configured", http.StatusNotFound)
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	total, err := s.ledger.Total(r.Context(), session)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"session": session, "total": total})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
