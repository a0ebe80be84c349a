package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/soundkeeplab/michold/internal/arbiter"
	"github.com/soundkeeplab/michold/internal/config"
)

// Server exposes the control API over HTTP. It is a thin layer: every
// mutation goes through the engine's command interface and every read is a
// status snapshot or feed subscription.
type Server struct {
	engine     *arbiter.Engine
	configFile string
	addr       string
	httpServer *http.Server
}

// CommandResponse is the JSON response for control endpoints.
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func New(engine *arbiter.Engine, configFile, addr string) *Server {
	return &Server{
		engine:     engine,
		configFile: configFile,
		addr:       addr,
	}
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/activate-now", s.handleActivateNow)
	mux.HandleFunc("/api/reconfigure", s.handleReconfigure)

	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	slog.Info("starting control API", "addr", s.addr,
		"url", fmt.Sprintf("http://%s/api/status", s.addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control API failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(s.engine.Status())
}

// handleStatusStream pushes every status transition as a server-sent event,
// starting with the current record.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := s.engine.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(st)
			if err != nil {
				slog.Error("failed to encode status event", "error", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.engine.Start(true)
	s.sendCommandResponse(w, "arbitration started")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.engine.Stop()
	s.sendCommandResponse(w, "arbitration stopped")
}

func (s *Server) handleActivateNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.engine.ActivateNow()
	s.sendCommandResponse(w, "activation requested")
}

// handleReconfigure reloads the config file and applies it to the engine.
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := config.Load(s.configFile)
	if err != nil {
		s.sendErrorResponse(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("config reload failed: %v", err))
		return
	}

	s.engine.Reconfigure(cfg)
	s.sendCommandResponse(w, "configuration applied")
}

func (s *Server) sendCommandResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CommandResponse{Success: true, Message: message})
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	slog.Error("sending error response to client", "error_message", errorMsg, "status_code", statusCode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(CommandResponse{Success: false, Message: errorMsg})
}
