// Package server exposes the grounding processor over HTTP.
package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hannes/groundtag/config"
	"github.com/hannes/groundtag/ollama"
	"github.com/hannes/groundtag/processor"
	"github.com/hannes/groundtag/store"
)

// Server represents the HTTP server
type Server struct {
	config    *config.Config
	processor *processor.Processor
	generator *ollama.Client
	logs      store.RequestLogDB
	limiter   *rate.Limiter
}

// NewServer creates a new server instance around an already constructed
// processor. The generator and log store are optional.
func NewServer(cfg *config.Config, proc *processor.Processor, generator *ollama.Client, logs store.RequestLogDB) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if logs == nil {
		logs = store.NewMemoryLogDB(store.DefaultMaxLogEntries)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	return &Server{
		config:    cfg,
		processor: proc,
		generator: generator,
		logs:      logs,
		limiter:   limiter,
	}, nil
}

// Handler returns the route table for the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthCheck)
	mux.HandleFunc("/v1/encode", s.rateLimited(s.handleEncode))
	mux.HandleFunc("/v1/decode", s.rateLimited(s.handleDecode))
	mux.HandleFunc("/v1/ground", s.rateLimited(s.handleGround))
	mux.HandleFunc("/v1/logs", s.handleLogs)
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting grounding processor service on port %s", s.config.ServerPort)

	if s.config.Database.Enabled {
		log.Println("Database storage enabled")
	} else {
		log.Println("Using in-memory storage")
	}
	if s.generator != nil {
		log.Printf("Grounded generation enabled with model: %s", s.config.Ollama.Model)
	}

	// Create server with timeout configuration. Generation requests can
	// hold the connection for minutes.
	server := &http.Server{
		Addr:         s.config.ServerPort,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// StartWithErrorHandling starts the server with proper error handling
func (s *Server) StartWithErrorHandling() {
	if err := s.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	if s.logs != nil {
		return s.logs.Close()
	}
	return nil
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// healthCheck provides a simple health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy","service":"Groundtag Service"}`)); err != nil {
		log.Printf("Failed to write health check response: %v", err)
	}
}
