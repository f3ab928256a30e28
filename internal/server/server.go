// Package server exposes the router over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/api"
	"github.com/tributary-ai/intellihub-router/internal/metrics"
	"github.com/tributary-ai/intellihub-router/internal/middleware"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// maxBodyBytes bounds request bodies; prompts are capped well below it.
const maxBodyBytes = 1 << 20

// writeMargin caps the part of the write timeout reserved for the response.
const writeMargin = 5 * time.Second

// Dispatcher is the routing surface the handlers need.
type Dispatcher interface {
	Generate(ctx context.Context, req types.PromptRequest) (*types.NormalizedResponse, error)
	Describe(req types.PromptRequest) types.ClassifyResponse
	ClearCache(ctx context.Context) error
	Providers() []types.ProviderStatus
}

// Server represents the HTTP server
type Server struct {
	router             Dispatcher
	metrics            *metrics.Sink
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                               `yaml:"port"`
	ReadTimeout    time.Duration                        `yaml:"read_timeout"`
	WriteTimeout   time.Duration                        `yaml:"write_timeout"`
	MaxHeaderBytes int                                  `yaml:"max_header_bytes"`
	AllowedOrigins []string                             `yaml:"allowed_origins"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
}

// NewServer creates a new server instance
func NewServer(router Dispatcher, sink *metrics.Sink, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		router:  router,
		metrics: sink,
		logger:  logger,
		config:  config,
	}

	security := config.Security
	if security == nil {
		security = &middleware.SecurityMiddlewareConfig{}
	}
	securityMiddleware, err := middleware.NewSecurityMiddleware(security, api.OpenAPI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
	}
	server.securityMiddleware = securityMiddleware

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithFields(logrus.Fields(s.securityMiddleware.GetStats())).
		WithField("port", s.config.Port).Info("Starting IntelliHub server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping IntelliHub server")

	s.securityMiddleware.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wired route tree.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.securityMiddleware.Handler())
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)
	r.Use(s.securityMiddleware.ValidationOnly())

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/generate", s.handleGenerate).Methods("POST", "OPTIONS")
	v1.HandleFunc("/generate/stream", s.handleGenerateStream).Methods("POST", "OPTIONS")
	v1.HandleFunc("/classify", s.handleClassify).Methods("POST", "OPTIONS")
	v1.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	v1.HandleFunc("/cache", s.handleClearCache).Methods("DELETE", "OPTIONS")
	v1.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.setupSwaggerRoutes(r)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.RequestIDFrom(r.Context()),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		return "*"
	}
	for _, allowed := range origins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && allowed == origin {
			return origin
		}
	}
	return ""
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			if contentType := r.Header.Get("Content-Type"); contentType != "" {
				mediaType, _, err := mime.ParseMediaType(contentType)
				if err != nil || mediaType != "application/json" {
					s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
					return
				}
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// generationContext detaches the dispatch from client cancellation so a
// completed upstream answer is still cached. The dispatch deadline ends before
// the write timeout so a slow chain failure still reaches the client as an
// error envelope.
func (s *Server) generationContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	budget := generationBudget(s.config.WriteTimeout)
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// generationBudget leaves a tenth of the write timeout, at most writeMargin,
// for writing the response. Zero means no deadline.
func generationBudget(writeTimeout time.Duration) time.Duration {
	if writeTimeout <= 0 {
		return 0
	}
	margin := writeTimeout / 10
	if margin > writeMargin {
		margin = writeMargin
	}
	return writeTimeout - margin
}

// handleGenerate dispatches one prompt.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.generationContext(r)
	defer cancel()

	start := time.Now()
	resp, err := s.router.Generate(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", middleware.RequestIDFrom(r.Context())).Error("Generation failed")
		s.writeErrorResponse(w, http.StatusBadGateway, fmt.Sprintf("Generation failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, types.GenerateResponse{
		RequestID:          middleware.RequestIDFrom(r.Context()),
		ResponseTimeMS:     time.Since(start).Milliseconds(),
		NormalizedResponse: resp,
	})
}

// handleGenerateStream replays the finished answer as cumulative word chunks.
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event types.StreamEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.WithError(err).Error("Failed to marshal stream event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(types.StreamEvent{Type: "start"})

	ctx, cancel := s.generationContext(r)
	defer cancel()

	resp, err := s.router.Generate(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", middleware.RequestIDFrom(r.Context())).Error("Streaming generation failed")
		send(types.StreamEvent{Type: "error", Message: err.Error()})
		return
	}

	var sent strings.Builder
	for i, word := range strings.Fields(resp.AssistantText) {
		if r.Context().Err() != nil {
			return
		}
		if i > 0 {
			sent.WriteByte(' ')
		}
		sent.WriteString(word)
		send(types.StreamEvent{Type: "chunk", Text: sent.String()})
	}

	send(types.StreamEvent{
		Type:     "complete",
		Text:     resp.AssistantText,
		Model:    resp.Model,
		TaskType: resp.TaskType,
		Cached:   resp.Cached,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.router.Describe(req))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.router.ClearCache(r.Context()); err != nil {
		s.logger.WithError(err).Error("Failed to clear cache")
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to clear cache: %v", err))
		return
	}
	s.logger.Info("Response cache cleared")
	s.writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// handleHealthCheck reports which upstreams are configured. The service itself
// is healthy whenever it can answer.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]bool)
	for _, status := range s.router.Providers() {
		providers[status.Name] = status.Configured
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": providers,
		"timestamp": time.Now().Unix(),
	})
}

// Helper functions

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (types.PromptRequest, bool) {
	var body types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
		case errors.Is(err, io.EOF):
			s.writeErrorResponse(w, http.StatusBadRequest, "Request body is required")
		default:
			s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		}
		return types.PromptRequest{}, false
	}

	if strings.TrimSpace(body.Prompt) == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "prompt is required")
		return types.PromptRequest{}, false
	}
	return body.ToPromptRequest(), true
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, types.ErrorResponse{
		Error: types.ErrorDetail{
			Message: message,
			Type:    "api_error",
			Code:    statusCode,
		},
		Timestamp: time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
