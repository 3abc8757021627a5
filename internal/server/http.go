package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/config"
	"github.com/Artuar/babelTower/internal/dispatch"
	"github.com/Artuar/babelTower/internal/metrics"
	"github.com/Artuar/babelTower/internal/pipeline"
	"github.com/Artuar/babelTower/internal/session"
	"github.com/Artuar/babelTower/internal/vad"
)

const (
	serviceName    = "babeltower"
	serviceVersion = "1.0.0"
)

// Dependencies are the components a Server routes traffic to
type Dependencies struct {
	Sessions *session.Manager
	Engine   *dispatch.Engine
	Facade   *pipeline.Facade
	Metrics  *metrics.Metrics

	// Gatherer backs /metrics. prometheus.DefaultGatherer is used when nil.
	Gatherer prometheus.Gatherer

	// PipelineStats, when set, is reported on /stats/pipeline
	PipelineStats func() pipeline.ClientStats
}

// Server accepts WebSocket clients and serves the monitoring API
type Server struct {
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	config    *config.Config
	sessions  *session.Manager
	engine    *dispatch.Engine
	facade    *pipeline.Facade
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	pipeStats func() pipeline.ClientStats

	detector *vad.Detector
	format   audio.Format
	upgrader websocket.Upgrader

	// Server state
	startTime time.Time
	conns     map[string]*conn
	stopping  bool
	wg        sync.WaitGroup
	mu        sync.RWMutex

	// Counters
	connectionsTotal uint64
	messagesReceived uint64
	conversionErrors uint64
}

// Statistics represents connection level counters
type Statistics struct {
	ActiveConnections int    `json:"active_connections"`
	ConnectionsTotal  uint64 `json:"connections_total"`
	MessagesReceived  uint64 `json:"messages_received"`
	ConversionErrors  uint64 `json:"conversion_errors"`
}

// NewServer creates a server for cfg. Sessions, Engine and Facade are required.
func NewServer(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Sessions == nil || deps.Engine == nil || deps.Facade == nil {
		return nil, fmt.Errorf("sessions, engine and facade are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	detector, err := vad.NewDetector(cfg.Segmenter.SilenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence detector: %w", err)
	}

	format := cfg.Audio.InputFormat()
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		logger:    logger,
		config:    cfg,
		sessions:  deps.Sessions,
		engine:    deps.Engine,
		facade:    deps.Facade,
		metrics:   deps.Metrics,
		gatherer:  gatherer,
		pipeStats: deps.PipelineStats,
		detector:  detector,
		format:    format,
		startTime: time.Now(),
		conns:     make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 16 << 10,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:              cfg.Server.ListenAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler serving the WebSocket endpoint and the API
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures HTTP API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// WebSocket endpoint; request metrics would only record the upgrade
	mux.HandleFunc(s.config.Server.WebSocketPath, s.handleWebSocket)

	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))

	// Session monitoring
	mux.HandleFunc("/sessions", s.withMetrics("/sessions", s.handleSessions))
	mux.HandleFunc("/sessions/", s.withMetrics("/sessions/{id}", s.handleSessionDetail))

	mux.HandleFunc("/config", s.withMetrics("/config", s.handleConfig))
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))
	mux.HandleFunc("/stats/pipeline", s.withMetrics("/stats/pipeline", s.handlePipelineStats))

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode),
			time.Since(startTime).Seconds())
	}
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

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	s.logger.Warn("Rejected WebSocket origin", slog.String("origin", origin))
	return false
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	s.logger.Info("Server started",
		slog.String("address", listener.Addr().String()),
		slog.String("websocket_path", s.config.Server.WebSocketPath),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop stops accepting requests, closes every connection and waits for their
// cleanup until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping server...")

	err := s.server.Shutdown(ctx)

	// Hijacked WebSocket connections are not tracked by http.Server. Once
	// stopping is set no connection can register, so wg only shrinks.
	s.mu.Lock()
	s.stopping = true
	for _, c := range s.conns {
		c.closeTransport()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	stats := s.GetStatistics()
	s.logger.Info("Server stopped",
		slog.Uint64("connections_total", stats.ConnectionsTotal),
		slog.Uint64("messages_received", stats.MessagesReceived),
		slog.Uint64("conversion_errors", stats.ConversionErrors),
	)

	return err
}

// GetStatistics returns current connection statistics
func (s *Server) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Statistics{
		ActiveConnections: len(s.conns),
		ConnectionsTotal:  s.connectionsTotal,
		MessagesReceived:  s.messagesReceived,
		ConversionErrors:  s.conversionErrors,
	}
}

// register tracks c and adds it to wg. It refuses connections once Stop has
// begun.
func (s *Server) register(c *conn) bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.conns[c.id] = c
	s.connectionsTotal++
	active := len(s.conns)
	s.mu.Unlock()

	s.metrics.RecordConnection()
	s.metrics.SetActiveConnections(active)
	return true
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	active := len(s.conns)
	s.mu.Unlock()

	s.metrics.SetActiveConnections(active)
}

func (s *Server) countMessage(msgType string) {
	s.mu.Lock()
	s.messagesReceived++
	s.mu.Unlock()
	s.metrics.RecordMessageReceived(msgType)
}

func (s *Server) countConversionError() {
	s.mu.Lock()
	s.conversionErrors++
	s.mu.Unlock()
	s.metrics.RecordConversionError()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.GetStatistics()
	engineStats := s.engine.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"websocket": map[string]interface{}{
				"status":             "running",
				"active_connections": stats.ActiveConnections,
			},
			"sessions": map[string]interface{}{
				"status":          "running",
				"open_sessions":   s.sessions.GetSessionCount(),
				"active_sessions": s.sessions.GetActiveSessionCount(),
			},
			"dispatch": map[string]interface{}{
				"status":       "running",
				"workers":      engineStats.Workers,
				"queue_length": engineStats.QueueLength,
			},
		},
	}

	writeJSON(w, health)
}

// handleSessions implements the /sessions endpoint
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.sessions.GetAllSessions()
	writeJSON(w, map[string]interface{}{
		"total_sessions":  len(sessions),
		"active_sessions": s.sessions.GetActiveSessionCount(),
		"timestamp":       time.Now().UTC(),
		"sessions":        sessions,
	})
}

// handleSessionDetail implements the /sessions/{session_id} endpoint
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	info, exists := s.sessions.GetSession(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, info)
}

// handleConfig implements the /config endpoint
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.config
	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"address":          cfg.Server.Address,
			"port":             cfg.Server.Port,
			"websocket_path":   cfg.Server.WebSocketPath,
			"allowed_origins":  cfg.Server.AllowedOrigins,
			"max_message_size": cfg.Server.MaxMessageSize,
			"send_timeout":     cfg.Server.SendTimeout,
			"send_queue_size":  cfg.Server.SendQueueSize,
			"ping_interval":    cfg.Server.PingInterval,
		},
		"audio": map[string]interface{}{
			"input_format":  cfg.Audio.InputFormat(),
			"output_format": cfg.Audio.OutputFormat(),
		},
		"segmenter": map[string]interface{}{
			"silence_threshold":   cfg.Segmenter.SilenceThreshold,
			"speech_threshold":    cfg.Segmenter.GetSpeechThreshold(),
			"silence_duration":    cfg.Segmenter.SilenceDuration,
			"min_phrase_duration": cfg.Segmenter.MinPhraseDuration,
			"max_phrase_duration": cfg.Segmenter.MaxPhraseDuration,
		},
		"dispatch": map[string]interface{}{
			"workers":     cfg.Dispatch.Workers,
			"queue_size":  cfg.Dispatch.QueueSize,
			"job_timeout": cfg.Dispatch.JobTimeout,
		},
		"pipeline": map[string]interface{}{
			"mode":           cfg.Pipeline.Mode,
			"endpoint":       cfg.Pipeline.Endpoint,
			"timeout":        cfg.Pipeline.Timeout,
			"max_retries":    cfg.Pipeline.MaxRetries,
			"max_concurrent": cfg.Pipeline.MaxConcurrent,
			// API key is omitted
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
		"supported_languages": pipeline.SupportedLanguages(),
	}

	writeJSON(w, sanitized)
}

// handleStats implements the /stats endpoint
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":      time.Since(s.startTime).String(),
		"timestamp":   time.Now().UTC(),
		"connections": s.GetStatistics(),
		"dispatch":    s.engine.GetStats(),
		"sessions": map[string]interface{}{
			"open_count":   s.sessions.GetSessionCount(),
			"active_count": s.sessions.GetActiveSessionCount(),
		},
	}
	if s.pipeStats != nil {
		stats["pipeline"] = s.pipeStats()
	}

	writeJSON(w, stats)
}

// handlePipelineStats implements the /stats/pipeline endpoint
func (s *Server) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeStats == nil {
		http.Error(w, "Pipeline statistics unavailable", http.StatusNotFound)
		return
	}

	writeJSON(w, s.pipeStats())
}

// handleRoot implements the / endpoint with API documentation
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "babelTower speech translation relay",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET " + s.config.Server.WebSocketPath: "WebSocket translation endpoint",
			"GET /":                                "API documentation",
			"GET /health":                          "Service health check",
			"GET /sessions":                        "List all sessions",
			"GET /sessions/{session_id}":           "Get detailed session information",
			"GET /config":                          "Get service configuration",
			"GET /stats":                           "Get service statistics",
			"GET /stats/pipeline":                  "Get pipeline client statistics",
			"GET /metrics":                         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}
