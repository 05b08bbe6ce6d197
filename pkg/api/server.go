// Package api exposes the gateway over HTTP: the unified responses endpoint
// (SSE streaming or buffered JSON), the agent bus surface, health and
// readiness probes, plus a WebSocket tap for live lifecycle events.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelmux/modelmux/pkg/bus"
	"github.com/modelmux/modelmux/pkg/config"
	"github.com/modelmux/modelmux/pkg/events"
	"github.com/modelmux/modelmux/pkg/gateway"
	"github.com/modelmux/modelmux/pkg/logger"
	"github.com/modelmux/modelmux/pkg/protocol"
	"github.com/modelmux/modelmux/pkg/providers"
)

type ctxKey int

const traceIDKey ctxKey = 0

// Server is the gateway's HTTP front end.
type Server struct {
	config     *config.Config
	dispatcher *gateway.Dispatcher
	agentBus   *bus.AgentBus
	wsHub      *WSHub
	startTime  time.Time
	server     *http.Server
}

// NewServer wires the HTTP surface around a dispatcher and an agent bus.
func NewServer(cfg *config.Config, dispatcher *gateway.Dispatcher, agentBus *bus.AgentBus) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		agentBus:   agentBus,
		startTime:  time.Now(),
	}
	s.wsHub = NewWSHub()
	return s
}

// Handler builds the routed, middleware-wrapped handler. Exposed separately
// from Start so tests can mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ready", s.handleReady)

	mux.HandleFunc("/v1/responses", s.handleResponses)
	mux.HandleFunc("/v1/agents/messages", s.handlePublishAgentMessage)
	mux.HandleFunc("/v1/agents/", s.handleReadAgentMessages)

	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	return corsMiddleware(authMiddleware(s.config.APIKey, s.requestIDMiddleware(mux)))
}

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Addr(),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	logger.InfoCF("api", "Gateway API server starting", map[string]interface{}{
		"addr":      s.config.Addr(),
		"providers": s.dispatcher.Registry().Available(),
	})

	go s.wsHub.Run(ctx)
	s.wsHub.Broadcast(events.SystemStarted, events.SystemEventData{
		Addr:      s.config.Addr(),
		Providers: s.dispatcher.Registry().Available(),
	})

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.wsHub.Broadcast(events.SystemStopping, events.SystemEventData{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

// requestIDMiddleware reuses the caller's correlation header or generates a
// fresh trace id, and echoes it back on every response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("x-request-id")
		if traceID == "" {
			traceID = gateway.NewTraceID()
		}
		w.Header().Set("x-request-id", traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceIDKey, traceID)))
	})
}

func traceIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(traceIDKey).(string); ok {
		return id
	}
	return gateway.NewTraceID()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Probes ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(s.startTime).Seconds()),
		"default_provider": s.dispatcher.DefaultProvider(),
		"providers":        s.dispatcher.Registry().Available(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady verifies the primary (default) provider: its credential must
// be present, and when the adapter can probe its upstream, the edge must
// answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	details := map[string]interface{}{}
	ready := true

	adapter, ok := s.dispatcher.Registry().Get(s.dispatcher.DefaultProvider())
	if !ok || !adapter.Configured() {
		ready = false
		details["credential"] = false
	} else {
		details["credential"] = true
		if pinger, ok := adapter.(providers.Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				ready = false
				details["reachable"] = false
				details["error"] = err.Error()
			} else {
				details["reachable"] = true
			}
		}
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "not_ready",
			"details": details,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"details": details,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError emits the structured error body shared by all non-streaming
// failures. The error kind stays inspectable; nothing collapses into a
// generic internal error.
func writeError(w http.ResponseWriter, kind protocol.ErrorKind, message string) {
	writeJSON(w, kind.HTTPStatus(), map[string]interface{}{
		"error": map[string]interface{}{
			"code":    kind,
			"message": message,
		},
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "method_not_allowed",
			"message": "method not allowed",
		},
	})
}

func errFields(traceID string, err error) map[string]interface{} {
	return map[string]interface{}{
		"trace_id":   traceID,
		"error_kind": protocol.KindOf(err),
		"error":      err.Error(),
	}
}
