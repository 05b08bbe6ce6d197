package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelmux/modelmux/pkg/events"
	"github.com/modelmux/modelmux/pkg/logger"
	"github.com/modelmux/modelmux/pkg/protocol"
)

// publishRequest is the wire shape of POST /v1/agents/messages.
type publishRequest struct {
	AgentID string          `json:"agent_id"`
	Payload json.RawMessage `json:"payload"`
}

// handlePublishAgentMessage appends one message to an agent's log and
// acknowledges with its assigned id.
func (s *Server) handlePublishAgentMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.ErrInvalidRequest, "malformed JSON body: "+err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, protocol.ErrInvalidRequest, "agent_id is required")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, protocol.ErrInvalidRequest, "payload is required")
		return
	}

	messageID := s.agentBus.Publish(req.AgentID, req.Payload)

	logger.DebugCF("api", "Agent message published", map[string]interface{}{
		"agent_id":   req.AgentID,
		"message_id": messageID,
	})
	s.wsHub.Broadcast(events.BusPublished, events.BusEventData{
		AgentID:   req.AgentID,
		MessageID: messageID,
	})

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"agent_id":   req.AgentID,
		"message_id": messageID,
	})
}

// handleReadAgentMessages serves GET /v1/agents/{id}/messages?since=N.
// since is exclusive; omitting it (or -1) returns the full log. An unknown
// agent reads as an empty log, not an error.
func (s *Server) handleReadAgentMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	agentID, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != "messages" || agentID == "" {
		writeError(w, protocol.ErrInvalidRequest, "expected /v1/agents/{id}/messages")
		return
	}

	since := int64(-1)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, protocol.ErrInvalidRequest, "since must be an integer")
			return
		}
		since = parsed
	}

	messages := s.agentBus.Read(agentID, since)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": agentID,
		"count":    len(messages),
		"messages": messages,
	})
}
