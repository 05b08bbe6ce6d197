// Package bus implements the in-memory agent message bus: a per-agent
// append-only log that lets independent agents hand messages to each other
// through the gateway instead of talking directly.
package bus

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Message is one published agent message. Messages are never mutated or
// deleted after publish; the bus owns them and readers receive copies.
type Message struct {
	AgentID   string          `json:"agent_id"`
	MessageID int64           `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// agentLog is the arena for one agent: an index-addressable append-only
// slice. The message id IS the slice index, so id assignment and append are
// a single operation under the log's lock — contiguous by construction.
type agentLog struct {
	mu   sync.Mutex
	msgs []Message
}

// AgentBus maps agent ids to their logs. Retention is bounded only by
// process memory; callers must not treat it as durable storage.
type AgentBus struct {
	mu   sync.RWMutex
	logs map[string]*agentLog
}

// New creates an empty bus.
func New() *AgentBus {
	return &AgentBus{logs: make(map[string]*agentLog)}
}

func (b *AgentBus) log(agentID string) *agentLog {
	b.mu.RLock()
	l, ok := b.logs[agentID]
	b.mu.RUnlock()
	if ok {
		return l
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok = b.logs[agentID]; ok {
		return l
	}
	l = &agentLog{}
	b.logs[agentID] = l
	return l
}

// Publish appends a message to the agent's log and returns its id.
// Ids start at 0 and are contiguous per agent even under concurrent
// publishers.
func (b *AgentBus) Publish(agentID string, payload json.RawMessage) int64 {
	// Copy the payload so the caller's buffer cannot mutate bus state.
	owned := make(json.RawMessage, len(payload))
	copy(owned, payload)

	l := b.log(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	id := int64(len(l.msgs))
	l.msgs = append(l.msgs, Message{
		AgentID:   agentID,
		MessageID: id,
		Payload:   owned,
		CreatedAt: time.Now().UTC(),
	})
	return id
}

// Read returns copies of all messages with MessageID > since, in publish
// order. since < 0 returns the full log. An unknown agent yields an empty
// slice.
func (b *AgentBus) Read(agentID string, since int64) []Message {
	b.mu.RLock()
	l, ok := b.logs[agentID]
	b.mu.RUnlock()
	if !ok {
		return []Message{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := since + 1
	if start < 0 {
		start = 0
	}
	if start >= int64(len(l.msgs)) {
		return []Message{}
	}
	out := make([]Message, int64(len(l.msgs))-start)
	copy(out, l.msgs[start:])
	return out
}

// Count returns how many messages an agent has.
func (b *AgentBus) Count(agentID string) int64 {
	b.mu.RLock()
	l, ok := b.logs[agentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.msgs))
}

// Agents lists agent ids with at least one message, sorted for stable
// diagnostics output.
func (b *AgentBus) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.logs))
	for id := range b.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
