package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func TestPublishAssignsContiguousIDs(t *testing.T) {
	b := New()

	const publishers = 8
	const perPublisher = 25
	total := publishers * perPublisher

	var wg sync.WaitGroup
	ids := make(chan int64, total)
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				payload, _ := json.Marshal(map[string]int{"publisher": p, "n": i})
				ids <- b.Publish("agent-1", payload)
			}
		}(p)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, total)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate message id %d", id)
		}
		seen[id] = true
	}
	for i := int64(0); i < int64(total); i++ {
		if !seen[i] {
			t.Fatalf("missing message id %d — ids must be contiguous from 0", i)
		}
	}

	msgs := b.Read("agent-1", -1)
	if len(msgs) != total {
		t.Fatalf("expected %d messages, got %d", total, len(msgs))
	}
	for i, msg := range msgs {
		if msg.MessageID != int64(i) {
			t.Errorf("position %d: expected id %d, got %d", i, i, msg.MessageID)
		}
	}
}

func TestReadSince(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		b.Publish("agent-a", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}

	tests := []struct {
		name  string
		since int64
		want  []int64
	}{
		{name: "all with negative since", since: -1, want: []int64{0, 1, 2}},
		{name: "strictly after zero", since: 0, want: []int64{1, 2}},
		{name: "latest id yields empty", since: 2, want: []int64{}},
		{name: "beyond latest yields empty", since: 99, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := b.Read("agent-a", tt.since)
			if len(msgs) != len(tt.want) {
				t.Fatalf("expected %d messages, got %d", len(tt.want), len(msgs))
			}
			for i, id := range tt.want {
				if msgs[i].MessageID != id {
					t.Errorf("position %d: expected id %d, got %d", i, id, msgs[i].MessageID)
				}
			}
		})
	}
}

func TestAgentIsolation(t *testing.T) {
	b := New()
	b.Publish("agent-a", json.RawMessage(`{"to":"a"}`))
	b.Publish("agent-b", json.RawMessage(`{"to":"b"}`))
	b.Publish("agent-b", json.RawMessage(`{"to":"b2"}`))

	if got := b.Count("agent-a"); got != 1 {
		t.Errorf("agent-a count: expected 1, got %d", got)
	}
	if got := b.Count("agent-b"); got != 2 {
		t.Errorf("agent-b count: expected 2, got %d", got)
	}
	// Counters are per-agent: both logs start at id 0.
	if msgs := b.Read("agent-b", -1); msgs[0].MessageID != 0 {
		t.Errorf("agent-b first id: expected 0, got %d", msgs[0].MessageID)
	}

	if agents := b.Agents(); len(agents) != 2 || agents[0] != "agent-a" || agents[1] != "agent-b" {
		t.Errorf("unexpected agent list: %v", agents)
	}
}

func TestReadUnknownAgent(t *testing.T) {
	b := New()
	if msgs := b.Read("nobody", -1); len(msgs) != 0 {
		t.Errorf("expected empty slice for unknown agent, got %d messages", len(msgs))
	}
}

func TestPublishCopiesPayload(t *testing.T) {
	b := New()
	payload := json.RawMessage(`{"k":"original"}`)
	b.Publish("agent-a", payload)
	copy(payload, []byte(`{"k":"mutated!"}`))

	msgs := b.Read("agent-a", -1)
	if string(msgs[0].Payload) != `{"k":"original"}` {
		t.Errorf("bus payload was mutated through caller's buffer: %s", msgs[0].Payload)
	}
}
