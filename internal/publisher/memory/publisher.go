// Package memory keeps published change events in process memory. It backs
// the "memory" publish driver and the pipeline tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// DefaultRetain bounds how many events New keeps.
const DefaultRetain = 1000

// ErrNoTopic is returned when Publish is called without a topic.
var ErrNoTopic = errors.New("topic is required")

// PublishedMessage is one retained event. Data holds the JSON encoding a
// broker would have received.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// Publisher retains the most recent events, oldest first.
type Publisher struct {
	mu       sync.RWMutex
	retain   int
	seq      int
	messages []PublishedMessage
}

// New returns a Publisher retaining DefaultRetain events.
func New() *Publisher {
	return NewWithRetain(DefaultRetain)
}

// NewWithRetain returns a Publisher keeping at most retain events. A
// non-positive retain keeps everything.
func NewWithRetain(retain int) *Publisher {
	return &Publisher{retain: retain}
}

// Publish encodes payload as JSON and retains it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", ErrNoTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Data: data})
	if p.retain > 0 && len(p.messages) > p.retain {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.retain:]...)
	}
	return id, nil
}

// Messages returns a copy of the retained events.
func (p *Publisher) Messages() []PublishedMessage {
	return p.filter("")
}

// ByTopic returns the retained events for topic.
func (p *Publisher) ByTopic(topic string) []PublishedMessage {
	return p.filter(topic)
}

func (p *Publisher) filter(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, 0, len(p.messages))
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
