// Package memory contains an in-process publisher used when Pub/Sub is not configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const defaultHistory = 1024

// Publisher keeps the most recent published payloads, JSON encoded, for inspection.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	limit    int
	messages []Message
	logger   *zap.Logger
}

// Message captures one publish call.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// New returns a memory Publisher holding at most limit messages (1024 when limit <= 0).
func New(limit int, logger *zap.Logger) *Publisher {
	if limit <= 0 {
		limit = defaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{limit: limit, logger: logger}
}

// Publish encodes and records the message, returning a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	if over := len(p.messages) - p.limit; over > 0 {
		p.messages = append([]Message(nil), p.messages[over:]...)
	}
	p.logger.Debug("notification recorded", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Messages returns the recorded publishes for topic, or all of them when topic is empty.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close implements io.Closer.
func (p *Publisher) Close() error {
	return nil
}
