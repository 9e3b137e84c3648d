// Package chat implements the reliable, deduplicated chat and system message
// exchange. The log is append-only; messages are never mutated, only
// filtered for display.
package chat

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
)

// Publisher sends an encoded envelope to the other participants. The
// transport's reliable channel backs it.
type Publisher func(data []byte, reliable bool) error

// Log owns the message history for one session.
type Log struct {
	publish Publisher

	mu   sync.Mutex
	msgs []domain.ChatMessage
	seen map[string]struct{}
}

func NewLog(publish Publisher) *Log {
	return &Log{
		publish: publish,
		seen:    make(map[string]struct{}),
	}
}

// Send applies local echo at send time: the message lands in the local log
// before the transport confirms anything, so the sender's UI never waits on
// a round trip. Delivery failures are returned but the echo stays.
func (l *Log) Send(m domain.ChatMessage) error {
	l.append(m)

	data, err := protocol.EncodeChat(m)
	if err != nil {
		return err
	}
	if err := l.publish(data, true); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("id", m.ID).Msg("publish failed")
		return err
	}
	return nil
}

// Accept appends an inbound, already-decoded message. Duplicate ids are
// ignored silently; that is benign redelivery, not an error.
func (l *Log) Accept(m domain.ChatMessage) bool {
	if m.ID == "" || m.Sender == "" || m.Text == "" {
		log.Warn().Str("module", "chat").Str("id", m.ID).Msg("dropping incomplete message")
		return false
	}
	return l.append(m)
}

func (l *Log) append(m domain.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[m.ID]; dup {
		log.Debug().Str("module", "chat").Str("id", m.ID).Msg("duplicate id ignored")
		return false
	}
	l.seen[m.ID] = struct{}{}
	l.msgs = append(l.msgs, m)
	return true
}

// Messages returns the log in insertion order.
func (l *Log) Messages() []domain.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len avoids copying when only the count matters.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}
