// Package protocol frames the presence and chat wire messages that share the
// transport's reliable data channel. Both are JSON with a "type" discriminator;
// anything that does not parse as a known envelope is treated as belonging to
// another protocol on the same channel and reported as ErrForeign.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Stage/internal/domain"
)

const (
	TypePresenterReady = "presenter-ready"
	TypeChat           = "chat"
	TypeSystem         = "system"
)

var (
	// ErrForeign marks payloads that are not ours. Callers drop them
	// silently; the channel is shared.
	ErrForeign = errors.New("foreign payload")

	ErrMissingField = errors.New("envelope missing required field")
)

// PresenterReady is stateless: receipt alone is the fact.
type PresenterReady struct {
	TS int64
}

// ChatEnvelope carries both user chat and system notices.
type ChatEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	From string `json:"from"`
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

type presenceEnvelope struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// Decoded is the sum of everything Decode can produce; exactly one field is
// non-nil.
type Decoded struct {
	Presence *PresenterReady
	Chat     *domain.ChatMessage
}

// EncodePresenterReady frames a presence heartbeat.
func EncodePresenterReady(tsMs int64) ([]byte, error) {
	return json.Marshal(presenceEnvelope{Type: TypePresenterReady, TS: tsMs})
}

// EncodeChat frames a chat or system message.
func EncodeChat(m domain.ChatMessage) ([]byte, error) {
	typ := TypeChat
	if m.Kind == domain.KindSystem {
		typ = TypeSystem
	}
	return json.Marshal(ChatEnvelope{
		ID:   m.ID,
		Type: typ,
		From: string(m.Sender),
		Role: string(m.Role),
		Text: m.Text,
		TS:   m.SentAtMs,
	})
}

// Decode parses an inbound data payload. ErrForeign means the bytes are not
// one of our envelopes; ErrMissingField means a recognized envelope failed
// validation. Both are dropped by callers, the latter with a log line.
func Decode(data []byte) (Decoded, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Decoded{}, ErrForeign
	}

	switch head.Type {
	case TypePresenterReady:
		var env presenceEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Decoded{}, ErrForeign
		}
		return Decoded{Presence: &PresenterReady{TS: env.TS}}, nil

	case TypeChat, TypeSystem:
		var env ChatEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Decoded{}, ErrForeign
		}
		if env.ID == "" || env.From == "" || env.Text == "" {
			return Decoded{}, ErrMissingField
		}
		kind := domain.KindChat
		if head.Type == TypeSystem {
			kind = domain.KindSystem
		}
		msg := &domain.ChatMessage{
			ID:       env.ID,
			Kind:     kind,
			Sender:   domain.Identity(env.From),
			Role:     domain.Role(env.Role),
			Text:     env.Text,
			SentAtMs: env.TS,
		}
		return Decoded{Chat: msg}, nil

	default:
		return Decoded{}, ErrForeign
	}
}
