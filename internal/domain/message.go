package domain

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
)

const (
	// SystemSender is the reserved identity for system notices.
	SystemSender Identity = "system"

	MaxMessageLen = 4096
)

var (
	ErrMessageEmpty   = errors.New("message text empty")
	ErrMessageTooLong = errors.New("message text too long")
)

// MessageKind separates user chat from lifecycle notices.
type MessageKind string

const (
	KindChat   MessageKind = "chat"
	KindSystem MessageKind = "system"
)

// ChatMessage is immutable once created. Ordering is insertion order on each
// receiver; dedup is by ID.
type ChatMessage struct {
	ID       string
	Kind     MessageKind
	Sender   Identity
	Role     Role
	Text     string
	SentAtMs int64
}

// NewChatMessage builds an outbound message with a collision-resistant id
// combining the send timestamp and a random suffix.
func NewChatMessage(sender Identity, role Role, text string, nowMs int64) (ChatMessage, error) {
	if len(text) == 0 {
		return ChatMessage{}, ErrMessageEmpty
	}
	if len(text) > MaxMessageLen {
		return ChatMessage{}, ErrMessageTooLong
	}
	return ChatMessage{
		ID:       MessageID(nowMs),
		Kind:     KindChat,
		Sender:   sender,
		Role:     role,
		Text:     text,
		SentAtMs: nowMs,
	}, nil
}

// NewSystemMessage builds a lifecycle notice under the reserved sender.
func NewSystemMessage(text string, nowMs int64) ChatMessage {
	return ChatMessage{
		ID:       MessageID(nowMs),
		Kind:     KindSystem,
		Sender:   SystemSender,
		Text:     text,
		SentAtMs: nowMs,
	}
}

// MessageID returns "<ms>-<random>"; unique per sender and time.
func MessageID(nowMs int64) string {
	u := uuid.NewString()
	return strconv.FormatInt(nowMs, 10) + "-" + u[:8]
}
