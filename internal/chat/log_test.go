package chat

import (
	"errors"
	"testing"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
)

func collectingPublisher() (Publisher, *[][]byte) {
	sent := &[][]byte{}
	return func(data []byte, reliable bool) error {
		*sent = append(*sent, data)
		return nil
	}, sent
}

func TestSendAppliesLocalEcho(t *testing.T) {
	pub, sent := collectingPublisher()
	l := NewLog(pub)

	m, err := domain.NewChatMessage("alice", domain.RoleViewer, "hello", 100)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := l.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := l.Messages()
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Fatalf("expected local echo in log, got %v", msgs)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(*sent))
	}
	dec, err := protocol.Decode((*sent)[0])
	if err != nil || dec.Chat == nil {
		t.Fatalf("published payload does not decode as chat: %v", err)
	}
}

func TestSendEchoSurvivesPublishFailure(t *testing.T) {
	wantErr := errors.New("transport down")
	l := NewLog(func([]byte, bool) error { return wantErr })

	m, _ := domain.NewChatMessage("alice", domain.RoleViewer, "hello", 100)
	if err := l.Send(m); !errors.Is(err, wantErr) {
		t.Errorf("expected publish error, got %v", err)
	}
	if l.Len() != 1 {
		t.Error("local echo must not depend on delivery confirmation")
	}
}

func TestAcceptDeduplicatesByID(t *testing.T) {
	pub, _ := collectingPublisher()
	l := NewLog(pub)

	m := domain.ChatMessage{ID: "77-abcd1234", Kind: domain.KindChat, Sender: "bob", Text: "hi", SentAtMs: 77}
	if !l.Accept(m) {
		t.Fatal("first accept must append")
	}
	if l.Accept(m) {
		t.Error("duplicate id must be ignored")
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 message, got %d", l.Len())
	}
}

func TestAcceptRejectsIncomplete(t *testing.T) {
	pub, _ := collectingPublisher()
	l := NewLog(pub)

	cases := []domain.ChatMessage{
		{Kind: domain.KindChat, Sender: "bob", Text: "hi"},       // no id
		{ID: "1-aa", Kind: domain.KindChat, Text: "hi"},          // no sender
		{ID: "2-bb", Kind: domain.KindChat, Sender: "bob"},       // no text
	}
	for _, m := range cases {
		if l.Accept(m) {
			t.Errorf("accepted incomplete message %+v", m)
		}
	}
	if l.Len() != 0 {
		t.Errorf("expected empty log, got %d", l.Len())
	}
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	pub, _ := collectingPublisher()
	l := NewLog(pub)

	// Wall-clock order across senders is best effort; the log preserves
	// arrival order even when timestamps disagree.
	l.Accept(domain.ChatMessage{ID: "a", Kind: domain.KindChat, Sender: "bob", Text: "second ts, first arrival", SentAtMs: 200})
	l.Accept(domain.ChatMessage{ID: "b", Kind: domain.KindChat, Sender: "ann", Text: "first ts, second arrival", SentAtMs: 100})

	msgs := l.Messages()
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("expected insertion order, got %v", msgs)
	}
}

func TestLocalEchoDedupesAgainstRedelivery(t *testing.T) {
	pub, _ := collectingPublisher()
	l := NewLog(pub)

	m, _ := domain.NewChatMessage("alice", domain.RoleViewer, "hello", 100)
	if err := l.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}
	// A relay that loops our own message back must not duplicate it.
	if l.Accept(m) {
		t.Error("expected looped-back own message to be deduplicated")
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 message, got %d", l.Len())
	}
}
