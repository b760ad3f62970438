package telegram

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/gotd/td/tg"

	"hubwatch/pkg/hubwatch"
)

type rpcStub struct {
	sendCalls []hubwatch.SendMessageRequest
	editCalls []hubwatch.EditMessageRequest
	failHTML  bool
	failAll   bool
	nextID    int
}

func (s *rpcStub) SendText(_ context.Context, _ tg.InputPeerClass, request hubwatch.SendMessageRequest) (int, error) {
	s.sendCalls = append(s.sendCalls, request)
	if s.failAll {
		return 0, errors.New("rpc unavailable")
	}
	if s.failHTML && request.Mode == hubwatch.TextModeHTML {
		return 0, errors.New("ENTITY_BOUNDS_INVALID")
	}
	s.nextID++

	return s.nextID, nil
}

func (s *rpcStub) EditText(_ context.Context, _ tg.InputPeerClass, _ int, request hubwatch.EditMessageRequest) error {
	s.editCalls = append(s.editCalls, request)
	if s.failAll {
		return errors.New("rpc unavailable")
	}
	if s.failHTML && request.Mode == hubwatch.TextModeHTML {
		return errors.New("ENTITY_BOUNDS_INVALID")
	}

	return nil
}

func newTestDispatcher(rpc outboundRPC) (*Dispatcher, *messageCache) {
	peers := NewPeerCache()
	peers.StoreChat(&tg.Chat{ID: 4242, Title: "ML releases"})
	recent := newMessageCache()
	identity := &hubwatch.BotIdentity{}
	identity.Set("999", "hubwatch_bot")

	return newDispatcher(rpc, peers, recent, identity, slog.Default()), recent
}

func groupTarget() hubwatch.OutboundTarget {
	return hubwatch.OutboundTarget{
		Conversation: hubwatch.Conversation{ID: "4242", Type: hubwatch.ConversationTypeGroup},
	}
}

// TestSendMessageRemembersOwnMessage verifies sends land in the reply cache.
func TestSendMessageRemembersOwnMessage(t *testing.T) {
	t.Parallel()

	stub := &rpcStub{}
	dispatcher, recent := newTestDispatcher(stub)

	sent, err := dispatcher.SendMessage(context.Background(), hubwatch.SendMessageRequest{
		Target: groupTarget(),
		Text:   "new model released",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if sent.ID != "1" {
		t.Fatalf("sent id = %s, want 1", sent.ID)
	}

	cached, found := recent.Lookup("4242", "1")
	if !found {
		t.Fatal("sent message not cached")
	}
	if cached.actorID != "999" || cached.text != "new model released" {
		t.Fatalf("cached = %+v", cached)
	}
}

// TestSendMessageRetriesPlainOnMarkupFailure verifies the HTML fallback.
func TestSendMessageRetriesPlainOnMarkupFailure(t *testing.T) {
	t.Parallel()

	stub := &rpcStub{failHTML: true}
	dispatcher, _ := newTestDispatcher(stub)

	sent, err := dispatcher.SendMessage(context.Background(), hubwatch.SendMessageRequest{
		Target: groupTarget(),
		Text:   "<b>broken <markup",
		Mode:   hubwatch.TextModeHTML,
	})
	if err != nil {
		t.Fatalf("send with fallback failed: %v", err)
	}
	if sent == nil {
		t.Fatal("sent message is nil")
	}

	if len(stub.sendCalls) != 2 {
		t.Fatalf("made %d send calls, want 2", len(stub.sendCalls))
	}
	if stub.sendCalls[0].Mode != hubwatch.TextModeHTML || stub.sendCalls[1].Mode != hubwatch.TextModePlain {
		t.Fatalf("call modes = %s then %s", stub.sendCalls[0].Mode, stub.sendCalls[1].Mode)
	}
}

// TestSendMessageFailsClosed verifies persistent RPC failure surfaces an error.
func TestSendMessageFailsClosed(t *testing.T) {
	t.Parallel()

	dispatcher, _ := newTestDispatcher(&rpcStub{failAll: true})

	_, err := dispatcher.SendMessage(context.Background(), hubwatch.SendMessageRequest{
		Target: groupTarget(),
		Text:   "hello",
	})
	if err == nil {
		t.Fatal("expected send error")
	}
}

// TestSendMessageUnknownConversation verifies unresolved peers fail fast.
func TestSendMessageUnknownConversation(t *testing.T) {
	t.Parallel()

	dispatcher, _ := newTestDispatcher(&rpcStub{})

	_, err := dispatcher.SendMessage(context.Background(), hubwatch.SendMessageRequest{
		Target: hubwatch.OutboundTarget{
			Conversation: hubwatch.Conversation{ID: "555"},
		},
		Text: "hello",
	})
	if err == nil {
		t.Fatal("expected unknown conversation error")
	}
}

// TestEditMessageRetriesPlainOnMarkupFailure verifies the edit HTML fallback.
func TestEditMessageRetriesPlainOnMarkupFailure(t *testing.T) {
	t.Parallel()

	stub := &rpcStub{failHTML: true}
	dispatcher, _ := newTestDispatcher(stub)

	err := dispatcher.EditMessage(context.Background(), hubwatch.EditMessageRequest{
		Target:    groupTarget(),
		MessageID: "7",
		Text:      "<i>updated",
		Mode:      hubwatch.TextModeHTML,
	})
	if err != nil {
		t.Fatalf("edit with fallback failed: %v", err)
	}
	if len(stub.editCalls) != 2 {
		t.Fatalf("made %d edit calls, want 2", len(stub.editCalls))
	}
}

// TestEditMessageRejectsBadID verifies message ID validation.
func TestEditMessageRejectsBadID(t *testing.T) {
	t.Parallel()

	dispatcher, _ := newTestDispatcher(&rpcStub{})

	err := dispatcher.EditMessage(context.Background(), hubwatch.EditMessageRequest{
		Target:    groupTarget(),
		MessageID: "not-a-number",
		Text:      "updated",
	})
	if !errors.Is(err, hubwatch.ErrInvalidOutboundRequest) {
		t.Fatalf("error = %v, want %v", err, hubwatch.ErrInvalidOutboundRequest)
	}
}
