package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"hubwatch/internal/format"
	"hubwatch/pkg/hubwatch"
)

const defaultOutboundTimeout = 10 * time.Second

// Dispatcher adapts neutral outbound operations to Telegram RPC calls.
//
// HTML sends that fail markup parsing on the platform side are retried as
// plain text so callers never lose a message to formatting.
type Dispatcher struct {
	rpc      outboundRPC
	peers    *PeerCache
	recent   *messageCache
	identity *hubwatch.BotIdentity
	logger   *slog.Logger
	timeout  time.Duration
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, request hubwatch.SendMessageRequest) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, request hubwatch.EditMessageRequest) error
}

func newDispatcher(
	rpc outboundRPC,
	peers *PeerCache,
	recent *messageCache,
	identity *hubwatch.BotIdentity,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		rpc:      rpc,
		peers:    peers,
		recent:   recent,
		identity: identity,
		logger:   logger.With("component", "telegram-outbound"),
		timeout:  defaultOutboundTimeout,
	}
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *Dispatcher) SendMessage(
	ctx context.Context,
	request hubwatch.SendMessageRequest,
) (*hubwatch.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := d.rpc.SendText(rpcCtx, peer, request)
	if err != nil && request.Mode == hubwatch.TextModeHTML {
		d.logger.WarnContext(ctx, "html send failed, retrying plain",
			"conversation", request.Target.Conversation.ID, "error", err)
		plain := request
		plain.Mode = hubwatch.TextModePlain
		plain.Text = format.StripTags(request.Text)
		id, err = d.rpc.SendText(rpcCtx, peer, plain)
	}
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", request.Target.Conversation.ID, err)
	}

	messageID := strconv.Itoa(id)
	d.recent.Remember(request.Target.Conversation.ID, messageID, d.identity.ID(), request.Text)

	return &hubwatch.OutboundMessage{
		ID:     messageID,
		Target: request.Target,
	}, nil
}

// EditMessage updates text of an existing Telegram message.
func (d *Dispatcher) EditMessage(ctx context.Context, request hubwatch.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err = d.rpc.EditText(rpcCtx, peer, messageID, request)
	if err != nil && request.Mode == hubwatch.TextModeHTML {
		d.logger.WarnContext(ctx, "html edit failed, retrying plain",
			"conversation", request.Target.Conversation.ID, "message_id", request.MessageID, "error", err)
		plain := request
		plain.Mode = hubwatch.TextModePlain
		plain.Text = format.StripTags(request.Text)
		err = d.rpc.EditText(rpcCtx, peer, messageID, plain)
	}
	if err != nil {
		return fmt.Errorf("edit message %s: %w", request.MessageID, err)
	}
	d.recent.Remember(request.Target.Conversation.ID, request.MessageID, d.identity.ID(), request.Text)

	return nil
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %v", hubwatch.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", hubwatch.ErrInvalidOutboundRequest)
	}

	return value, nil
}

// gotdOutboundRPC implements outboundRPC on the gotd message sender.
type gotdOutboundRPC struct {
	sender *message.Sender
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	return gotdOutboundRPC{sender: message.NewSender(client.API())}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	request hubwatch.SendMessageRequest,
) (int, error) {
	builder := &r.sender.To(peer).Builder
	if request.DisableLinkPreview {
		builder = builder.NoWebpage()
	}
	if request.ReplyToMessageID != "" {
		replyID, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return 0, fmt.Errorf("send text parse reply id %s: %w", request.ReplyToMessageID, err)
		}
		builder = builder.Reply(replyID)
	}

	var updates tg.UpdatesClass
	var err error
	if request.Mode == hubwatch.TextModeHTML {
		updates, err = builder.StyledText(ctx, html.String(nil, request.Text))
	} else {
		updates, err = builder.Text(ctx, request.Text)
	}
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	request hubwatch.EditMessageRequest,
) error {
	builder := &r.sender.To(peer).Builder
	if request.DisableLinkPreview {
		builder = builder.NoWebpage()
	}

	var err error
	if request.Mode == hubwatch.TextModeHTML {
		_, err = builder.Edit(messageID).StyledText(ctx, html.String(nil, request.Text))
	} else {
		_, err = builder.Edit(messageID).Text(ctx, request.Text)
	}
	if err != nil {
		return fmt.Errorf("edit text: %w", err)
	}

	return nil
}

var _ hubwatch.OutboundDispatcher = (*Dispatcher)(nil)
