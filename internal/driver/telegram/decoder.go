package telegram

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"

	"hubwatch/pkg/hubwatch"
)

const messageCacheLimit = 2048

// cachedMessage keeps enough of a seen message to resolve later replies to it.
type cachedMessage struct {
	actorID string
	text    string
}

// messageCache remembers recent messages per conversation so a reply can be
// attributed to its original author without extra RPCs. Oldest entries are
// evicted first.
type messageCache struct {
	mu      sync.Mutex
	entries map[string]cachedMessage
	order   []string
}

func newMessageCache() *messageCache {
	return &messageCache{entries: make(map[string]cachedMessage)}
}

func cacheKey(conversationID, messageID string) string {
	return conversationID + "/" + messageID
}

// Remember stores one message, evicting the oldest entry past the cap.
func (c *messageCache) Remember(conversationID, messageID, actorID, text string) {
	key := cacheKey(conversationID, messageID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
		if len(c.order) > messageCacheLimit {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.entries[key] = cachedMessage{actorID: actorID, text: text}
}

// Lookup returns a remembered message.
func (c *messageCache) Lookup(conversationID, messageID string) (cachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[cacheKey(conversationID, messageID)]

	return entry, exists
}

// updateEnvelope is one flattened inbound message with the entities that
// arrived alongside it.
type updateEnvelope struct {
	message *tg.Message
	users   map[int64]*tg.User
	chats   map[int64]*tg.Chat
	channel map[int64]*tg.Channel
}

// flattenUpdates extracts new-message updates and their entity maps out of a
// gotd update container. Unsupported update classes are skipped.
func flattenUpdates(updates tg.UpdatesClass) []updateEnvelope {
	var list []tg.UpdateClass
	users := make(map[int64]*tg.User)
	chats := make(map[int64]*tg.Chat)
	channels := make(map[int64]*tg.Channel)

	collect := func(userList []tg.UserClass, chatList []tg.ChatClass) {
		for _, item := range userList {
			if user, ok := item.(*tg.User); ok {
				users[user.ID] = user
			}
		}
		for _, item := range chatList {
			switch chat := item.(type) {
			case *tg.Chat:
				chats[chat.ID] = chat
			case *tg.Channel:
				channels[chat.ID] = chat
			}
		}
	}

	switch container := updates.(type) {
	case *tg.Updates:
		collect(container.Users, container.Chats)
		list = container.Updates
	case *tg.UpdatesCombined:
		collect(container.Users, container.Chats)
		list = container.Updates
	case *tg.UpdateShort:
		list = []tg.UpdateClass{container.Update}
	default:
		return nil
	}

	var envelopes []updateEnvelope
	for _, update := range list {
		var raw tg.MessageClass
		switch typed := update.(type) {
		case *tg.UpdateNewMessage:
			raw = typed.Message
		case *tg.UpdateNewChannelMessage:
			raw = typed.Message
		default:
			continue
		}
		message, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		envelopes = append(envelopes, updateEnvelope{
			message: message,
			users:   users,
			chats:   chats,
			channel: channels,
		})
	}

	return envelopes
}

// decoder converts flattened Telegram messages into neutral events, feeding
// the peer and message caches as a side effect.
type decoder struct {
	peers    *PeerCache
	recent   *messageCache
	identity *hubwatch.BotIdentity
}

func newDecoder(peers *PeerCache, recent *messageCache, identity *hubwatch.BotIdentity) *decoder {
	return &decoder{peers: peers, recent: recent, identity: identity}
}

// Decode maps one inbound message envelope into a neutral event. It returns
// nil for messages the bot should not observe: its own outgoing messages and
// messages without text.
func (d *decoder) Decode(envelope updateEnvelope) *hubwatch.Event {
	message := envelope.message
	if message == nil || message.Out {
		return nil
	}
	text := strings.TrimSpace(message.Message)
	if text == "" {
		return nil
	}

	d.rememberEntities(envelope)

	conversation, ok := d.mapConversation(envelope)
	if !ok {
		return nil
	}
	actor := d.mapActor(envelope, conversation)

	payload := &hubwatch.Message{
		ID:   strconv.Itoa(message.ID),
		Text: text,
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok && header.ReplyToMsgID != 0 {
			payload.ReplyToID = strconv.Itoa(header.ReplyToMsgID)
			if cached, found := d.recent.Lookup(conversation.ID, payload.ReplyToID); found {
				payload.ReplyToActorID = cached.actorID
				payload.ReplyToText = cached.text
			}
		}
	}
	d.recent.Remember(conversation.ID, payload.ID, actor.ID, text)

	event := &hubwatch.Event{
		ID:           uuid.NewString(),
		Kind:         hubwatch.EventKindMessageCreated,
		OccurredAt:   time.Unix(int64(message.Date), 0).UTC(),
		Platform:     hubwatch.PlatformTelegram,
		Conversation: conversation,
		Actor:        actor,
		Message:      payload,
	}

	if invocation, isCommand := hubwatch.ParseCommand(text); isCommand {
		// Commands addressed to another bot via /cmd@other are not ours.
		if invocation.Mention != "" && !strings.EqualFold(invocation.Mention, d.identity.Username()) {
			return event
		}
		event.Kind = hubwatch.EventKindCommandReceived
		event.Command = invocation
	}

	return event
}

// rememberEntities feeds every entity seen in an update into the peer cache.
func (d *decoder) rememberEntities(envelope updateEnvelope) {
	for _, user := range envelope.users {
		d.peers.StoreUser(user)
	}
	for _, chat := range envelope.chats {
		d.peers.StoreChat(chat)
	}
	for _, channel := range envelope.channel {
		d.peers.StoreChannel(channel)
	}
}

func (d *decoder) mapConversation(envelope updateEnvelope) (hubwatch.Conversation, bool) {
	switch peer := envelope.message.PeerID.(type) {
	case *tg.PeerUser:
		conversation := hubwatch.Conversation{
			ID:   strconv.FormatInt(peer.UserID, 10),
			Type: hubwatch.ConversationTypePrivate,
		}
		if user, ok := envelope.users[peer.UserID]; ok {
			conversation.Title = strings.TrimSpace(user.FirstName + " " + user.LastName)
		}
		return conversation, true
	case *tg.PeerChat:
		conversation := hubwatch.Conversation{
			ID:   strconv.FormatInt(peer.ChatID, 10),
			Type: hubwatch.ConversationTypeGroup,
		}
		if chat, ok := envelope.chats[peer.ChatID]; ok {
			conversation.Title = chat.Title
		}
		return conversation, true
	case *tg.PeerChannel:
		conversation := hubwatch.Conversation{
			ID:   strconv.FormatInt(peer.ChannelID, 10),
			Type: hubwatch.ConversationTypeGroup,
		}
		if channel, ok := envelope.channel[peer.ChannelID]; ok {
			conversation.Title = channel.Title
		}
		return conversation, true
	default:
		return hubwatch.Conversation{}, false
	}
}

func (d *decoder) mapActor(envelope updateEnvelope, conversation hubwatch.Conversation) hubwatch.Actor {
	var userID int64
	if from, ok := envelope.message.GetFromID(); ok {
		if peer, ok := from.(*tg.PeerUser); ok {
			userID = peer.UserID
		}
	} else if conversation.Type == hubwatch.ConversationTypePrivate {
		// Private chats omit FromID for the remote party.
		if id, err := strconv.ParseInt(conversation.ID, 10, 64); err == nil {
			userID = id
		}
	}
	if userID == 0 {
		return hubwatch.Actor{ID: "unknown"}
	}

	actor := hubwatch.Actor{ID: strconv.FormatInt(userID, 10)}
	if user, ok := envelope.users[userID]; ok {
		actor.Username = user.Username
		actor.DisplayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
		actor.IsBot = user.Bot
	}

	return actor
}
