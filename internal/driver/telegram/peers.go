package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"hubwatch/pkg/hubwatch"
)

// PeerCache remembers input peers learned from update entities so outbound
// calls can address conversations without extra resolution RPCs.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[string]tg.InputPeerClass)}
}

// StoreUser records a user peer.
func (c *PeerCache) StoreUser(user *tg.User) {
	if user == nil {
		return
	}

	c.store(strconv.FormatInt(user.ID, 10), &tg.InputPeerUser{
		UserID:     user.ID,
		AccessHash: user.AccessHash,
	})
}

// StoreChat records a basic group peer.
func (c *PeerCache) StoreChat(chat *tg.Chat) {
	if chat == nil {
		return
	}

	c.store(strconv.FormatInt(chat.ID, 10), &tg.InputPeerChat{ChatID: chat.ID})
}

// StoreChannel records a channel or supergroup peer.
func (c *PeerCache) StoreChannel(channel *tg.Channel) {
	if channel == nil {
		return
	}

	c.store(strconv.FormatInt(channel.ID, 10), &tg.InputPeerChannel{
		ChannelID:  channel.ID,
		AccessHash: channel.AccessHash,
	})
}

func (c *PeerCache) store(id string, peer tg.InputPeerClass) {
	c.mu.Lock()
	c.peers[id] = peer
	c.mu.Unlock()
}

// Resolve returns the input peer for a conversation seen before.
func (c *PeerCache) Resolve(conversation hubwatch.Conversation) (tg.InputPeerClass, error) {
	c.mu.RLock()
	peer, exists := c.peers[conversation.ID]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("resolve peer: unknown conversation %s", conversation.ID)
	}

	return peer, nil
}
