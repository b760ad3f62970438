package hubwatch

import "sync"

// ServiceBotIdentity is the registry key for the bot's own identity.
const ServiceBotIdentity = "hubwatch.bot_identity"

// BotIdentity holds the authenticated bot account identity. The driver fills
// it after sign-in; modules read it to detect mentions of and replies to the
// bot itself.
type BotIdentity struct {
	mu       sync.RWMutex
	id       string
	username string
}

// Set records the authenticated identity.
func (b *BotIdentity) Set(id, username string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.id = id
	b.username = username
}

// ID returns the bot account ID, empty before sign-in.
func (b *BotIdentity) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.id
}

// Username returns the bot username without the @ prefix, empty before
// sign-in.
func (b *BotIdentity) Username() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.username
}
