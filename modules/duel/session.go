package duel

import (
	"sync"

	"hubwatch/pkg/hubwatch"
)

type questionKind string

const (
	kindSerious questionKind = "serious"
	kindAbsurd  questionKind = "absurd"
)

// session is one active duel in one conversation.
type session struct {
	question string
	answer   string
	kind     questionKind
	armed    bool

	reminder hubwatch.TimerHandle
	expiry   hubwatch.TimerHandle
}

// cancelTimers stops whichever timers are still pending.
func (s *session) cancelTimers() {
	if s.reminder != nil {
		s.reminder.Cancel()
	}
	if s.expiry != nil {
		s.expiry.Cancel()
	}
}

// Sessions tracks active duels keyed by conversation ID.
//
// A conversation is reserved with begin before the question exists, so a
// second /duel in flight sees the duel as active. take removes and returns a
// session atomically; concurrent evaluation and expiry therefore resolve to
// exactly one winner.
type Sessions struct {
	mu             sync.Mutex
	byConversation map[string]*session
}

// NewSessions creates an empty duel registry.
func NewSessions() *Sessions {
	return &Sessions{byConversation: make(map[string]*session)}
}

// Active reports whether a duel is running in the conversation.
func (s *Sessions) Active(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.byConversation[conversationID]

	return exists
}

// begin reserves the conversation for a new duel. It returns false when one
// is already active.
func (s *Sessions) begin(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byConversation[conversationID]; exists {
		return false
	}
	s.byConversation[conversationID] = &session{}

	return true
}

// arm fills the reserved session with its question and reminder timer.
// It returns false when the reservation vanished in the meantime.
func (s *Sessions) arm(conversationID, question, answer string, kind questionKind, reminder hubwatch.TimerHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.byConversation[conversationID]
	if !exists {
		return false
	}
	sess.question = question
	sess.answer = answer
	sess.kind = kind
	sess.armed = true
	sess.reminder = reminder

	return true
}

// setExpiry attaches the expiry timer scheduled by the reminder callback.
// It returns false when the duel ended before the timer could be attached.
func (s *Sessions) setExpiry(conversationID string, expiry hubwatch.TimerHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.byConversation[conversationID]
	if !exists {
		return false
	}
	sess.expiry = expiry

	return true
}

// takeArmed atomically removes and returns the session when it is armed.
// Unarmed reservations are left in place for their owner to finish or roll
// back.
func (s *Sessions) takeArmed(conversationID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.byConversation[conversationID]
	if !exists || !sess.armed {
		return nil, false
	}
	delete(s.byConversation, conversationID)

	return sess, true
}

// release removes a reservation regardless of its state. Used to roll back a
// failed duel start.
func (s *Sessions) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byConversation, conversationID)
}
