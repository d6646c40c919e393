package engine

import (
	"math/big"
	"sync"
)

// Status is the lifecycle position of a conversation. Statuses only move
// forward; once terminal, intake ignores every later message in the
// conversation.
type Status string

const (
	StatusNew                Status = "new"
	StatusInstructionSent    Status = "instruction_sent"
	StatusResolved           Status = "resolved"
	StatusInvalidName        Status = "error_invalid_name"
	StatusUnavailableName    Status = "error_unavailable_name"
	StatusRegistrationFailed Status = "error_registration_failed"
	StatusProcessingError    Status = "error_processing"
	StatusMaxAttempts        Status = "error_max_attempts"
)

// Terminal reports whether intake must skip further messages for a
// conversation in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusInvalidName, StatusUnavailableName, StatusMaxAttempts:
		return true
	}
	return false
}

// ConversationState tracks one social thread. Entries are never deleted;
// they double as the idempotence record for processed messages.
type ConversationState struct {
	Status                 Status
	LastProcessedMessageID string
	Name                   string
	RequesterID            string
	DepositAddress         string
	DerivationPath         string
	Price                  *big.Int
	Attempts               int
}

// StatePatch is a partial overlay for Merge. Zero-valued fields are left
// untouched; IncrementAttempts bumps the counter.
type StatePatch struct {
	Status                 Status
	LastProcessedMessageID string
	Name                   string
	RequesterID            string
	DepositAddress         string
	DerivationPath         string
	Price                  *big.Int
	IncrementAttempts      bool
}

// ConversationTracker is the process-wide conversation map. It performs no
// transition validation; callers own the lifecycle rules.
type ConversationTracker struct {
	mu     sync.RWMutex
	states map[string]ConversationState
}

func NewConversationTracker() *ConversationTracker {
	return &ConversationTracker{states: make(map[string]ConversationState)}
}

func (t *ConversationTracker) Get(conversationID string) (ConversationState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[conversationID]
	return state, ok
}

// Merge overlays patch onto the stored state, creating a default
// (status=new, attempts=0) entry when the conversation is unknown.
func (t *ConversationTracker) Merge(conversationID string, patch StatePatch) ConversationState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[conversationID]
	if !ok {
		state = ConversationState{Status: StatusNew}
	}

	if patch.Status != "" {
		state.Status = patch.Status
	}
	if patch.LastProcessedMessageID != "" {
		state.LastProcessedMessageID = patch.LastProcessedMessageID
	}
	if patch.Name != "" {
		state.Name = patch.Name
	}
	if patch.RequesterID != "" {
		state.RequesterID = patch.RequesterID
	}
	if patch.DepositAddress != "" {
		state.DepositAddress = patch.DepositAddress
	}
	if patch.DerivationPath != "" {
		state.DerivationPath = patch.DerivationPath
	}
	if patch.Price != nil {
		state.Price = new(big.Int).Set(patch.Price)
	}
	if patch.IncrementAttempts {
		state.Attempts++
	}

	t.states[conversationID] = state
	return state
}

// Range calls fn for every tracked conversation until fn returns false.
func (t *ConversationTracker) Range(fn func(conversationID string, state ConversationState) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, state := range t.states {
		if !fn(id, state) {
			return
		}
	}
}

func (t *ConversationTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
