package bot

import (
	"errors"
	"sync"
)

// PurchaseState is the per-conversation payment check state.
type PurchaseState int

const (
	StateIdle PurchaseState = iota
	StateWaitingForPayment
)

var ErrBusy = errors.New("payment check already in progress")

// Conversations tracks PurchaseState per chat. It guards nothing but the
// flag itself; ledger access is not serialized here.
type Conversations struct {
	mu     sync.Mutex
	states map[int64]PurchaseState
}

func NewConversations() *Conversations {
	return &Conversations{states: make(map[int64]PurchaseState)}
}

func (c *Conversations) State(chatID int64) PurchaseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[chatID]
}

// Acquire moves the chat into StateWaitingForPayment. The returned release
// must be deferred; it clears the state whatever the check's outcome.
func (c *Conversations) Acquire(chatID int64) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.states[chatID] == StateWaitingForPayment {
		return nil, ErrBusy
	}
	c.states[chatID] = StateWaitingForPayment

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.states, chatID)
			c.mu.Unlock()
		})
	}, nil
}
