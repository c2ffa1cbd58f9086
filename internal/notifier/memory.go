package notifier

import (
	"context"
	"sync"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

// Memory is a single-process Notifier backed by a subscription table.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[string]EventHandler // conversation id -> conn id -> handler
}

var _ Notifier = (*Memory)(nil)

// NewMemory creates an in-process notifier.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[string]EventHandler)}
}

func (n *Memory) Subscribe(conversationID, connID string, fn EventHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	conns, ok := n.subs[conversationID]
	if !ok {
		conns = make(map[string]EventHandler)
		n.subs[conversationID] = conns
	}
	conns[connID] = fn
	return nil
}

func (n *Memory) Unsubscribe(conversationID, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	conns, ok := n.subs[conversationID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(n.subs, conversationID)
	}
}

func (n *Memory) Publish(ctx context.Context, event model.MessageEvent) error {
	// Snapshot under the read lock; invoke handlers outside it so a
	// handler that re-enters subscribe/unsubscribe cannot deadlock.
	n.mu.RLock()
	handlers := make([]EventHandler, 0, len(n.subs[event.ConversationID]))
	for _, fn := range n.subs[event.ConversationID] {
		handlers = append(handlers, fn)
	}
	n.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
	return nil
}

func (n *Memory) Backend() string { return "memory" }

func (n *Memory) Ready(ctx context.Context) error { return nil }

func (n *Memory) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[string]map[string]EventHandler)
}
