// Package provider defines the contract with an external wallet provider: a
// request/response call, two change notifications, and a MetaMask flag.
// Implementations live in walletsync/pkg/node and walletsync/pkg/bridge.
package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// EventName names a provider notification.
type EventName string

const (
	EventAccountsChanged EventName = "accountsChanged"
	EventChainChanged    EventName = "chainChanged"
)

// Handler receives the raw notification payload.
type Handler func(payload json.RawMessage)

// Provider is the injected wallet collaborator.
type Provider interface {
	// Request performs one RPC call. It blocks until the wallet answers or ctx
	// is done; the wallet may prompt the user, so there is no implicit timeout.
	Request(ctx context.Context, req Request) (json.RawMessage, error)
	// On registers handler for event and returns a function that removes it.
	On(event EventName, handler Handler) (unsubscribe func())
	// IsMetaMask reports whether the provider identifies as MetaMask.
	IsMetaMask() bool
}

// Emitter is a handler registry that provider implementations embed.
type Emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventName]map[int]Handler
}

// On registers handler. The returned func is idempotent.
func (e *Emitter) On(event EventName, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[EventName]map[int]Handler)
	}
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]Handler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers[event], id)
		})
	}
}

// Emit calls every handler registered for event, outside the lock.
func (e *Emitter) Emit(event EventName, payload json.RawMessage) {
	e.mu.RLock()
	hs := make([]Handler, 0, len(e.handlers[event]))
	for _, h := range e.handlers[event] {
		hs = append(hs, h)
	}
	e.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
}

// HandlerCount returns the number of live handlers for event.
func (e *Emitter) HandlerCount(event EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[event])
}

// Starter is implemented by providers that need a background loop to produce
// events, such as the polling node provider. The loop ends when ctx is done.
type Starter interface {
	Start(ctx context.Context)
}
