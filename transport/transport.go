// Package transport defines the channel abstraction the session engine runs on.
//
// A Transport owns exactly one physical connection and its framing. It delivers
// every parsed inbound envelope, in receipt order, to the registered message
// handler and reports connection status changes exactly once per change.
package transport

import (
	"context"
	"sync"

	"github.com/localrivet/sandboxsdk/protocol"
)

// Status is the connection status of a Transport.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// MessageHandler receives each parsed inbound envelope.
type MessageHandler func(env *protocol.Envelope)

// StatusHandler receives status transitions.
type StatusHandler func(status Status)

// ErrorHandler receives transport-level errors.
type ErrorHandler func(err error)

// RawMessageHandler observes every inbound frame before parsing, for diagnostics.
type RawMessageHandler func(data []byte)

// EventHandlers is the set of callbacks a Transport invokes. Nil fields are
// left untouched when merged with SetEventHandlers.
type EventHandlers struct {
	OnMessage      MessageHandler
	OnStatusChange StatusHandler
	OnError        ErrorHandler
	OnRawMessage   RawMessageHandler
}

// merge overlays the non-nil handlers of next onto h.
func (h EventHandlers) merge(next EventHandlers) EventHandlers {
	if next.OnMessage != nil {
		h.OnMessage = next.OnMessage
	}
	if next.OnStatusChange != nil {
		h.OnStatusChange = next.OnStatusChange
	}
	if next.OnError != nil {
		h.OnError = next.OnError
	}
	if next.OnRawMessage != nil {
		h.OnRawMessage = next.OnRawMessage
	}
	return h
}

// Transport is a bidirectional envelope channel.
type Transport interface {
	// Connect opens the connection. Concurrent calls join the attempt already
	// in flight; calling it while connected is a no-op.
	Connect(ctx context.Context) error

	// Disconnect closes the connection gracefully and always leaves the
	// transport disconnected. Pending reconnects are cancelled.
	Disconnect() error

	// Send transmits env, or queues it until the connection is ready.
	Send(ctx context.Context, env *protocol.Envelope) error

	// DiscardQueued drops envelopes queued while not connected and returns
	// how many were dropped. Owners call it when queued traffic belongs to a
	// conversation the next connection will not continue.
	DiscardQueued() int

	// SetEventHandlers merges h into the registered handlers.
	SetEventHandlers(h EventHandlers)

	// WaitForReady blocks until the transport is connected, starting a
	// connection attempt if none is in flight.
	WaitForReady(ctx context.Context) error

	// Status returns the current connection status.
	Status() Status
}

// BaseTransport provides the handler table and status bookkeeping shared by
// Transport implementations.
type BaseTransport struct {
	handlersMu sync.RWMutex
	handlers   EventHandlers

	statusMu sync.Mutex
	status   Status
	pending  []Status // transitions not yet handed to the status handler
	emitting bool     // a SetStatus call is draining pending
}

// SetEventHandlers merges h into the registered handlers.
func (t *BaseTransport) SetEventHandlers(h EventHandlers) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers = t.handlers.merge(h)
}

// Handlers returns a snapshot of the registered handlers.
func (t *BaseTransport) Handlers() EventHandlers {
	t.handlersMu.RLock()
	defer t.handlersMu.RUnlock()
	return t.handlers
}

// Status returns the current status.
func (t *BaseTransport) Status() Status {
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	if t.status == "" {
		return StatusDisconnected
	}
	return t.status
}

// SetStatus records s and notifies the status handler if it differs from the
// previous status. It reports whether a transition happened. Callers must not
// hold locks the status handler may need.
//
// Notifications are delivered one at a time in the order the transitions
// were recorded. A transition recorded while another is being delivered,
// including one made from inside the status handler, is queued and
// delivered by the goroutine already delivering; SetStatus then returns
// without waiting for it.
func (t *BaseTransport) SetStatus(s Status) bool {
	t.statusMu.Lock()
	prev := t.status
	if prev == "" {
		prev = StatusDisconnected
	}
	if prev == s {
		t.statusMu.Unlock()
		return false
	}
	t.status = s
	t.pending = append(t.pending, s)
	if t.emitting {
		t.statusMu.Unlock()
		return true
	}
	t.emitting = true

	for len(t.pending) > 0 {
		next := t.pending[0]
		t.pending = t.pending[1:]
		t.statusMu.Unlock()
		if h := t.Handlers().OnStatusChange; h != nil {
			h(next)
		}
		t.statusMu.Lock()
	}
	t.emitting = false
	t.pending = nil
	t.statusMu.Unlock()
	return true
}

// EmitMessage hands env to the message handler.
func (t *BaseTransport) EmitMessage(env *protocol.Envelope) {
	if h := t.Handlers().OnMessage; h != nil {
		h(env)
	}
}

// EmitError hands err to the error handler.
func (t *BaseTransport) EmitError(err error) {
	if h := t.Handlers().OnError; h != nil {
		h(err)
	}
}

// EmitRaw hands a raw frame to the diagnostics handler.
func (t *BaseTransport) EmitRaw(data []byte) {
	if h := t.Handlers().OnRawMessage; h != nil {
		h(data)
	}
}
