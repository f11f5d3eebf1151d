package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/transport"
	"github.com/stretchr/testify/require"
)

// mockTransport implements transport.Transport for testing. Every envelope
// sent through it is recorded, then handed to respond, which plays the
// service side by delivering replies.
type mockTransport struct {
	transport.BaseTransport

	mu         sync.Mutex
	connectErr error
	sendErr    error
	connects   int
	discards   int
	respond    func(m *mockTransport, env *protocol.Envelope)

	sent chan *protocol.Envelope
}

func newMockTransport() *mockTransport {
	return &mockTransport{sent: make(chan *protocol.Envelope, 100)}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	if m.Status() == transport.StatusConnected {
		return nil
	}
	m.mu.Lock()
	m.connects++
	err := m.connectErr
	m.mu.Unlock()

	m.SetStatus(transport.StatusConnecting)
	if err != nil {
		m.SetStatus(transport.StatusError)
		return err
	}
	m.SetStatus(transport.StatusConnected)
	return nil
}

func (m *mockTransport) WaitForReady(ctx context.Context) error {
	return m.Connect(ctx)
}

func (m *mockTransport) Send(ctx context.Context, env *protocol.Envelope) error {
	m.mu.Lock()
	err := m.sendErr
	respond := m.respond
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.sent <- env
	if respond != nil {
		respond(m, env)
	}
	return nil
}

func (m *mockTransport) DiscardQueued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discards++
	return 0
}

func (m *mockTransport) discardCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discards
}

func (m *mockTransport) Disconnect() error {
	m.SetStatus(transport.StatusDisconnected)
	return nil
}

func (m *mockTransport) setRespond(fn func(m *mockTransport, env *protocol.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

// deliver plays an inbound envelope.
func (m *mockTransport) deliver(envs ...*protocol.Envelope) {
	for _, env := range envs {
		m.EmitMessage(env)
	}
}

// nextSent returns the next envelope the session sent.
func (m *mockTransport) nextSent(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-m.sent:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound envelope")
		return nil
	}
}

// nextSentOfType skips envelopes until one of type typ is sent.
func (m *mockTransport) nextSentOfType(t *testing.T, typ protocol.MessageType) *protocol.Envelope {
	t.Helper()
	for {
		if env := m.nextSent(t); env.Type == typ {
			return env
		}
	}
}

func (m *mockTransport) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case env := <-m.sent:
		t.Fatalf("unexpected outbound %s envelope", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func controlReady(id string) *protocol.Envelope {
	return protocol.NewControl(protocol.ActionReady, id, nil)
}

func assistantText(text string) *protocol.Envelope {
	env, _ := protocol.New(protocol.TypeAssistant, protocol.AssistantPayload{
		Message: protocol.AssistantMessage{
			Role:    "assistant",
			Content: []protocol.ContentBlock{{Type: "text", Text: text}},
		},
	})
	return env
}

func resultText(text string) *protocol.Envelope {
	return protocol.NewResult(protocol.ResultPayload{
		Subtype: protocol.ResultSubtypeSuccess,
		Result:  text,
	})
}

func streamEvent(t *testing.T, event map[string]interface{}) *protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.TypeStreamEvent, map[string]interface{}{"event": event})
	require.NoError(t, err)
	return env
}

// readyOnInit answers init with a ready control and hands every other
// envelope to next.
func readyOnInit(id string, next func(m *mockTransport, env *protocol.Envelope)) func(*mockTransport, *protocol.Envelope) {
	return func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeInit {
			m.deliver(controlReady(id))
			return
		}
		if next != nil {
			next(m, env)
		}
	}
}

// newTestSession returns a session on a mock transport whose init is
// acknowledged as sess-1.
func newTestSession(t *testing.T, cfg SessionConfig, opts ...SessionOption) (*Session, *mockTransport) {
	t.Helper()
	m := newMockTransport()
	m.setRespond(readyOnInit("sess-1", nil))
	opts = append([]SessionOption{WithSessionLogger(logx.NopLogger{})}, opts...)
	s, err := NewSession(m, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, m
}

// connectTestSession is newTestSession followed by Connect. The init
// envelope is consumed from the sent log.
func connectTestSession(t *testing.T, cfg SessionConfig, opts ...SessionOption) (*Session, *mockTransport) {
	t.Helper()
	s, m := newTestSession(t, cfg, opts...)
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, protocol.TypeInit, m.nextSent(t).Type)
	return s, m
}
