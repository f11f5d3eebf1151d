package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTool() Tool {
	return NewTool("add", "Adds two numbers", protocol.ToolInputSchema{
		Type: "object",
		Properties: map[string]protocol.PropertyDetail{
			"a": {Type: "number"},
			"b": {Type: "number"},
		},
		Required: []string{"a", "b"},
	}, func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		a, _ := input["a"].(float64)
		b, _ := input["b"].(float64)
		return a + b, nil
	})
}

func decodeToolResult(t *testing.T, env *protocol.Envelope) protocol.ToolResultPayload {
	t.Helper()
	require.Equal(t, protocol.TypeToolResult, env.Type)
	var p protocol.ToolResultPayload
	require.NoError(t, env.Decode(&p))
	return p
}

func TestSessionConnectControlReady(t *testing.T) {
	s, m := newTestSession(t, SessionConfig{
		Model: "model-x",
		Tools: []Tool{addTool(), SandboxTool("bash", "Runs a shell command", protocol.ToolInputSchema{})},
	})
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "sess-1", s.ID())

	var init protocol.InitPayload
	require.NoError(t, m.nextSent(t).Decode(&init))
	assert.Equal(t, "model-x", init.Model)
	require.Len(t, init.Tools, 2)
	assert.Equal(t, protocol.ExecuteInClient, init.Tools[0].ExecuteIn)
	assert.Equal(t, protocol.ExecuteInSandbox, init.Tools[1].ExecuteIn)
	assert.Equal(t, "object", init.Tools[1].InputSchema.Type)
	assert.NotNil(t, init.McpServers)

	// Connecting a ready session is a no-op.
	require.NoError(t, s.Connect(context.Background()))
	m.assertNothingSent(t)
}

func TestSessionConnectSystemInit(t *testing.T) {
	s, m := newTestSession(t, SessionConfig{})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeInit {
			// Unrelated envelopes before the acknowledgement are discarded.
			m.deliver(assistantText("early"))
			sys, _ := protocol.New(protocol.TypeSystem, protocol.SystemPayload{
				Subtype:   protocol.SystemSubtypeInit,
				SessionID: "sys-7",
			})
			m.deliver(sys)
		}
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "sys-7", s.ID())

	buffered, waiting := s.inbox.pending()
	assert.Zero(t, buffered)
	assert.Zero(t, waiting)
}

func TestSessionConnectErrorEnvelope(t *testing.T) {
	s, m := newTestSession(t, SessionConfig{})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeInit {
			m.deliver(protocol.NewError("bad model", "invalid_config", nil))
		}
	})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsServerError(err))
	assert.Equal(t, "invalid_config", ErrorCode(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, transport.StatusDisconnected, m.Status())

	// The recorded error is returned by later operations.
	_, qerr := s.Query(context.Background(), "hi")
	assert.Same(t, err, qerr)
}

func TestSessionConnectTimeout(t *testing.T) {
	s, m := newTestSession(t, SessionConfig{}, WithInitTimeout(50*time.Millisecond))
	m.setRespond(nil)

	start := time.Now()
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, IsTimeoutError(err))
	assert.ErrorIs(t, err, ErrInitTimeout)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, transport.StatusDisconnected, m.Status())
}

func TestSessionConnectTransportFailure(t *testing.T) {
	s, m := newTestSession(t, SessionConfig{})
	m.connectErr = errors.New("connection refused")

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, StateFailed, s.State())
}

func TestQueryConnectsLazily(t *testing.T) {
	s, m := newTestSession(t, SessionConfig{})
	m.setRespond(readyOnInit("sess-1", func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(assistantText("hi there"), resultText(""))
		}
	}))

	res, err := s.Query(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Text())
	assert.Equal(t, StateReady, s.State())

	assert.Equal(t, protocol.TypeInit, m.nextSent(t).Type)
	var user protocol.UserPayload
	require.NoError(t, m.nextSent(t).Decode(&user))
	assert.Equal(t, "sess-1", user.SessionID)
	assert.NotEmpty(t, user.UUID)
	assert.Equal(t, "hello", user.Message.Content[0].Text)
}

func TestQueryToolRoundTrip(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{Tools: []Tool{addTool()}})

	var sawWaiting atomic.Bool
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		switch env.Type {
		case protocol.TypeUser:
			m.deliver(protocol.NewToolCall("c1", "add", map[string]interface{}{"a": 2, "b": 3}))
		case protocol.TypeToolResult:
			sawWaiting.Store(s.State() == StateWaitingTool)
			m.deliver(assistantText("5"), resultText("5"))
		}
	})

	res, err := s.Query(context.Background(), "what is 2+3?")
	require.NoError(t, err)

	assert.Equal(t, protocol.TypeUser, m.nextSent(t).Type)
	reply := decodeToolResult(t, m.nextSent(t))
	assert.Equal(t, "c1", reply.CallID)
	assert.False(t, reply.IsError)
	assert.Equal(t, float64(5), reply.Result)

	assert.True(t, sawWaiting.Load())
	assert.Equal(t, "5", res.Text())
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "add", res.ToolCalls[0].ToolName)
	assert.Equal(t, float64(5), res.ToolCalls[0].Result)
	assert.NoError(t, res.ToolCalls[0].Err)
	assert.Equal(t, StateReady, s.State())
}

func TestQueryToolFailureAndPanic(t *testing.T) {
	failing := NewTool("fail", "", protocol.ToolInputSchema{}, func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return nil, errors.New("disk full")
	})
	panicking := NewTool("boom", "", protocol.ToolInputSchema{}, func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		panic("kaboom")
	})
	s, m := connectTestSession(t, SessionConfig{Tools: []Tool{failing, panicking}})

	var replies atomic.Int32
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		switch env.Type {
		case protocol.TypeUser:
			m.deliver(
				protocol.NewToolCall("c1", "fail", nil),
				protocol.NewToolCall("c2", "boom", map[string]interface{}{}),
			)
		case protocol.TypeToolResult:
			if replies.Add(1) == 2 {
				m.deliver(resultText("done"))
			}
		}
	})

	res, err := s.Query(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text())

	m.nextSentOfType(t, protocol.TypeUser)

	first := decodeToolResult(t, m.nextSent(t))
	assert.Equal(t, "c1", first.CallID)
	assert.True(t, first.IsError)
	assert.Equal(t, map[string]interface{}{"error": "disk full", "code": protocol.CodeToolExecutionFailed}, first.Result)

	second := decodeToolResult(t, m.nextSent(t))
	assert.Equal(t, "c2", second.CallID)
	assert.True(t, second.IsError)
	failure := second.Result.(map[string]interface{})
	assert.Equal(t, protocol.CodeToolPanicked, failure["code"])
	assert.Contains(t, failure["error"], "kaboom")

	require.Len(t, res.ToolCalls, 2)
	var pe *ToolPanicError
	assert.ErrorAs(t, res.ToolCalls[1].Err, &pe)
	assert.Equal(t, StateReady, s.State())
}

func TestQueryUnregisteredToolCallIsLeftAlone(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{Tools: []Tool{addTool()}})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(protocol.NewToolCall("c9", "bash", map[string]interface{}{"cmd": "ls"}), resultText("ok"))
		}
	})

	res, err := s.Query(context.Background(), "list files")
	require.NoError(t, err)
	assert.Empty(t, res.ToolCalls)

	assert.Equal(t, protocol.TypeUser, m.nextSent(t).Type)
	m.assertNothingSent(t)
}

func TestQueryMcpServerTool(t *testing.T) {
	calc := NewMcpServer("calc", "1.0.0", addTool())
	s, m := connectTestSession(t, SessionConfig{McpServers: []*McpServer{calc}})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		switch env.Type {
		case protocol.TypeUser:
			m.deliver(protocol.NewToolCall("c1", calc.QualifiedName("add"), map[string]interface{}{"a": 1, "b": 1}))
		case protocol.TypeToolResult:
			m.deliver(resultText("2"))
		}
	})

	res, err := s.Query(context.Background(), "1+1")
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "mcp__calc__add", res.ToolCalls[0].ToolName)
	assert.Equal(t, float64(2), res.ToolCalls[0].Result)
}

func TestQueryStateConflict(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Query(context.Background(), "first")
		done <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateProcessing }, time.Second, 5*time.Millisecond)

	_, err := s.Query(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.ErrorIs(t, err, ErrInvalidState)

	m.deliver(resultText("first done"))
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, s.State())
}

func TestQueryErrorEnvelope(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(protocol.NewError("rate limited", "rate_limit", map[string]interface{}{"retryAfter": 3}))
		}
	})

	_, err := s.Query(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, IsServerError(err))
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "rate_limit", se.Code)
	assert.Equal(t, StateReady, s.State())
}

func TestQueryContextCancelAbandonsTurn(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Query(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateReady, s.State())

	m.nextSentOfType(t, protocol.TypeUser)
	interrupt := m.nextSent(t)
	assert.True(t, protocol.IsControl(interrupt, protocol.ActionInterrupt))

	// The abandoned turn's leftovers do not leak into the next one.
	m.deliver(assistantText("stale"), resultText("stale"))
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(resultText("fresh"))
		}
	})
	res, err := s.Query(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Text())
	assert.Empty(t, res.Messages)
}

func TestAbandonedTurnEndedByErrorEnvelope(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Query(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The service answers the interrupt with an error instead of a result.
	m.deliver(protocol.NewError("interrupted", "interrupted", nil))
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(resultText("fresh"))
		}
	})

	next, cancelNext := context.WithTimeout(context.Background(), time.Second)
	defer cancelNext()
	res, err := s.Query(next, "again")
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Text())
	assert.Equal(t, StateReady, s.State())
}

func TestStreamTranslatesEvents(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{Tools: []Tool{addTool()}})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		switch env.Type {
		case protocol.TypeUser:
			m.deliver(
				streamEvent(t, map[string]interface{}{
					"type": "content_block_delta", "index": 0,
					"delta": map[string]interface{}{"type": "thinking_delta", "thinking": "hmm"},
				}),
				streamEvent(t, map[string]interface{}{
					"type": "content_block_delta", "index": 0,
					"delta": map[string]interface{}{"type": "text_delta", "text": "Hel"},
				}),
				streamEvent(t, map[string]interface{}{
					"type": "content_block_delta", "index": 0,
					"delta": map[string]interface{}{"type": "text_delta", "text": "lo"},
				}),
				streamEvent(t, map[string]interface{}{
					"type": "content_block_start", "index": 1,
					"content_block": map[string]interface{}{"type": "tool_use", "id": "tu1", "name": "add"},
				}),
				protocol.NewToolCall("c1", "add", map[string]interface{}{"a": 2, "b": 3}),
			)
		case protocol.TypeToolResult:
			m.deliver(assistantText("Hello"), resultText("Hello"))
		}
	})

	var types []EventType
	var text string
	var last StreamEvent
	for ev, err := range s.Stream(context.Background(), "greet") {
		require.NoError(t, err)
		types = append(types, ev.Type)
		if ev.Type == EventTextDelta {
			text += ev.Text
		}
		last = ev
	}

	assert.Equal(t, []EventType{
		EventThinkingDelta, EventTextDelta, EventTextDelta, EventToolUse,
		EventToolResult, EventMessage, EventResult,
	}, types)
	assert.Equal(t, "Hello", text)
	require.NotNil(t, last.Result)
	assert.Equal(t, "Hello", last.Result.Result)
	assert.Equal(t, StateReady, s.State())
}

func TestStreamToolUseFromAssistantMessage(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type != protocol.TypeUser {
			return
		}
		msg, _ := protocol.New(protocol.TypeAssistant, protocol.AssistantPayload{
			Message: protocol.AssistantMessage{Role: "assistant", Content: []protocol.ContentBlock{
				{Type: "text", Text: "running"},
				{Type: "tool_use", ID: "tu1", Name: "bash"},
			}},
		})
		m.deliver(msg, resultText("ok"))
	})

	var toolUses []string
	for ev, err := range s.Stream(context.Background(), "run") {
		require.NoError(t, err)
		if ev.Type == EventToolUse {
			toolUses = append(toolUses, ev.ToolUse.Name)
		}
	}
	assert.Equal(t, []string{"bash"}, toolUses)
}

func TestStreamErrorEnvelope(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(protocol.NewError("overloaded", "overloaded", nil))
		}
	})

	var got []error
	for ev, err := range s.Stream(context.Background(), "hi") {
		got = append(got, err)
		assert.Equal(t, EventError, ev.Type)
		assert.Equal(t, "overloaded", ev.Error.Message)
	}
	require.Len(t, got, 1)
	assert.True(t, IsServerError(got[0]))
	assert.Equal(t, StateReady, s.State())
}

func TestStreamBreakAbandonsTurn(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		switch {
		case env.Type == protocol.TypeUser:
			m.deliver(streamEvent(t, map[string]interface{}{
				"type":  "content_block_delta",
				"delta": map[string]interface{}{"type": "text_delta", "text": "partial"},
			}))
		case protocol.IsControl(env, protocol.ActionInterrupt):
			m.deliver(resultText("interrupted"))
		}
	})

	for ev, err := range s.Stream(context.Background(), "long task") {
		require.NoError(t, err)
		assert.Equal(t, EventTextDelta, ev.Type)
		break
	}
	assert.Equal(t, StateReady, s.State())

	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(resultText("second"))
		}
	})
	res, err := s.Query(context.Background(), "next")
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text())
}

func TestReceiveReturnsRawEnvelopes(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{Tools: []Tool{addTool()}})

	_, err := newIdleSession(t).Receive(context.Background())
	assert.True(t, IsStateError(err))

	call := protocol.NewToolCall("c1", "add", nil)
	m.deliver(assistantText("a"), call)

	env, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAssistant, env.Type)
	env, err = s.Receive(context.Background())
	require.NoError(t, err)
	assert.Same(t, call, env)
	m.assertNothingSent(t)
}

// newIdleSession returns a session that was never connected.
func newIdleSession(t *testing.T) *Session {
	s, _ := newTestSession(t, SessionConfig{})
	return s
}

func TestEndInputAndInterrupt(t *testing.T) {
	idle, _ := newTestSession(t, SessionConfig{})
	assert.True(t, IsStateError(idle.EndInput(context.Background())))
	assert.True(t, IsStateError(idle.Interrupt(context.Background())))

	s, m := connectTestSession(t, SessionConfig{})
	require.NoError(t, s.EndInput(context.Background()))
	var p protocol.ControlPayload
	require.NoError(t, m.nextSent(t).Decode(&p))
	assert.Equal(t, protocol.ActionEndInput, p.Action)
	assert.Equal(t, "sess-1", p.SessionID)

	require.NoError(t, s.Interrupt(context.Background()))
	assert.True(t, protocol.IsControl(m.nextSent(t), protocol.ActionInterrupt))
}

func TestCloseIsIdempotentAndFailsWaiters(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		_, waiting := s.inbox.pending()
		return waiting == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending Receive was not released by Close")
	}
	assert.True(t, protocol.IsControl(m.nextSent(t), protocol.ActionClose))
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, transport.StatusDisconnected, m.Status())

	require.NoError(t, s.Close())
	m.assertNothingSent(t)

	_, err := s.Query(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, IsStateError(err))
}

func TestCloseKeepsBufferedEnvelopesReadable(t *testing.T) {
	s, m := connectTestSession(t, SessionConfig{})
	m.deliver(assistantText("late"))

	require.NoError(t, s.Close())

	env, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAssistant, env.Type)

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestUnexpectedDisconnectFailsSession(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	s, m := connectTestSession(t, SessionConfig{}, WithErrorHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	m.setRespond(nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Query(context.Background(), "hi")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateProcessing }, time.Second, 5*time.Millisecond)

	m.SetStatus(transport.StatusDisconnected)

	err := <-errCh
	assert.ErrorIs(t, err, ErrUnexpectedDisconnect)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, CodeDisconnected, ErrorCode(err))
	assert.Equal(t, StateFailed, s.State())

	mu.Lock()
	assert.Len(t, reported, 1)
	mu.Unlock()

	_, err = s.Query(context.Background(), "again")
	assert.ErrorIs(t, err, ErrUnexpectedDisconnect)
}

func TestReconnectResumesSession(t *testing.T) {
	var statuses []transport.Status
	var mu sync.Mutex
	s, m := connectTestSession(t, SessionConfig{}, WithStatusHandler(func(st transport.Status) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	}))
	m.setRespond(nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Query(context.Background(), "hi")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateProcessing }, time.Second, 5*time.Millisecond)
	m.nextSentOfType(t, protocol.TypeUser)

	m.SetStatus(transport.StatusReconnecting)
	assert.ErrorIs(t, <-errCh, ErrUnexpectedDisconnect)
	assert.Equal(t, StateInitializing, s.State())

	_, err := s.Query(context.Background(), "while down")
	assert.True(t, IsStateError(err))

	m.setRespond(readyOnInit("sess-1", func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(resultText("back"))
		}
	}))
	m.SetStatus(transport.StatusConnected)

	var init protocol.InitPayload
	require.NoError(t, m.nextSentOfType(t, protocol.TypeInit).Decode(&init))
	assert.Equal(t, "sess-1", init.Resume)
	require.Eventually(t, func() bool { return s.State() == StateReady }, time.Second, 5*time.Millisecond)

	res, err := s.Query(context.Background(), "after")
	require.NoError(t, err)
	assert.Equal(t, "back", res.Text())

	mu.Lock()
	assert.Contains(t, statuses, transport.StatusReconnecting)
	mu.Unlock()
}

func TestReconnectDropsTurnTrafficBeforeResume(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	slow := NewTool("slow", "Blocks until released", protocol.ToolInputSchema{}, func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		close(started)
		<-release
		return "late", nil
	})
	s, m := connectTestSession(t, SessionConfig{Tools: []Tool{slow}})
	m.setRespond(func(m *mockTransport, env *protocol.Envelope) {
		if env.Type == protocol.TypeUser {
			m.deliver(protocol.NewToolCall("c9", "slow", nil))
		}
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Query(context.Background(), "hi")
		errCh <- err
	}()
	m.nextSentOfType(t, protocol.TypeUser)
	<-started

	m.SetStatus(transport.StatusReconnecting)
	assert.Equal(t, 1, m.discardCalls())
	assert.Equal(t, StateInitializing, s.State())

	// The handler finishes after the drop; its reply belongs to the lost
	// turn and is not sent.
	close(release)
	assert.ErrorIs(t, <-errCh, ErrUnexpectedDisconnect)
	m.assertNothingSent(t)

	// Nothing can be sent for the old turn while the session resumes.
	assert.Error(t, s.Interrupt(context.Background()))
	m.assertNothingSent(t)

	m.setRespond(readyOnInit("sess-1", nil))
	m.SetStatus(transport.StatusConnected)

	first := m.nextSent(t)
	assert.Equal(t, protocol.TypeInit, first.Type)
	var init protocol.InitPayload
	require.NoError(t, first.Decode(&init))
	assert.Equal(t, "sess-1", init.Resume)
	require.Eventually(t, func() bool { return s.State() == StateReady }, time.Second, 5*time.Millisecond)
}

func TestNewSessionRejectsDuplicateTools(t *testing.T) {
	_, err := NewSession(newMockTransport(), SessionConfig{Tools: []Tool{addTool(), addTool()}})
	assert.ErrorIs(t, err, ErrDuplicateTool)

	_, err = NewSession(nil, SessionConfig{})
	assert.Error(t, err)
}

func TestTypedTool(t *testing.T) {
	type greetArgs struct {
		Name  string `json:"name" description:"Who to greet"`
		Times int    `json:"times"`
	}
	tool := TypedTool("greet", "Greets someone", func(ctx context.Context, args *greetArgs) (interface{}, error) {
		out := ""
		for i := 0; i < args.Times; i++ {
			out += "hi " + args.Name + " "
		}
		return out, nil
	})

	decl := tool.Declaration()
	assert.Equal(t, protocol.ExecuteInClient, decl.ExecuteIn)
	assert.Equal(t, []string{"name", "times"}, decl.InputSchema.Required)

	out, err := tool.Handler(context.Background(), map[string]interface{}{"name": "ada", "times": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "hi ada hi ada ", out)

	_, err = tool.Handler(context.Background(), map[string]interface{}{"name": "ada"})
	assert.ErrorContains(t, err, "times is required")
}
