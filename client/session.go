package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/transport"
)

const (
	// DefaultInitTimeout bounds the wait for the readiness acknowledgement.
	DefaultInitTimeout = 30 * time.Second

	controlTimeout = 2 * time.Second
)

// Session is one conversation with a remote agent over a Transport.
//
// Inbound envelopes are queued in arrival order and handed to whichever
// operation asks next. Tool calls for tools registered with a handler are
// answered inside the turn that receives them, before any later envelope is
// returned to the caller. Only one turn runs at a time.
type Session struct {
	transport   transport.Transport
	config      SessionConfig
	tools       map[string]ToolHandler
	logger      logx.Logger
	initTimeout time.Duration
	onError     func(error)
	onStatus    func(transport.Status)
	onMessage   func(*protocol.Envelope)

	inbox *inbox

	// initMu serializes initialization, including re-initialization after
	// a reconnect.
	initMu sync.Mutex

	// sendMu is held shared by sends that belong to an established session
	// and exclusively while a reconnect discards the transport's queue.
	sendMu sync.RWMutex

	mu         sync.Mutex
	state      State
	sessionID  string
	err        error // why the session entered StateFailed
	closing    bool
	reinit     bool // re-send init once the transport reconnects
	reiniting  bool
	staleTurns int // abandoned turns whose remaining envelopes are discarded
}

// NewSession creates a session on t. It registers its handlers on t but does
// not connect; call Connect, or let the first Query connect lazily.
func NewSession(t transport.Transport, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if t == nil {
		return nil, errors.New("session requires a transport")
	}
	tools, err := buildToolTable(cfg.Tools, cfg.McpServers)
	if err != nil {
		return nil, err
	}

	s := &Session{
		transport:   t,
		config:      cfg,
		tools:       tools,
		logger:      logx.NewDefaultLogger(),
		initTimeout: DefaultInitTimeout,
		inbox:       newInbox(),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}

	t.SetEventHandlers(transport.EventHandlers{
		OnMessage:      s.handleMessage,
		OnStatusChange: s.handleStatus,
		OnError: func(err error) {
			s.logger.Debug("Transport error: %v", err)
		},
	})
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the service-assigned session id, or "" before the first
// readiness acknowledgement.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Err returns the error that moved the session to StateFailed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Connect opens the transport, sends init and waits for the service to
// acknowledge it. It is a no-op on a session that is already ready.
func (s *Session) Connect(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateInitializing
	case StateReady, StateProcessing, StateWaitingTool:
		s.mu.Unlock()
		return nil
	case StateFailed:
		err := s.err
		s.mu.Unlock()
		return err
	default:
		st := s.state
		s.mu.Unlock()
		return NewStateError("connect", st)
	}
	s.mu.Unlock()

	if err := s.initialize(ctx, s.config.Resume, "connect"); err != nil {
		return s.fail(err)
	}
	return nil
}

// initialize runs the init handshake. The caller holds initMu and has moved
// the session to StateInitializing.
func (s *Session) initialize(ctx context.Context, resume, op string) error {
	if err := s.transport.Connect(ctx); err != nil {
		return NewConnectionError(s.endpoint(), "connecting to sandbox service", err)
	}
	if err := s.transport.Send(ctx, protocol.NewInit(s.config.initPayload(resume))); err != nil {
		return NewConnectionError(s.endpoint(), "sending init", err)
	}

	gen := s.inbox.generation()
	waitCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()
	for {
		env, err := s.inbox.nextIn(waitCtx, gen)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return NewTimeoutError(op, s.initTimeout, ErrInitTimeout)
			}
			return err
		}
		if protocol.IsError(env) {
			return NewServerError(op, protocol.AsError(env))
		}
		id, ok := protocol.ReadySessionID(env)
		if !ok {
			s.logger.Debug("Discarding %s envelope received before the session was ready", env.Type)
			continue
		}

		s.mu.Lock()
		if s.state != StateInitializing {
			st, serr := s.state, s.err
			s.mu.Unlock()
			if serr != nil {
				return serr
			}
			return NewStateError(op, st)
		}
		if id != "" {
			s.sessionID = id
		}
		s.state = StateReady
		id = s.sessionID
		s.mu.Unlock()

		s.logger.Info("Session ready (id=%s)", id)
		return nil
	}
}

// fail moves the session to StateFailed, tears the transport down and returns
// the error recorded for the session. The first recorded error wins.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	switch s.state {
	case StateCompleted:
		s.mu.Unlock()
		return err
	case StateFailed:
		err = s.err
	default:
		s.state = StateFailed
		s.err = err
	}
	s.mu.Unlock()

	s.logger.Error("Session failed: %v", err)
	s.inbox.close(err)
	_ = s.transport.Disconnect()
	return err
}

func (s *Session) handleMessage(env *protocol.Envelope) {
	if s.onMessage != nil {
		s.onMessage(env)
	}
	s.inbox.push(env)
}

func (s *Session) handleStatus(status transport.Status) {
	if s.onStatus != nil {
		s.onStatus(status)
	}

	switch status {
	case transport.StatusReconnecting:
		s.sendMu.Lock()
		defer s.sendMu.Unlock()

		s.mu.Lock()
		switch {
		case s.closing:
			s.mu.Unlock()
			return
		case s.state.live():
			s.state = StateInitializing
			s.reinit = true
		case s.state == StateInitializing:
			// An init sent on the lost connection is never acknowledged.
			if s.reiniting {
				s.reinit = true
			}
		default:
			s.mu.Unlock()
			return
		}
		s.staleTurns = 0
		id := s.sessionID
		s.mu.Unlock()

		s.logger.Warn("Connection lost, session %s waiting for reconnect", id)
		// Queued turn traffic must not reach the new connection ahead of the
		// resume init.
		if n := s.transport.DiscardQueued(); n > 0 {
			s.logger.Debug("Dropped %d envelope(s) queued for the lost connection", n)
		}
		s.inbox.interrupt(NewDisconnectError(ErrUnexpectedDisconnect))

	case transport.StatusConnected:
		s.mu.Lock()
		start := s.reinit && s.state == StateInitializing && !s.closing
		s.reinit = false
		s.mu.Unlock()
		if start {
			go s.reinitialize()
		}

	case transport.StatusDisconnected:
		s.mu.Lock()
		if s.closing || !(s.state.live() || s.state == StateInitializing) {
			s.mu.Unlock()
			return
		}
		err := NewDisconnectError(ErrUnexpectedDisconnect)
		s.state = StateFailed
		s.err = err
		s.mu.Unlock()

		s.logger.Error("Session lost its connection: %v", err)
		s.inbox.close(err)
		s.reportError(err)
	}
}

// reinitialize resumes the session on a new connection.
func (s *Session) reinitialize() {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.state != StateInitializing || s.closing {
		s.mu.Unlock()
		return
	}
	s.reiniting = true
	id := s.sessionID
	s.mu.Unlock()

	s.logger.Info("Reconnected, resuming session %s", id)
	err := s.initialize(context.Background(), id, "resume")

	s.mu.Lock()
	s.reiniting = false
	s.mu.Unlock()

	if err == nil || errors.Is(err, ErrSessionClosed) {
		return
	}
	// The transport is reconnecting again; either the next connect resumes
	// or the transport gives up and the session fails on disconnect.
	if errors.Is(err, ErrUnexpectedDisconnect) {
		s.logger.Debug("Connection lost again while resuming")
		return
	}
	s.reportError(s.fail(err))
}

func (s *Session) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// endpoint returns the transport's endpoint when it exposes one.
func (s *Session) endpoint() string {
	if e, ok := s.transport.(interface{ Endpoint() string }); ok {
		return e.Endpoint()
	}
	return "sandbox"
}

// swapState moves the session from one state to another if it is still in
// the first.
func (s *Session) swapState(from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.state = to
	}
}

// sendLive sends env if the session is still established. Envelopes of a
// session that is resuming after a reconnect are refused with a disconnect
// error instead of being queued for the new connection.
func (s *Session) sendLive(ctx context.Context, env *protocol.Envelope) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if !s.State().live() {
		return NewDisconnectError(ErrUnexpectedDisconnect)
	}
	return s.transport.Send(ctx, env)
}

// startTurn claims the session for a turn and sends the user message.
// An idle session is connected first. The returned inbox generation ends if
// the connection drops during the turn.
func (s *Session) startTurn(ctx context.Context, prompt, op string) (uint64, error) {
	if s.State() == StateIdle {
		if err := s.Connect(ctx); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.state = StateProcessing
	case StateFailed:
		err := s.err
		s.mu.Unlock()
		return 0, err
	default:
		st := s.state
		s.mu.Unlock()
		return 0, NewStateError(op, st)
	}
	id := s.sessionID
	gen := s.inbox.generation()
	s.mu.Unlock()

	if err := s.sendLive(ctx, protocol.NewUserMessage(prompt, id)); err != nil {
		s.swapState(StateProcessing, StateReady)
		return 0, NewConnectionError(s.endpoint(), "sending user message", err)
	}
	return gen, nil
}

// endTurn returns the session to StateReady after a terminal envelope.
func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing || s.state == StateWaitingTool {
		s.state = StateReady
	}
}

// abandonTurn gives up on a turn whose caller stopped listening. The service
// is asked to interrupt, and envelopes up to the turn's result are discarded
// by later turns.
func (s *Session) abandonTurn() {
	s.mu.Lock()
	if s.state != StateProcessing && s.state != StateWaitingTool {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.staleTurns++
	id := s.sessionID
	s.mu.Unlock()

	s.logger.Debug("Turn abandoned, asking the service to interrupt")
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if err := s.sendLive(ctx, protocol.NewControl(protocol.ActionInterrupt, id, nil)); err != nil {
		s.logger.Debug("Failed to send interrupt: %v", err)
	}
}

// nextTurnEnvelope returns the next envelope of the current turn. Tool calls
// are answered before they are returned; rec is nil when no local handler is
// registered for the tool. It fails once the turn's inbox generation has
// ended, including while a tool handler was running.
func (s *Session) nextTurnEnvelope(ctx context.Context, gen uint64) (env *protocol.Envelope, rec *ToolCallRecord, err error) {
	for {
		env, err = s.inbox.nextIn(ctx, gen)
		if err != nil {
			return nil, nil, err
		}
		if protocol.IsToolCall(env) {
			return env, s.handleToolCall(ctx, env), nil
		}

		s.mu.Lock()
		stale := s.staleTurns > 0
		if stale && protocol.IsTerminal(env) {
			s.staleTurns--
		}
		s.mu.Unlock()
		if stale {
			s.logger.Debug("Discarding %s envelope from an abandoned turn", env.Type)
			continue
		}
		return env, nil, nil
	}
}

// handleToolCall runs the registered handler for a tool_call and sends
// exactly one tool_result for it.
func (s *Session) handleToolCall(ctx context.Context, env *protocol.Envelope) *ToolCallRecord {
	var call protocol.ToolCallPayload
	if err := env.Decode(&call); err != nil || call.CallID == "" {
		s.logger.Warn("Ignoring malformed tool_call: %v", err)
		return nil
	}
	handler, ok := s.tools[call.ToolName]
	if !ok {
		s.logger.Debug("No local handler for tool %s (call %s)", call.ToolName, call.CallID)
		return nil
	}

	s.swapState(StateProcessing, StateWaitingTool)
	defer s.swapState(StateWaitingTool, StateProcessing)

	rec := &ToolCallRecord{CallID: call.CallID, ToolName: call.ToolName, Input: call.Input}
	start := time.Now()
	rec.Result, rec.Err = invokeTool(ctx, call.ToolName, handler, call.Input)
	rec.Duration = time.Since(start)

	reply := s.toolReply(rec)
	// The reply is owed even if the caller has given up on the turn.
	switch err := s.sendLive(context.WithoutCancel(ctx), reply); {
	case errors.Is(err, ErrUnexpectedDisconnect):
		s.logger.Warn("Dropping tool_result for call %s: the connection was lost during the call", call.CallID)
	case err != nil:
		s.logger.Error("Failed to send tool_result for call %s: %v", call.CallID, err)
		s.reportError(err)
	}
	s.logger.Debug("Tool %s (call %s) finished in %v", call.ToolName, call.CallID, rec.Duration)
	return rec
}

func (s *Session) toolReply(rec *ToolCallRecord) *protocol.Envelope {
	if rec.Err != nil {
		code := protocol.CodeToolExecutionFailed
		var pe *ToolPanicError
		if errors.As(rec.Err, &pe) {
			code = protocol.CodeToolPanicked
			s.logger.Error("%v\n%s", pe, pe.Stack)
		}
		return protocol.NewToolError(rec.CallID, rec.Err.Error(), code)
	}
	env, err := protocol.NewToolResult(rec.CallID, rec.Result)
	if err != nil {
		rec.Err = fmt.Errorf("encoding result of tool %s: %w", rec.ToolName, err)
		return protocol.NewToolError(rec.CallID, rec.Err.Error(), protocol.CodeToolExecutionFailed)
	}
	return env
}

// Query sends prompt and waits for the turn's result. Tool calls that arrive
// during the turn are answered automatically.
func (s *Session) Query(ctx context.Context, prompt string) (*Result, error) {
	gen, err := s.startTurn(ctx, prompt, "query")
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for {
		env, rec, err := s.nextTurnEnvelope(ctx, gen)
		if err != nil {
			if ctx.Err() != nil {
				s.abandonTurn()
			}
			return nil, err
		}
		switch env.Type {
		case protocol.TypeToolCall:
			if rec != nil {
				res.ToolCalls = append(res.ToolCalls, *rec)
			}
		case protocol.TypeAssistant:
			var p protocol.AssistantPayload
			if err := env.Decode(&p); err != nil {
				s.logger.Warn("Skipping unreadable assistant message: %v", err)
				continue
			}
			res.Messages = append(res.Messages, p)
		case protocol.TypeError:
			s.endTurn()
			return nil, NewServerError("query", protocol.AsError(env))
		case protocol.TypeResult:
			s.endTurn()
			if err := env.Decode(&res.ResultPayload); err != nil {
				return nil, fmt.Errorf("decoding result: %w", err)
			}
			return res, nil
		}
	}
}

// Receive returns the next inbound envelope without interpreting it. It does
// not answer tool calls.
func (s *Session) Receive(ctx context.Context) (*protocol.Envelope, error) {
	if st := s.State(); st == StateIdle {
		return nil, NewStateError("receive", st)
	}
	return s.inbox.next(ctx)
}

// EndInput tells the service no further user messages will follow.
func (s *Session) EndInput(ctx context.Context) error {
	return s.sendControl(ctx, protocol.ActionEndInput, "end input")
}

// Interrupt asks the service to stop the current turn. The turn still ends
// with a result envelope.
func (s *Session) Interrupt(ctx context.Context) error {
	return s.sendControl(ctx, protocol.ActionInterrupt, "interrupt")
}

func (s *Session) sendControl(ctx context.Context, action protocol.ControlAction, op string) error {
	s.mu.Lock()
	st, id, serr := s.state, s.sessionID, s.err
	s.mu.Unlock()

	switch {
	case st.live():
	case st == StateFailed:
		return serr
	default:
		return NewStateError(op, st)
	}
	if err := s.sendLive(ctx, protocol.NewControl(action, id, nil)); err != nil {
		return NewConnectionError(s.endpoint(), "sending "+string(action), err)
	}
	return nil
}

// Close ends the session. Pending operations fail with ErrSessionClosed;
// envelopes already received can still be read with Receive. Close is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateCompleted || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	id := s.sessionID
	s.mu.Unlock()

	if s.transport.Status() == transport.StatusConnected {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		if err := s.transport.Send(ctx, protocol.NewControl(protocol.ActionClose, id, nil)); err != nil {
			s.logger.Debug("Failed to send close: %v", err)
		}
		cancel()
	}
	_ = s.transport.Disconnect()

	s.mu.Lock()
	s.state = StateCompleted
	s.mu.Unlock()
	s.inbox.close(ErrSessionClosed)

	s.logger.Info("Session %s closed", id)
	return nil
}
