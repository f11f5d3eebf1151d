package client

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/protocol"
)

// EventType identifies a StreamEvent.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventThinkingDelta EventType = "thinking_delta"
	EventToolUse       EventType = "tool_use"
	EventToolResult    EventType = "tool_result"
	EventMessage       EventType = "message"
	EventSystem        EventType = "system"
	EventError         EventType = "error"
	EventResult        EventType = "result"
)

// StreamEvent is one step of a streamed turn.
type StreamEvent struct {
	Type EventType
	// Text holds the delta for EventTextDelta and EventThinkingDelta.
	Text string
	// ToolUse is the tool_use block the model started, for EventToolUse.
	ToolUse *protocol.ContentBlock
	// ToolCall describes a tool call answered locally, for EventToolResult.
	ToolCall *ToolCallRecord
	// Message is set for EventMessage.
	Message *protocol.AssistantPayload
	// System is set for EventSystem.
	System *protocol.SystemPayload
	// Error is set for EventError.
	Error *protocol.ErrorPayload
	// Result is set for EventResult, the last event of a turn.
	Result *protocol.ResultPayload
	// Envelope is the envelope the event was derived from.
	Envelope *protocol.Envelope
}

// Stream sends prompt and yields the turn's events as they arrive. Iteration
// ends after EventResult, or after a non-nil error. Breaking out early
// abandons the turn and asks the service to interrupt it.
//
//	for ev, err := range session.Stream(ctx, "hello") {
//		if err != nil {
//			return err
//		}
//		if ev.Type == client.EventTextDelta {
//			fmt.Print(ev.Text)
//		}
//	}
func (s *Session) Stream(ctx context.Context, prompt string) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		gen, err := s.startTurn(ctx, prompt, "stream")
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}

		tr := translator{logger: s.logger}
		for {
			env, rec, err := s.nextTurnEnvelope(ctx, gen)
			if err != nil {
				if ctx.Err() != nil {
					s.abandonTurn()
				}
				yield(StreamEvent{}, err)
				return
			}

			if env.Type == protocol.TypeError {
				s.endTurn()
				p := protocol.AsError(env)
				yield(StreamEvent{Type: EventError, Error: p, Envelope: env}, NewServerError("stream", p))
				return
			}
			if rec != nil {
				if !yield(StreamEvent{Type: EventToolResult, ToolCall: rec, Envelope: env}, nil) {
					s.abandonTurn()
					return
				}
				continue
			}

			events, done := tr.translate(env)
			if done {
				s.endTurn()
			}
			for _, ev := range events {
				if !yield(ev, nil) {
					if !done {
						s.abandonTurn()
					}
					return
				}
			}
			if done {
				return
			}
		}
	}
}

// translator turns envelopes into stream events. When the service relays
// partial stream events, tool_use starts come from them; otherwise they are
// taken from complete assistant messages.
type translator struct {
	logger  logx.Logger
	partial bool
}

func (tr *translator) translate(env *protocol.Envelope) (events []StreamEvent, done bool) {
	switch env.Type {
	case protocol.TypeStreamEvent:
		tr.partial = true
		var p protocol.StreamEventPayload
		if err := env.Decode(&p); err != nil {
			tr.logger.Debug("Skipping unreadable stream_event: %v", err)
			return nil, false
		}
		var ev protocol.StreamEvent
		if err := json.Unmarshal(p.Event, &ev); err != nil {
			tr.logger.Debug("Skipping unreadable stream_event body: %v", err)
			return nil, false
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta == nil {
				break
			}
			switch ev.Delta.Type {
			case "text_delta":
				events = append(events, StreamEvent{Type: EventTextDelta, Text: ev.Delta.Text, Envelope: env})
			case "thinking_delta":
				events = append(events, StreamEvent{Type: EventThinkingDelta, Text: ev.Delta.Thinking, Envelope: env})
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				events = append(events, StreamEvent{Type: EventToolUse, ToolUse: ev.ContentBlock, Envelope: env})
			}
		}

	case protocol.TypeAssistant:
		var p protocol.AssistantPayload
		if err := env.Decode(&p); err != nil {
			tr.logger.Warn("Skipping unreadable assistant message: %v", err)
			return nil, false
		}
		events = append(events, StreamEvent{Type: EventMessage, Message: &p, Envelope: env})
		if !tr.partial {
			for i := range p.Message.Content {
				if block := &p.Message.Content[i]; block.Type == "tool_use" {
					events = append(events, StreamEvent{Type: EventToolUse, ToolUse: block, Envelope: env})
				}
			}
		}

	case protocol.TypeSystem:
		var p protocol.SystemPayload
		if err := env.Decode(&p); err != nil {
			tr.logger.Debug("Skipping unreadable system message: %v", err)
			return nil, false
		}
		events = append(events, StreamEvent{Type: EventSystem, System: &p, Envelope: env})

	case protocol.TypeResult:
		var p protocol.ResultPayload
		if err := env.Decode(&p); err != nil {
			tr.logger.Warn("Result envelope unreadable: %v", err)
		}
		events = append(events, StreamEvent{Type: EventResult, Result: &p, Envelope: env})
		return events, true
	}
	return events, false
}
