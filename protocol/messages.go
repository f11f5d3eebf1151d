package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope is returned by Parse when a frame is not a usable envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one wire message. Payload is kept raw so that model-side shapes are
// relayed without being re-encoded; use Decode to obtain a typed view.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload: %w", e.Type, ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Marshal encodes the envelope for transmission.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse decodes a single frame. Frames that are not JSON objects or lack a type
// are reported as ErrMalformedEnvelope. Unknown types are accepted unchanged.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return &env, nil
}

// New builds an envelope from a typed payload. A nil payload produces an
// envelope without a payload field.
func New(t MessageType, payload interface{}) (*Envelope, error) {
	env := &Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// mustNew is used by constructors whose payloads are plain data and cannot fail
// to encode.
func mustNew(t MessageType, payload interface{}) *Envelope {
	env, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// --- Payloads ---

// InitPayload is the session configuration sent once per connection.
type InitPayload struct {
	Model           string                 `json:"model,omitempty"`
	SystemPrompt    string                 `json:"systemPrompt,omitempty"`
	Cwd             string                 `json:"cwd,omitempty"`
	MaxTurns        int                    `json:"maxTurns,omitempty"`
	PermissionMode  string                 `json:"permissionMode,omitempty"`
	AllowedTools    []string               `json:"allowedTools,omitempty"`
	DisallowedTools []string               `json:"disallowedTools,omitempty"`
	Tools           []ToolDeclaration      `json:"tools"`
	McpServers      []McpServerDeclaration `json:"mcpServers"`
	Resume          string                 `json:"resume,omitempty"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
}

// ContentBlock is one element of a message's content array.
type ContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   json.RawMessage        `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// UserMessage is the model-facing body of a user turn.
type UserMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserPayload carries one user turn.
type UserPayload struct {
	UUID            string      `json:"uuid"`
	SessionID       string      `json:"sessionId,omitempty"`
	ParentToolUseID string      `json:"parentToolUseId,omitempty"`
	Message         UserMessage `json:"message"`
}

// AssistantMessage is the model output relayed in an assistant envelope.
type AssistantMessage struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// AssistantPayload is the typed view of an assistant envelope.
type AssistantPayload struct {
	SessionID       string           `json:"sessionId,omitempty"`
	ParentToolUseID string           `json:"parentToolUseId,omitempty"`
	Message         AssistantMessage `json:"message"`
}

// Usage reports token accounting for a turn.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// ResultPayload terminates a turn.
type ResultPayload struct {
	Subtype      string  `json:"subtype"`
	IsError      bool    `json:"isError"`
	Result       string  `json:"result,omitempty"`
	SessionID    string  `json:"sessionId,omitempty"`
	DurationMS   int64   `json:"durationMs,omitempty"`
	NumTurns     int     `json:"numTurns,omitempty"`
	TotalCostUSD float64 `json:"totalCostUsd,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
}

// SystemPayload is the typed view of a system envelope.
type SystemPayload struct {
	Subtype   string   `json:"subtype"`
	SessionID string   `json:"sessionId,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// StreamEventPayload wraps one raw upstream streaming event.
type StreamEventPayload struct {
	SessionID string          `json:"sessionId,omitempty"`
	Event     json.RawMessage `json:"event"`
}

// StreamEvent is the subset of an upstream streaming event the SDK translates.
type StreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	Delta        *StreamDelta  `json:"delta,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
}

// StreamDelta is the delta of a content_block_delta event.
type StreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// ControlPayload carries a control action.
type ControlPayload struct {
	Action    ControlAction          `json:"action"`
	SessionID string                 `json:"sessionId,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ToolCallPayload is a service request to run a client-side tool.
type ToolCallPayload struct {
	CallID   string                 `json:"callId"`
	ToolName string                 `json:"toolName"`
	Input    map[string]interface{} `json:"input"`
}

// ToolResultPayload answers a ToolCallPayload with the same CallID.
type ToolResultPayload struct {
	CallID  string      `json:"callId"`
	Result  interface{} `json:"result"`
	IsError bool        `json:"isError"`
}

// ToolFailure is the result body sent when a local handler fails.
type ToolFailure struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// PingPayload is shared by ping and pong envelopes.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// --- Constructors ---

// NewInit builds the init envelope.
func NewInit(p InitPayload) *Envelope {
	if p.Tools == nil {
		p.Tools = []ToolDeclaration{}
	}
	if p.McpServers == nil {
		p.McpServers = []McpServerDeclaration{}
	}
	return mustNew(TypeInit, p)
}

// NewUserMessage builds a text user turn with a fresh uuid.
func NewUserMessage(text, sessionID string) *Envelope {
	return mustNew(TypeUser, UserPayload{
		UUID:      uuid.NewString(),
		SessionID: sessionID,
		Message: UserMessage{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: text}},
		},
	})
}

// NewControl builds a control envelope.
func NewControl(action ControlAction, sessionID string, data map[string]interface{}) *Envelope {
	return mustNew(TypeControl, ControlPayload{Action: action, SessionID: sessionID, Data: data})
}

// NewPing builds a keepalive ping stamped with now.
func NewPing(now time.Time) *Envelope {
	return mustNew(TypePing, PingPayload{Timestamp: now.UnixMilli()})
}

// NewPong answers a ping. Only test servers send these.
func NewPong(now time.Time) *Envelope {
	return mustNew(TypePong, PingPayload{Timestamp: now.UnixMilli()})
}

// NewToolResult builds a successful tool_result.
func NewToolResult(callID string, result interface{}) (*Envelope, error) {
	return New(TypeToolResult, ToolResultPayload{CallID: callID, Result: result})
}

// NewToolError builds an error-flagged tool_result.
func NewToolError(callID, message, code string) *Envelope {
	return mustNew(TypeToolResult, ToolResultPayload{
		CallID:  callID,
		Result:  ToolFailure{Error: message, Code: code},
		IsError: true,
	})
}

// NewToolCall builds a tool_call. Only test servers send these.
func NewToolCall(callID, toolName string, input map[string]interface{}) *Envelope {
	return mustNew(TypeToolCall, ToolCallPayload{CallID: callID, ToolName: toolName, Input: input})
}

// NewError builds an error envelope.
func NewError(message, code string, details interface{}) *Envelope {
	return mustNew(TypeError, ErrorPayload{Message: message, Code: code, Details: details})
}

// NewResult builds a result envelope.
func NewResult(p ResultPayload) *Envelope {
	return mustNew(TypeResult, p)
}
