// Package protocol defines the envelopes exchanged between the SDK and a remote
// sandboxed-agent service.
package protocol

// MessageType is the discriminant carried in the "type" field of every envelope.
type MessageType string

// --- Envelope Types ---
const (
	// Outbound (client -> service)
	TypeInit       MessageType = "init"
	TypeUser       MessageType = "user"
	TypeToolResult MessageType = "tool_result"
	TypePing       MessageType = "ping"

	// Inbound (service -> client). Model-side payloads are relayed untouched.
	TypeAssistant   MessageType = "assistant"
	TypeResult      MessageType = "result"
	TypeSystem      MessageType = "system"
	TypeStreamEvent MessageType = "stream_event"
	TypeToolCall    MessageType = "tool_call"
	TypePong        MessageType = "pong"

	// Both directions
	TypeControl MessageType = "control"
	TypeError   MessageType = "error"
)

// ControlAction is the action carried by a control envelope.
type ControlAction string

const (
	ActionReady       ControlAction = "ready"
	ActionSessionInfo ControlAction = "session_info"
	ActionEndInput    ControlAction = "end_input"
	ActionClose       ControlAction = "close"
	ActionInterrupt   ControlAction = "interrupt"
)

// ExecuteIn tells the service where a declared tool runs.
type ExecuteIn string

const (
	// ExecuteInClient marks tools whose handler lives in this process; the
	// service answers with a tool_call and waits for the tool_result.
	ExecuteInClient ExecuteIn = "client"
	// ExecuteInSandbox marks tools the service executes itself.
	ExecuteInSandbox ExecuteIn = "sandbox"
)

// System and result subtypes the SDK inspects.
const (
	SystemSubtypeInit    = "init"
	ResultSubtypeSuccess = "success"
)

// Error codes used by the SDK when it originates an error payload.
const (
	CodeToolExecutionFailed = "tool_execution_failed"
	CodeToolPanicked        = "tool_panicked"
)
