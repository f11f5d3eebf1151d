package client

import (
	"strings"
	"time"

	"github.com/localrivet/sandboxsdk/protocol"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateProcessing   State = "processing"
	StateWaitingTool  State = "waiting_tool"
	StateCompleted    State = "completed"
	StateFailed       State = "error"
)

// live reports whether s accepts traffic for an established session.
func (s State) live() bool {
	return s == StateReady || s == StateProcessing || s == StateWaitingTool
}

// SessionConfig is sent to the service in the init envelope.
type SessionConfig struct {
	Model           string
	SystemPrompt    string
	Cwd             string
	MaxTurns        int
	PermissionMode  string
	AllowedTools    []string
	DisallowedTools []string
	Tools           []Tool
	McpServers      []*McpServer
	// Resume asks the service to continue an existing session.
	Resume   string
	Metadata map[string]string
}

func (c SessionConfig) initPayload(resume string) protocol.InitPayload {
	p := protocol.InitPayload{
		Model:           c.Model,
		SystemPrompt:    c.SystemPrompt,
		Cwd:             c.Cwd,
		MaxTurns:        c.MaxTurns,
		PermissionMode:  c.PermissionMode,
		AllowedTools:    c.AllowedTools,
		DisallowedTools: c.DisallowedTools,
		Resume:          resume,
		Metadata:        c.Metadata,
		Tools:           make([]protocol.ToolDeclaration, 0, len(c.Tools)),
		McpServers:      make([]protocol.McpServerDeclaration, 0, len(c.McpServers)),
	}
	for _, t := range c.Tools {
		p.Tools = append(p.Tools, t.Declaration())
	}
	for _, s := range c.McpServers {
		if s != nil {
			p.McpServers = append(p.McpServers, s.Declaration())
		}
	}
	return p
}

// ToolCallRecord describes one tool_call handled in this process.
type ToolCallRecord struct {
	CallID   string
	ToolName string
	Input    map[string]interface{}
	Result   interface{}
	Err      error
	Duration time.Duration
}

// Result is the outcome of a completed turn.
type Result struct {
	protocol.ResultPayload
	// Messages holds the assistant messages of the turn in arrival order.
	Messages []protocol.AssistantPayload
	// ToolCalls holds the tool calls this process answered during the turn.
	ToolCalls []ToolCallRecord
}

// Text returns the final result text, falling back to the concatenated text
// blocks of the assistant messages.
func (r *Result) Text() string {
	if r.Result != "" {
		return r.Result
	}
	var b strings.Builder
	for _, m := range r.Messages {
		for _, block := range m.Message.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
	}
	return b.String()
}
