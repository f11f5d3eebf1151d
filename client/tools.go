package client

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/util/schema"
)

// ToolHandler runs a client-side tool. The returned value is encoded as JSON
// into the tool_result envelope.
type ToolHandler func(ctx context.Context, input map[string]interface{}) (interface{}, error)

// Tool describes a tool the remote agent may use. Tools with a Handler run in
// this process; tools without one run in the sandbox.
type Tool struct {
	Name        string
	Description string
	InputSchema protocol.ToolInputSchema
	// ExecuteIn overrides where the tool runs. When empty it is derived from
	// Handler.
	ExecuteIn protocol.ExecuteIn
	Handler   ToolHandler
}

// NewTool creates a client-side tool.
func NewTool(name, description string, inputSchema protocol.ToolInputSchema, handler ToolHandler) Tool {
	return Tool{Name: name, Description: description, InputSchema: inputSchema, Handler: handler}
}

// SandboxTool declares a tool that the sandbox implements.
func SandboxTool(name, description string, inputSchema protocol.ToolInputSchema) Tool {
	return Tool{Name: name, Description: description, InputSchema: inputSchema, ExecuteIn: protocol.ExecuteInSandbox}
}

// TypedTool creates a client-side tool whose input schema is derived from T
// and whose input is decoded into a T before fn runs.
func TypedTool[T any](name, description string, fn func(ctx context.Context, args *T) (interface{}, error)) Tool {
	var zero T
	return NewTool(name, description, schema.FromStruct(zero), func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		args, err := schema.Decode[T](input)
		if err != nil {
			return nil, err
		}
		return fn(ctx, args)
	})
}

// executeIn reports where t runs.
func (t Tool) executeIn() protocol.ExecuteIn {
	if t.ExecuteIn != "" {
		return t.ExecuteIn
	}
	if t.Handler != nil {
		return protocol.ExecuteInClient
	}
	return protocol.ExecuteInSandbox
}

// Declaration returns the wire form of t.
func (t Tool) Declaration() protocol.ToolDeclaration {
	s := t.InputSchema
	if s.Type == "" {
		s.Type = "object"
	}
	return protocol.ToolDeclaration{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: s,
		ExecuteIn:   t.executeIn(),
	}
}

// McpServer groups tools under an in-process MCP server. The service addresses
// its tools as mcp__<server>__<tool>.
type McpServer struct {
	Name    string
	Version string
	Tools   []Tool
}

// NewMcpServer creates an McpServer.
func NewMcpServer(name, version string, tools ...Tool) *McpServer {
	return &McpServer{Name: name, Version: version, Tools: tools}
}

// AddTool appends a tool and returns s for chaining.
func (s *McpServer) AddTool(t Tool) *McpServer {
	s.Tools = append(s.Tools, t)
	return s
}

// QualifiedName returns the name the service uses for one of s's tools.
func (s *McpServer) QualifiedName(tool string) string {
	return fmt.Sprintf("mcp__%s__%s", s.Name, tool)
}

// Declaration returns the wire form of s.
func (s *McpServer) Declaration() protocol.McpServerDeclaration {
	decl := protocol.McpServerDeclaration{
		Name:    s.Name,
		Version: s.Version,
		Type:    "sdk",
		Tools:   make([]protocol.ToolDeclaration, 0, len(s.Tools)),
	}
	for _, t := range s.Tools {
		decl.Tools = append(decl.Tools, t.Declaration())
	}
	return decl
}

// buildToolTable indexes every client-side handler by the name tool_call
// envelopes use. The table is never modified afterwards.
func buildToolTable(tools []Tool, servers []*McpServer) (map[string]ToolHandler, error) {
	table := make(map[string]ToolHandler)
	add := func(name string, t Tool) error {
		if t.Name == "" {
			return fmt.Errorf("tool with empty name")
		}
		if t.Handler == nil || t.executeIn() != protocol.ExecuteInClient {
			return nil
		}
		if _, dup := table[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		table[name] = t.Handler
		return nil
	}
	for _, t := range tools {
		if err := add(t.Name, t); err != nil {
			return nil, err
		}
	}
	for _, s := range servers {
		if s == nil {
			continue
		}
		for _, t := range s.Tools {
			if err := add(s.QualifiedName(t.Name), t); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

// ToolPanicError reports a handler that panicked.
type ToolPanicError struct {
	Tool  string
	Value interface{}
	Stack []byte
}

func (e *ToolPanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

// invokeTool runs h, converting a panic into a *ToolPanicError.
func invokeTool(ctx context.Context, name string, h ToolHandler, input map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ToolPanicError{Tool: name, Value: r, Stack: debug.Stack()}
		}
	}()
	if input == nil {
		input = map[string]interface{}{}
	}
	return h(ctx, input)
}
