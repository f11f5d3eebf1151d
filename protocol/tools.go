package protocol

// ToolInputSchema is the JSON Schema subset used to describe tool input.
type ToolInputSchema struct {
	Type       string                    `json:"type"` // Typically "object"
	Properties map[string]PropertyDetail `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertyDetail describes a single parameter within a ToolInputSchema.
type PropertyDetail struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
	Format      string        `json:"format,omitempty"`
}

// ToolDeclaration is the wire form of a tool. Handlers never cross the wire;
// ExecuteIn says who runs the tool.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
	ExecuteIn   ExecuteIn       `json:"executeIn"`
}

// McpServerDeclaration is the wire form of an in-process MCP server.
type McpServerDeclaration struct {
	Name    string            `json:"name"`
	Version string            `json:"version,omitempty"`
	Type    string            `json:"type"` // "sdk"
	Tools   []ToolDeclaration `json:"tools"`
}
