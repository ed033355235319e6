// Package mcp adapts the official MCP SDK tool types for programmatic
// hosting.
//
// The official SDK couples its Server to a transport (stdio, HTTP, SSE).
// Editors embedding hints sessions already have a control channel of their
// own, so this wrapper keeps a plain tool registry that the host invokes
// directly and renders into MCP-shaped maps.
package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolServer is a registry of MCP tools invoked programmatically.
type ToolServer struct {
	name    string
	version string

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

type registeredTool struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

// NewToolServer creates an empty tool server.
func NewToolServer(name, version string) *ToolServer {
	return &ToolServer{
		name:    name,
		version: version,
		tools:   make(map[string]*registeredTool, 8),
	}
}

// AddTool registers a tool. A later registration with the same name wins.
func (s *ToolServer) AddTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools[tool.Name] = &registeredTool{
		tool:    tool,
		handler: handler,
	}
}

// Name returns the server name.
func (s *ToolServer) Name() string {
	return s.name
}

// Version returns the server version.
func (s *ToolServer) Version() string {
	return s.version
}

// ServerInfo returns the server identity for an MCP initialize response.
func (s *ToolServer) ServerInfo() map[string]any {
	return map[string]any{
		"name":    s.name,
		"version": s.version,
	}
}

// Capabilities returns the server capabilities for an MCP initialize
// response.
func (s *ToolServer) Capabilities() map[string]any {
	return map[string]any{
		"tools": map[string]any{},
	}
}

// ListTools returns metadata for all registered tools, shaped like an MCP
// tools/list result and sorted by name.
func (s *ToolServer) ListTools() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := s.tools[name]
		toolMap := map[string]any{
			"name":        t.tool.Name,
			"description": t.tool.Description,
		}

		if t.tool.InputSchema != nil {
			if schemaMap, err := schemaToMap(t.tool.InputSchema); err == nil {
				toolMap["inputSchema"] = schemaMap
			}
		}

		result = append(result, toolMap)
	}

	return result
}

// CallTool executes a tool by name. Tool failures are encoded in the result
// rather than returned as errors, matching the MCP convention that a failed
// tool call is still a successful protocol exchange.
func (s *ToolServer) CallTool(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	s.mu.RLock()
	t, exists := s.tools[name]
	s.mu.RUnlock()

	if !exists {
		return resultToMap(ErrorResult("tool not found: " + name)), nil
	}

	inputBytes, err := json.Marshal(input)
	if err != nil {
		return resultToMap(ErrorResult("cannot encode arguments: " + err.Error())), nil
	}

	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      name,
			Arguments: inputBytes,
		},
	}

	result, err := t.handler(ctx, req)
	if err != nil {
		return resultToMap(ErrorResult("tool failed: " + err.Error())), nil
	}

	return resultToMap(result), nil
}

// resultToMap renders a CallToolResult the way it appears on the wire. Only
// text content is rendered; the hints tools produce nothing else.
func resultToMap(result *mcp.CallToolResult) map[string]any {
	if result == nil {
		return map[string]any{
			"content": []map[string]any{},
		}
	}

	content := make([]map[string]any, 0, len(result.Content))
	for _, c := range result.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			content = append(content, map[string]any{
				"type": "text",
				"text": text.Text,
			})
		}
	}

	out := map[string]any{
		"content": content,
	}
	if result.IsError {
		out["is_error"] = true
	}

	return out
}

func schemaToMap(schema any) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return m, nil
}

// NewTool builds an MCP tool definition.
func NewTool(name, description string, schema *jsonschema.Schema) *mcp.Tool {
	return &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ErrorResult creates a CallToolResult indicating a failed call.
func ErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// DecodeArguments unmarshals the request arguments into v. Absent arguments
// leave v untouched.
func DecodeArguments(req *mcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}

	return json.Unmarshal(req.Params.Arguments, v)
}

// ObjectSchema builds an object schema from a property name to primitive
// type map, with every property required.
//
// Recognized types: "string", "int", "number", "bool", "object". Anything
// else falls back to string.
func ObjectSchema(props map[string]string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, typ := range props {
		properties[name] = primitiveSchema(typ)
		required = append(required, name)
	}
	sort.Strings(required)

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func primitiveSchema(typ string) *jsonschema.Schema {
	switch typ {
	case "int", "integer":
		return &jsonschema.Schema{Type: "integer"}
	case "number", "float":
		return &jsonschema.Schema{Type: "number"}
	case "bool", "boolean":
		return &jsonschema.Schema{Type: "boolean"}
	case "object":
		return &jsonschema.Schema{Type: "object"}
	default:
		return &jsonschema.Schema{Type: "string"}
	}
}
