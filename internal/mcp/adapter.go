package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cast"

	"toolcal/internal/tool"
)

const maxToolName = 64

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Adapter bridges one tool of a connected MCP server into the registry
type Adapter struct {
	client  *Client
	mcpTool *mcp.Tool
	name    string // e.g. "weather_forecast"
}

func NewAdapter(client *Client, mcpTool *mcp.Tool) *Adapter {
	return &Adapter{
		client:  client,
		mcpTool: mcpTool,
		name:    namespacedName(client.Name(), mcpTool.Name),
	}
}

// namespacedName prefixes the tool with its server and forces it into the
// model's tool name alphabet.
func namespacedName(server, name string) string {
	n := invalidNameChars.ReplaceAllString(server+"_"+name, "_")
	if len(n) > maxToolName {
		n = n[:maxToolName]
	}
	return n
}

func (a *Adapter) Name() string {
	return a.name
}

// Spec describes the bridged tool. Params are derived from the upstream
// schema for validation; the schema itself is advertised unchanged.
func (a *Adapter) Spec() tool.Spec {
	desc := a.mcpTool.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool from %s server", a.client.Name())
	}

	schema := inputSchema(a.mcpTool.InputSchema)
	return tool.Spec{
		Name:        a.name,
		Description: fmt.Sprintf("%s\n\n[MCP Server: %s]", desc, a.client.Name()),
		Params:      paramsFromSchema(schema),
		InputSchema: schema,
	}
}

// Execute calls the upstream tool. Error results become execution errors.
func (a *Adapter) Execute(ctx context.Context, args tool.Args) (any, error) {
	result, err := a.client.CallTool(ctx, a.mcpTool.Name, map[string]any(args))
	if err != nil {
		return nil, fmt.Errorf("MCP tool execution failed: %w", err)
	}

	if result.IsError {
		return nil, errors.New(formatMCPError(result))
	}

	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}

	text := formatMCPContent(result.Content)
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	return text, nil
}

// inputSchema converts the SDK's untyped schema into a JSON object schema
func inputSchema(raw any) map[string]any {
	empty := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}

	if raw == nil {
		return empty
	}
	if schema, ok := raw.(map[string]any); ok {
		return schema
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return empty
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil || schema == nil {
		return empty
	}
	return schema
}

// paramsFromSchema maps the top-level properties the registry can check.
// Properties without a recognised type are left to the upstream server.
func paramsFromSchema(schema map[string]any) []tool.ParamSpec {
	props, _ := schema["properties"].(map[string]any)

	required := map[string]bool{}
	for _, name := range cast.ToStringSlice(schema["required"]) {
		required[name] = true
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.ParamSpec, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		kind, enum, ok := kindOf(prop)
		if !ok {
			continue
		}
		params = append(params, tool.ParamSpec{
			Name:        name,
			Kind:        kind,
			Required:    required[name],
			Description: cast.ToString(prop["description"]),
			Enum:        enum,
		})
	}
	return params
}

func kindOf(prop map[string]any) (tool.Kind, []string, bool) {
	if values, ok := prop["enum"].([]any); ok && len(values) > 0 {
		enum := make([]string, 0, len(values))
		for _, v := range values {
			s, isString := v.(string)
			if !isString {
				return "", nil, false
			}
			enum = append(enum, s)
		}
		return tool.KindEnum, enum, true
	}

	switch cast.ToString(prop["type"]) {
	case "string":
		return tool.KindString, nil, true
	case "number", "integer":
		return tool.KindNumber, nil, true
	case "boolean":
		return tool.KindBoolean, nil, true
	case "object", "array":
		return tool.KindObject, nil, true
	}
	return "", nil, false
}

// formatMCPContent converts MCP content array to string
func formatMCPContent(content []mcp.Content) string {
	var parts []string

	for _, item := range content {
		switch c := item.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)

		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s]", c.MIMEType))

		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[Audio: %s]", c.MIMEType))

		default:
			data, err := json.Marshal(item)
			if err != nil {
				parts = append(parts, fmt.Sprintf("[Unknown content type: %T]", item))
			} else {
				parts = append(parts, string(data))
			}
		}
	}

	return strings.Join(parts, "\n")
}

// formatMCPError extracts error message from MCP result
func formatMCPError(result *mcp.CallToolResult) string {
	if len(result.Content) > 0 {
		return formatMCPContent(result.Content)
	}
	return "MCP tool returned an error"
}
