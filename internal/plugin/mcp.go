package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opentalon/autopilot/internal/capability"
	"github.com/opentalon/autopilot/internal/version"
)

const mcpProtocolVersion = "2025-03-26"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by a remote provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools      []toolInfo `json:"tools"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// rpcConn carries JSON-RPC exchanges for the MCP method set.
type rpcConn interface {
	call(ctx context.Context, method string, params, out any) error
	notify(ctx context.Context, method string, params any) error
}

// mcpClient implements discovery and invocation over any rpcConn.
type mcpClient struct {
	conn rpcConn
}

func (c mcpClient) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "autopilot",
			"version": version.Version,
		},
	}
	var result json.RawMessage
	if err := c.conn.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.conn.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func (c mcpClient) Discover(ctx context.Context) ([]capability.Descriptor, error) {
	var descs []capability.Descriptor
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var page listToolsResult
		if err := c.conn.call(ctx, "tools/list", params, &page); err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		for _, t := range page.Tools {
			schema, err := schemaFromJSON(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
			descs = append(descs, capability.Descriptor{
				Name:        t.Name,
				Description: t.Description,
				Schema:      schema,
			})
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return descs, nil
		}
		cursor = page.NextCursor
	}
}

func (c mcpClient) Call(ctx context.Context, name string, args map[string]any) (capability.Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	var res callToolResult
	if err := c.conn.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &res); err != nil {
		return capability.Result{}, err
	}

	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s content omitted]", block.Type))
	}
	return capability.Result{Content: strings.Join(parts, "\n"), IsError: res.IsError}, nil
}

// schemaFromJSON converts a JSON Schema object definition into a flat
// argument schema. Nested property schemas are kept only as their
// top-level type.
func schemaFromJSON(raw json.RawMessage) (capability.Schema, error) {
	schema := capability.Schema{}
	if len(raw) == 0 || string(raw) == "null" {
		return schema, nil
	}

	var js struct {
		Properties map[string]struct {
			Type        json.RawMessage `json:"type"`
			Description string          `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}

	for name, prop := range js.Properties {
		schema[name] = capability.Param{
			Type:        jsonSchemaType(prop.Type),
			Description: prop.Description,
		}
	}
	for _, name := range js.Required {
		p := schema[name]
		p.Required = true
		schema[name] = p
	}
	return schema, nil
}

// jsonSchemaType accepts "string" or ["string", "null"] forms.
func jsonSchemaType(raw json.RawMessage) capability.ParamType {
	if len(raw) == 0 {
		return capability.TypeAny
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return knownType(single)
	}
	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		for _, t := range multi {
			if t != "null" {
				return knownType(t)
			}
		}
	}
	return capability.TypeAny
}

func knownType(s string) capability.ParamType {
	switch t := capability.ParamType(s); t {
	case capability.TypeString, capability.TypeNumber, capability.TypeInteger,
		capability.TypeBoolean, capability.TypeObject, capability.TypeArray:
		return t
	}
	return capability.TypeAny
}
