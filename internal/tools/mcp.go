package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vizulabs-com/vizpilot-mcp/internal/protocol"
)

// apiKeySchema is shared by every tool; each tool call authenticates
// independently, there is no session credential.
var apiKeySchema = map[string]interface{}{
	"type":        "string",
	"description": "Your VizPilot API key",
}

var toolCatalog = []protocol.Tool{
	{
		Name:        "list_technologies",
		Description: "List all available technologies with your access level for each",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"api_key": apiKeySchema},
			"required":   []string{"api_key"},
		},
	},
	{
		Name:        "list_protocols",
		Description: "List the protocols of a technology that your plan can access",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"api_key": apiKeySchema,
				"technology_slug": map[string]interface{}{
					"type":        "string",
					"description": "Technology slug, e.g. 'django' or 'react'",
				},
			},
			"required": []string{"api_key", "technology_slug"},
		},
	},
	{
		Name:        "get_protocol",
		Description: "Fetch a full protocol document by id, or by technology and protocol slugs",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"api_key": apiKeySchema,
				"protocol_id": map[string]interface{}{
					"type":        "string",
					"description": "Protocol id",
				},
				"technology_slug": map[string]interface{}{
					"type":        "string",
					"description": "Technology slug, used together with protocol_slug",
				},
				"protocol_slug": map[string]interface{}{
					"type":        "string",
					"description": "Protocol slug within the technology",
				},
			},
			"required": []string{"api_key"},
		},
	},
	{
		Name:        "get_steering_rules",
		Description: "Fetch the steering rules for a technology",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"api_key": apiKeySchema,
				"technology_slug": map[string]interface{}{
					"type":        "string",
					"description": "Technology slug",
				},
			},
			"required": []string{"api_key", "technology_slug"},
		},
	},
	{
		Name:        "search_protocols",
		Description: "Search protocols by keyword, optionally within one technology",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"api_key": apiKeySchema,
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search terms",
				},
				"technology_slug": map[string]interface{}{
					"type":        "string",
					"description": "Restrict the search to one technology",
				},
			},
			"required": []string{"api_key", "query"},
		},
	},
	{
		Name:        "get_user_info",
		Description: "Show your subscription, usage and rate-limit status",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"api_key": apiKeySchema},
			"required":   []string{"api_key"},
		},
	},
}

// List implements protocol.ToolHandler.
func (h *Handler) List(ctx context.Context, req *protocol.ListToolsRequest) (*protocol.ListToolsResult, error) {
	return &protocol.ListToolsResult{Tools: toolCatalog}, nil
}

// Call implements protocol.ToolHandler. Pipeline rejections come back as a
// successful call whose JSON payload has success=false; only transport-level
// problems (unknown tool) surface as RPC errors.
func (h *Handler) Call(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	ctx, cancel := h.boundedContext(ctx)
	defer cancel()

	apiKey := stringArg(req.Arguments, "api_key")

	var (
		result interface{}
		err    error
	)
	switch req.Name {
	case "list_technologies":
		result, err = h.ListTechnologies(ctx, apiKey)
	case "list_protocols":
		result, err = h.ListProtocols(ctx, apiKey, stringArg(req.Arguments, "technology_slug"))
	case "get_protocol":
		result, err = h.GetProtocol(ctx, apiKey,
			stringArg(req.Arguments, "protocol_id"),
			stringArg(req.Arguments, "technology_slug"),
			stringArg(req.Arguments, "protocol_slug"))
	case "get_steering_rules":
		result, err = h.GetSteeringRules(ctx, apiKey, stringArg(req.Arguments, "technology_slug"))
	case "search_protocols":
		result, err = h.SearchProtocols(ctx, apiKey,
			stringArg(req.Arguments, "query"),
			stringArg(req.Arguments, "technology_slug"))
	case "get_user_info":
		result, err = h.GetUserInfo(ctx, apiKey)
	default:
		return nil, &protocol.RPCError{
			Code:    protocol.InvalidParams,
			Message: fmt.Sprintf("Unknown tool: %s", req.Name),
		}
	}

	if err != nil {
		message, expected := callerMessage(err)
		if !expected {
			h.logger.Errorf("Tool %s failed: %v", req.Name, err)
		}
		return toolResult(Failure{Success: false, Error: message})
	}

	return toolResult(result)
}

func toolResult(payload interface{}) (*protocol.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &protocol.RPCError{Code: protocol.InternalError, Message: "Failed to encode tool result"}
	}
	return &protocol.CallToolResult{
		Content: []protocol.ToolContent{{Type: "text", Text: string(data)}},
	}, nil
}

func stringArg(args map[string]interface{}, name string) string {
	v, ok := args[name].(string)
	if !ok {
		return ""
	}
	return v
}
