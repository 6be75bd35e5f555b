package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// ToolHandler executes the tool surface behind the protocol layer.
type ToolHandler interface {
	List(ctx context.Context, req *ListToolsRequest) (*ListToolsResult, error)
	Call(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)
}

// Handler speaks JSON-RPC 2.0 over HTTP POST and routes MCP methods to the
// configured ToolHandler. It is safe for concurrent use; initialization
// state is a simple flag since re-initializing is harmless.
type Handler struct {
	logger      *logger.Logger
	toolHandler ToolHandler
	serverInfo  ImplementationInfo
	initialized atomic.Bool
}

func NewHandler(log *logger.Logger, serverName, serverVersion string) *Handler {
	return &Handler{
		logger: log,
		serverInfo: ImplementationInfo{
			Name:    serverName,
			Version: serverVersion,
		},
	}
}

// SetToolHandler wires the tool executor. Must be called before serving.
func (h *Handler) SetToolHandler(handler ToolHandler) {
	h.toolHandler = handler
}

// ServeHTTP implements http.Handler for the MCP endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, nil, ParseError, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, nil, ParseError, "Invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		h.writeError(w, req.ID, InvalidRequest, "Invalid JSON-RPC version")
		return
	}

	result, err := h.handleMethod(r.Context(), req.Method, req.Params)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			h.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		} else {
			h.logger.Errorf("Method %s failed: %v", req.Method, err)
			h.writeError(w, req.ID, InternalError, "Internal error")
		}
		return
	}

	// Notifications get no response body.
	if req.ID == nil && isNotification(req.Method) {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	h.writeResult(w, req.ID, result)
}

func (h *Handler) handleMethod(ctx context.Context, method string, params interface{}) (interface{}, error) {
	switch method {
	case "initialize":
		return h.handleInitialize(params)
	case "notifications/initialized", "initialized":
		// Usually a notification, but some clients send it with an id; a
		// response must then carry a result member, so return an empty one.
		return map[string]interface{}{}, nil
	case "ping":
		return map[string]interface{}{}, nil
	case "tools/list":
		if !h.initialized.Load() {
			return nil, &RPCError{Code: InvalidRequest, Message: "Not initialized"}
		}
		return h.handleToolsList(ctx, params)
	case "tools/call":
		if !h.initialized.Load() {
			return nil, &RPCError{Code: InvalidRequest, Message: "Not initialized"}
		}
		return h.handleToolsCall(ctx, params)
	default:
		return nil, &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
	}
}

func (h *Handler) handleInitialize(params interface{}) (interface{}, error) {
	var req InitializeRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid initialize params"}
	}

	h.logger.Infof("MCP client connecting: %s v%s", req.ClientInfo.Name, req.ClientInfo.Version)
	h.initialized.Store(true)

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: false},
		},
		ServerInfo: h.serverInfo,
	}, nil
}

func (h *Handler) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	if h.toolHandler == nil {
		return nil, &RPCError{Code: InternalError, Message: "Tool handler not configured"}
	}

	var req ListToolsRequest
	if params != nil {
		if err := unmarshalParams(params, &req); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
		}
	}

	return h.toolHandler.List(ctx, &req)
}

func (h *Handler) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	if h.toolHandler == nil {
		return nil, &RPCError{Code: InternalError, Message: "Tool handler not configured"}
	}

	var req CallToolRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
	}
	if req.Name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "Tool name is required"}
	}

	return h.toolHandler.Call(ctx, &req)
}

func isNotification(method string) bool {
	return method == "notifications/initialized" || method == "initialized"
}

// unmarshalParams re-marshals the decoded params map into the typed request.
func unmarshalParams(params interface{}, target interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (h *Handler) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
