package mcp

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
	"github.com/wrannaman/agentdo/logging"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Request is a JSON-RPC 2.0 request. A request without an id is a
// notification and gets no response body.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC protocol error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Tool is an MCP tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams are the parameters for tools/call.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one item in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Server serves the board's operations as MCP tools. It implements
// http.Handler for mounting on the board's API mux.
type Server struct {
	board   *board.Board
	keys    *auth.Keyring
	log     *logging.Logger
	pollCap time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Server) {
		s.log = log.WithComponent("mcp")
	}
}

// WithPollCap caps the timeout argument of the long-polling tools.
func WithPollCap(limit time.Duration) Option {
	return func(s *Server) {
		s.pollCap = limit
	}
}

// NewServer creates an MCP server over the given board and keyring.
func NewServer(b *board.Board, keys *auth.Keyring, opts ...Option) *Server {
	s := &Server{
		board:   b,
		keys:    keys,
		log:     logging.New().WithComponent("mcp"),
		pollCap: 25 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.write(w, Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: codeParseError, Message: "parse error"},
		})
		return
	}

	// Notifications (no id) are acknowledged without a body.
	if len(req.ID) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := Response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "agentdo",
				"version": "1.0.0",
			},
		}
	case "tools/list":
		resp.Result = ToolsListResult{Tools: toolList()}
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: codeInvalidParams, Message: "invalid params"}
			break
		}
		resp.Result = s.callTool(r, params)
	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}

	s.write(w, resp)
}

func (s *Server) write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

// callerIP extracts the source address, honoring the first hop of
// X-Forwarded-For when a proxy set it. Used to key get_key minting.
func callerIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Ensure Server implements http.Handler.
var _ http.Handler = (*Server)(nil)
