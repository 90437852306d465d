// Package mcp implements the device-side JSON-RPC 2.0 tool-call server.
// Requests arrive and replies leave through the session layer; the server
// itself is transport-agnostic.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const (
	protocolVersion = "2024-11-05"

	// maxPayloadSize bounds a tools/list reply; descriptors past the
	// budget move to the next page.
	maxPayloadSize   = 8000
	replyFramingCost = 30

	defaultWorkerLimit = 4
)

// ReturnValue is what a tool callback produces: bool, string (raw JSON when
// valid), json.RawMessage, or any marshalable value.
type ReturnValue = any

// Tool is one remotely callable operation. Callback runs on a worker
// goroutine and must be safe to invoke concurrently with device activity.
type Tool struct {
	Name        string
	Description string
	Properties  PropertyList
	Callback    func(args PropertyList) (ReturnValue, error)
}

func (t *Tool) descriptor() map[string]any {
	return map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"inputSchema": t.Properties.schema(),
	}
}

// Server keeps the tool registry and dispatches JSON-RPC requests.
type Server struct {
	name    string
	version string
	send    func(payload json.RawMessage)
	log     *slog.Logger

	// onVisionConfig receives the camera explain endpoint from the
	// initialize capabilities, when present.
	onVisionConfig func(url string, token string)

	mu    sync.Mutex
	tools []*Tool

	workers chan struct{}
}

// NewServer builds a server. send delivers reply payloads to the session
// layer and must not block for long.
func NewServer(name string, version string, send func(payload json.RawMessage), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		name:    name,
		version: version,
		send:    send,
		log:     log,
		workers: make(chan struct{}, defaultWorkerLimit),
	}
}

// OnVisionConfig registers the callback for the vision capability carried
// in the initialize request.
func (s *Server) OnVisionConfig(fn func(url string, token string)) {
	s.onVisionConfig = fn
}

// AddTool registers a tool. The first registration of a name wins.
func (s *Server) AddTool(t *Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tools {
		if existing.Name == t.Name {
			return fmt.Errorf("tool %s is already registered", t.Name)
		}
	}
	s.log.Debug("tool registered", "name", t.Name)
	s.tools = append(s.tools, t)
	return nil
}

// PrependTools inserts tools ahead of everything registered so far, so the
// built-in device tools list before board-specific ones. Duplicate names
// are dropped.
func (s *Server) PrependTools(tools ...*Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]bool, len(s.tools))
	for _, t := range s.tools {
		existing[t.Name] = true
	}
	var accepted []*Tool
	for _, t := range tools {
		if existing[t.Name] {
			s.log.Warn("skipping duplicate tool", "name", t.Name)
			continue
		}
		existing[t.Name] = true
		accepted = append(accepted, t)
	}
	s.tools = append(accepted, s.tools...)
}

// Tools returns a snapshot of the registry in registration order.
func (s *Server) Tools() []*Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Tool(nil), s.tools...)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseMessage validates and dispatches one inbound JSON-RPC payload.
// Malformed requests are logged and dropped; notifications are ignored.
func (s *Server) ParseMessage(payload json.RawMessage) {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Warn("dropping malformed rpc payload", "error", err)
		return
	}
	if req.JSONRPC != "2.0" {
		s.log.Warn("dropping rpc payload with wrong version", "jsonrpc", req.JSONRPC)
		return
	}
	if req.Method == "" {
		s.log.Warn("dropping rpc payload without method")
		return
	}
	if strings.HasPrefix(req.Method, "notifications") {
		return
	}
	if req.ID == nil {
		s.log.Warn("dropping rpc request without id", "method", req.Method)
		return
	}
	id := *req.ID

	switch req.Method {
	case "initialize":
		s.handleInitialize(id, req.Params)
	case "tools/list":
		s.handleToolsList(id, req.Params)
	case "tools/call":
		s.handleToolsCall(id, req.Params)
	default:
		s.replyError(id, fmt.Sprintf("method not implemented: %s", req.Method))
	}
}

type initializeParams struct {
	Capabilities struct {
		Vision struct {
			URL   string `json:"url"`
			Token string `json:"token"`
		} `json:"vision"`
	} `json:"capabilities"`
}

func (s *Server) handleInitialize(id int64, params json.RawMessage) {
	if len(params) > 0 && s.onVisionConfig != nil {
		var p initializeParams
		if err := json.Unmarshal(params, &p); err == nil && p.Capabilities.Vision.URL != "" {
			s.onVisionConfig(p.Capabilities.Vision.URL, p.Capabilities.Vision.Token)
		}
	}
	s.replyResult(id, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	})
}

type toolsListParams struct {
	Cursor string `json:"cursor"`
}

// handleToolsList pages through the registry. The cursor names the first
// tool of the page; an unknown cursor yields an empty final page.
func (s *Server) handleToolsList(id int64, params json.RawMessage) {
	var p toolsListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			s.replyError(id, "invalid tools/list params")
			return
		}
	}

	tools := s.Tools()
	found := p.Cursor == ""
	var entries []json.RawMessage
	total := len(`{"tools":[]}`)
	nextCursor := ""
	for _, t := range tools {
		if !found {
			if t.Name == p.Cursor {
				found = true
			} else {
				continue
			}
		}
		desc, err := json.Marshal(t.descriptor())
		if err != nil {
			s.log.Error("failed to describe tool", "name", t.Name, "error", err)
			continue
		}
		if total+len(desc)+replyFramingCost > maxPayloadSize {
			nextCursor = t.Name
			break
		}
		entries = append(entries, desc)
		total += len(desc) + 1
	}

	if nextCursor != "" && len(entries) == 0 {
		s.replyError(id, fmt.Sprintf("failed to list tool %s because of payload size limit", nextCursor))
		return
	}

	result := map[string]any{"tools": entries}
	if entries == nil {
		result["tools"] = []json.RawMessage{}
	}
	if nextCursor != "" {
		result["nextCursor"] = nextCursor
	}
	s.replyResult(id, result)
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handleToolsCall binds arguments synchronously, then runs the callback on
// a worker so a slow tool cannot stall the session.
func (s *Server) handleToolsCall(id int64, params json.RawMessage) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		s.replyError(id, "invalid tools/call params")
		return
	}

	var tool *Tool
	for _, t := range s.Tools() {
		if t.Name == p.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		s.replyError(id, fmt.Sprintf("unknown tool: %s", p.Name))
		return
	}

	args, err := tool.Properties.bind(p.Arguments)
	if err != nil {
		s.replyError(id, err.Error())
		return
	}

	go func() {
		s.workers <- struct{}{}
		defer func() { <-s.workers }()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tool callback panicked", "name", tool.Name, "panic", r)
				s.replyError(id, fmt.Sprintf("tool %s failed", tool.Name))
			}
		}()

		result, err := tool.Callback(args)
		if err != nil {
			s.replyError(id, err.Error())
			return
		}
		s.replyResult(id, map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": resultText(result)},
			},
			"isError": false,
		})
	}()
}

func resultText(v ReturnValue) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case json.RawMessage:
		return string(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func (s *Server) replyResult(id int64, result any) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	if err != nil {
		s.log.Error("failed to encode rpc result", "id", id, "error", err)
		return
	}
	s.send(payload)
}

func (s *Server) replyError(id int64, message string) {
	s.log.Warn("rpc error reply", "id", id, "message", message)
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"message": message},
	})
	if err != nil {
		return
	}
	s.send(payload)
}
