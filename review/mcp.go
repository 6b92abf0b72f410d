package review

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clauseguard/clauseguard/decision"
	"github.com/clauseguard/clauseguard/kit"
)

// RegisterMCP registers the review tools on an MCP server, mirroring the
// HTTP surface.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerOpenTool(srv)
	s.registerAnalyzeTool(srv)
	s.registerDecideTool(srv)
	s.registerRegenerateTool(srv)
	s.registerReportTool(srv)
	s.registerAskTool(srv)
	s.registerCloseTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func mcpCtx(sessionID string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context {
		ctx = kit.WithTransport(ctx, "mcp")
		if sessionID != "" {
			ctx = kit.WithSessionID(ctx, sessionID)
		}
		return ctx
	}
}

// --- open ---

type mcpOpenReq struct {
	Text string `json:"text"`
}

func (s *Service) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_open",
		Description: "Open a review session for a rental contract. Returns the session ID and the segmented clauses.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Full contract text"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpOpenReq)
		sess, err := s.Open(ctx, r.Text)
		if err != nil {
			return nil, err
		}
		return OpenResponse{SessionID: sess.ID(), Clauses: sess.Clauses()}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpOpenReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx("")}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- analyze ---

type mcpSessionReq struct {
	SessionID string `json:"session_id"`
}

func sessionSchema(extra map[string]any, required ...string) map[string]any {
	props := map[string]any{
		"session_id": map[string]any{"type": "string", "description": "Review session ID"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return inputSchema(props, append([]string{"session_id"}, required...))
}

func decodeSessionReq(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r mcpSessionReq
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx(r.SessionID)}, nil
}

func (s *Service) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_analyze",
		Description: "Run the four-stage analysis over every clause of the session's contract.",
		InputSchema: sessionSchema(nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpSessionReq)
		sess, err := s.Get(r.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Analyze(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}

// --- decide ---

type mcpDecideReq struct {
	SessionID  string `json:"session_id"`
	ClauseID   int    `json:"clause_id"`
	Status     string `json:"status"`
	ChosenText string `json:"chosen_text,omitempty"`
}

func (s *Service) registerDecideTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_decide",
		Description: "Record an accept or reject verdict on an analyzed clause.",
		InputSchema: sessionSchema(map[string]any{
			"clause_id":   map[string]any{"type": "integer", "description": "Clause ordinal"},
			"status":      map[string]any{"type": "string", "enum": []string{"accepted", "rejected"}},
			"chosen_text": map[string]any{"type": "string", "description": "Edited wording when accepting"},
		}, "clause_id", "status"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpDecideReq)
		sess, err := s.Get(r.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Decide(ctx, r.ClauseID, decision.Status(r.Status), r.ChosenText)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpDecideReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx(r.SessionID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- regenerate ---

func (s *Service) registerRegenerateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_regenerate",
		Description: "Rebuild the contract with accepted rewordings substituted in place.",
		InputSchema: sessionSchema(nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpSessionReq)
		sess, err := s.Get(r.SessionID)
		if err != nil {
			return nil, err
		}
		rc, err := sess.Regenerate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"clauses": rc.Clauses, "text": rc.Render()}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}

// --- report ---

type mcpReportReq struct {
	SessionID string `json:"session_id"`
	Audience  string `json:"audience"`
}

func (s *Service) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_report",
		Description: "Render the review report for the lawyer or the client audience.",
		InputSchema: sessionSchema(map[string]any{
			"audience": map[string]any{"type": "string", "enum": []string{"lawyer", "client"}},
		}, "audience"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpReportReq)
		sess, err := s.Get(r.SessionID)
		if err != nil {
			return nil, err
		}
		lawyer, client, err := sess.Reports(ctx)
		if err != nil {
			return nil, err
		}
		rep := client
		if r.Audience == "lawyer" {
			rep = lawyer
		}
		return map[string]any{"report": rep, "rendered": rep.Render()}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpReportReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx(r.SessionID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- ask ---

type mcpAskReq struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

func (s *Service) registerAskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_ask",
		Description: "Ask a follow-up question about the reviewed contract, answered from the statute passages and accepted rewordings.",
		InputSchema: sessionSchema(map[string]any{
			"question": map[string]any{"type": "string"},
		}, "question"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpAskReq)
		sess, err := s.Get(r.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Ask(ctx, r.Question)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r mcpAskReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpCtx(r.SessionID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- close ---

func (s *Service) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "clauseguard_close",
		Description: "Close a review session and discard its ephemeral retrieval rows.",
		InputSchema: sessionSchema(nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mcpSessionReq)
		if err := s.Close(ctx, r.SessionID); err != nil {
			return nil, err
		}
		return map[string]any{"closed": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionReq)
}
