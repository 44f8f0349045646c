package rule

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/oselotti/capreplay/kit"
	"github.com/oselotti/capreplay/trail"
)

// SessionSource supplies recorded sessions for derivation.
type SessionSource interface {
	Session(ctx context.Context, id string) (*trail.Session, error)
	ListSessions(ctx context.Context) ([]trail.Session, error)
}

// Tools exposes rule derivation and management over MCP.
type Tools struct {
	Sessions SessionSource
	Rules    *Store
}

// RegisterMCP registers the rule tools on an MCP server.
func (t *Tools) RegisterMCP(srv *mcp.Server) {
	t.registerListSessionsTool(srv)
	t.registerDeriveTool(srv)
	t.registerGetRuleTool(srv)
	t.registerListRulesTool(srv)
	t.registerDeleteRuleTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- list_sessions ---

type sessionSummary struct {
	ID         string `json:"id"`
	StartMS    int64  `json:"start_ms"`
	LastMS     int64  `json:"last_event_ms"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

func (t *Tools) registerListSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capreplay_list_sessions",
		Description: "List recorded capture sessions, newest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		sessions, err := t.Sessions.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionSummary{
				ID:         s.ID,
				StartMS:    s.StartMS,
				LastMS:     s.LastEventMS,
				ArtifactID: s.ArtifactID,
			})
		}
		return out, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- derive_rule ---

type deriveRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

func (t *Tools) registerDeriveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capreplay_derive_rule",
		Description: "Derive a replayable rule from a recorded session and save it.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session to derive from"},
			"name":       map[string]any{"type": "string", "description": "Human-readable rule name"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*deriveRequest)
		sess, err := t.Sessions.Session(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, fmt.Errorf("unknown session %s", r.SessionID)
		}
		name := r.Name
		if name == "" {
			name = "rule from " + r.SessionID
		}
		derived := Compile(name, sess)
		if err := t.Rules.Save(ctx, &derived); err != nil {
			return nil, err
		}
		return derived, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r deriveRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.SessionID == "" {
			return nil, fmt.Errorf("session_id is required")
		}
		return &kit.MCPDecodeResult{
			Request: &r,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithSessionID(kit.WithTransport(ctx, "mcp"), r.SessionID)
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- get_rule ---

type getRuleRequest struct {
	RuleID string `json:"rule_id"`
}

func (t *Tools) registerGetRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capreplay_get_rule",
		Description: "Fetch a saved rule with its full step list.",
		InputSchema: inputSchema(map[string]any{
			"rule_id": map[string]any{"type": "string", "description": "Rule ID"},
		}, []string{"rule_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getRuleRequest)
		rule, err := t.Rules.Get(ctx, r.RuleID)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			return nil, fmt.Errorf("unknown rule %s", r.RuleID)
		}
		return rule, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r getRuleRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- list_rules ---

func (t *Tools) registerListRulesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capreplay_list_rules",
		Description: "List saved rules, newest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return t.Rules.List(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- delete_rule ---

func (t *Tools) registerDeleteRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capreplay_delete_rule",
		Description: "Delete a saved rule.",
		InputSchema: inputSchema(map[string]any{
			"rule_id": map[string]any{"type": "string", "description": "Rule ID"},
		}, []string{"rule_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getRuleRequest)
		if err := t.Rules.Delete(ctx, r.RuleID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": r.RuleID}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r getRuleRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
