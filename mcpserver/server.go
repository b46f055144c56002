package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/code"
	"github.com/jonwraymond/toolharness/exec"
	"github.com/jonwraymond/toolharness/search"
)

// Implementation identifies the server to clients.
const (
	Name    = "toolharness"
	Version = "0.1.0"
)

// DefaultTopK is used by search_tools when top_k is omitted.
const DefaultTopK = 5

// Server serves one harness over MCP.
type Server struct {
	harness *exec.Harness
	server  *mcp.Server
	logger  *zap.Logger
}

// New registers the harness tools on a fresh MCP server.
func New(h *exec.Harness, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		harness: h,
		server:  mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, &mcp.ServerOptions{HasTools: true}),
		logger:  logger.Named("mcpserver"),
	}
	for _, t := range s.tools() {
		s.server.AddTool(t.tool, s.wrap(t.tool.Name, t.handle))
	}
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *mcp.Server { return s.server }

// Run serves transport until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting")
	return s.server.Run(ctx, transport)
}

type handlerFunc func(ctx context.Context, raw json.RawMessage) (any, error)

type toolEntry struct {
	tool   *mcp.Tool
	handle handlerFunc
}

func (s *Server) wrap(name string, h handlerFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := h(ctx, json.RawMessage(req.Params.Arguments))
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
			return errorResult(err), nil
		}
		text, ok := out.(string)
		if !ok {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return errorResult(err), nil
			}
			text = string(data)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

type executeArgs struct {
	Code              string `json:"code"`
	TimeBudgetSeconds int    `json:"time_budget_seconds"`
	MaxToolCalls      int    `json:"max_tool_calls"`
}

type serverArgs struct {
	Server string `json:"server"`
}

type toolArgs struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

type searchArgs struct {
	Query       string `json:"query"`
	TopK        int    `json:"top_k"`
	DetailLevel string `json:"detail_level"`
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func num(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }

func (s *Server) tools() []toolEntry {
	return []toolEntry{
		{
			tool: &mcp.Tool{
				Name:        "execute_code",
				Description: "Run a Go script in the sandbox. The script may use the tools and sandbox packages to discover and call tools and to read and write workspace files.",
				InputSchema: object(map[string]any{
					"code":                str("Go statements or a complete package main program"),
					"time_budget_seconds": num("Time budget, 1 to 300 seconds"),
					"max_tool_calls":      num("Lower the per-execution tool call limit"),
				}, "code"),
			},
			handle: s.executeCode,
		},
		{
			tool: &mcp.Tool{
				Name:        "list_servers",
				Description: "List the tool servers in the catalog.",
				InputSchema: object(map[string]any{}),
			},
			handle: func(context.Context, json.RawMessage) (any, error) {
				return s.harness.Catalog().ListServers()
			},
		},
		{
			tool: &mcp.Tool{
				Name:        "list_tools",
				Description: "List the tools of one server.",
				InputSchema: object(map[string]any{"server": str("Server name")}, "server"),
			},
			handle: func(_ context.Context, raw json.RawMessage) (any, error) {
				args, err := decode[serverArgs](raw)
				if err != nil {
					return nil, err
				}
				return s.harness.Catalog().ListTools(args.Server)
			},
		},
		{
			tool: &mcp.Tool{
				Name:        "get_tool_summary",
				Description: "Get the one-line description of a tool.",
				InputSchema: object(map[string]any{"server": str("Server name"), "tool": str("Tool name")}, "server", "tool"),
			},
			handle: func(_ context.Context, raw json.RawMessage) (any, error) {
				args, err := decode[toolArgs](raw)
				if err != nil {
					return nil, err
				}
				return s.harness.Catalog().Summary(args.Server, args.Tool)
			},
		},
		{
			tool: &mcp.Tool{
				Name:        "get_tool_definition",
				Description: "Get the full source of a tool definition.",
				InputSchema: object(map[string]any{"server": str("Server name"), "tool": str("Tool name")}, "server", "tool"),
			},
			handle: func(_ context.Context, raw json.RawMessage) (any, error) {
				args, err := decode[toolArgs](raw)
				if err != nil {
					return nil, err
				}
				return s.harness.Catalog().Definition(args.Server, args.Tool)
			},
		},
		{
			tool: &mcp.Tool{
				Name:        "search_tools",
				Description: "Rank catalog tools for a natural language query.",
				InputSchema: object(map[string]any{
					"query":        str("What the tool should do"),
					"top_k":        num("Number of results, default 5"),
					"detail_level": str("name, summary or full"),
				}, "query"),
			},
			handle: s.searchTools,
		},
		{
			tool: &mcp.Tool{
				Name:        "get_metrics",
				Description: "Summarize recorded executions.",
				InputSchema: object(map[string]any{}),
			},
			handle: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return s.harness.Metrics().Summary(ctx)
			},
		},
	}
}

func (s *Server) executeCode(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[executeArgs](raw)
	if err != nil {
		return nil, err
	}
	res, err := s.harness.Execute(ctx, code.Request{
		Code:           args.Code,
		TimeoutSeconds: args.TimeBudgetSeconds,
		MaxToolCalls:   args.MaxToolCalls,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) searchTools(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[searchArgs](raw)
	if err != nil {
		return nil, err
	}
	level, err := search.ParseDetailLevel(args.DetailLevel)
	if err != nil {
		return nil, err
	}
	topK := args.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return s.harness.SearchTools(ctx, args.Query, topK, level)
}
