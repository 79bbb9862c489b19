// Package server exposes the advisor as MCP tools over stdio.
package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/koltyakov/pgadvisor/internal/advisor"
	"github.com/koltyakov/pgadvisor/internal/report"
)

// Tool names.
const (
	ToolAnalyzeWorkload = "analyze_workload_indexes"
	ToolAnalyzeQueries  = "analyze_query_indexes"
)

// Options configures the tool server.
type Options struct {
	Name    string
	Version string
	// DefaultMaxIndexSizeMB applies when a call omits max_index_size_mb.
	DefaultMaxIndexSizeMB float64
	Logger                log.Logger
}

type handlers struct {
	opt    advisor.Optimizer
	opts   Options
	logger log.Logger
}

// New builds an MCP server with both index tuning tools registered.
func New(opt advisor.Optimizer, opts Options) *mcpserver.MCPServer {
	if opts.Name == "" {
		opts.Name = "pgadvisor"
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	h := &handlers{opt: opt, opts: opts, logger: opts.Logger}

	s := mcpserver.NewMCPServer(
		opts.Name,
		opts.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.AddTool(workloadTool(opts.DefaultMaxIndexSizeMB), h.analyzeWorkload)
	s.AddTool(queriesTool(opts.DefaultMaxIndexSizeMB), h.analyzeQueries)
	return s
}

// ServeStdio runs s until stdin closes.
func ServeStdio(s *mcpserver.MCPServer) error {
	return mcpserver.ServeStdio(s)
}

func workloadTool(defaultMB float64) mcp.Tool {
	return mcp.NewTool(ToolAnalyzeWorkload,
		mcp.WithDescription("Analyze frequently executed queries from pg_stat_statements and recommend secondary indexes using hypothetical indexes. Nothing is created on the server."),
		mcp.WithNumber("max_index_size_mb",
			mcp.Description(fmt.Sprintf("Storage budget for all recommended indexes in MB (default: %g)", defaultMB)),
			mcp.DefaultNumber(defaultMB),
		),
	)
}

func queriesTool(defaultMB float64) mcp.Tool {
	return mcp.NewTool(ToolAnalyzeQueries,
		mcp.WithDescription("Recommend secondary indexes for a list of SQL statements (up to 10 by default) using hypothetical indexes. Nothing is created on the server."),
		mcp.WithArray("queries",
			mcp.Required(),
			mcp.Description("SQL statements to tune"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("max_index_size_mb",
			mcp.Description(fmt.Sprintf("Storage budget for all recommended indexes in MB (default: %g)", defaultMB)),
			mcp.DefaultNumber(defaultMB),
		),
	)
}

func (h *handlers) analyzeWorkload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mb := req.GetFloat("max_index_size_mb", h.opts.DefaultMaxIndexSizeMB)
	sess, err := h.opt.AnalyzeWorkload(ctx, mb)
	if err != nil {
		level.Error(h.logger).Log("msg", "workload analysis failed", "tool", ToolAnalyzeWorkload, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("Error analyzing workload: %v", err)), nil
	}
	return h.render(sess)
}

func (h *handlers) analyzeQueries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queries := req.GetStringSlice("queries", nil)
	if len(queries) == 0 {
		return mcp.NewToolResultError("queries parameter is required"), nil
	}
	mb := req.GetFloat("max_index_size_mb", h.opts.DefaultMaxIndexSizeMB)
	sess, err := h.opt.AnalyzeQueries(ctx, queries, mb)
	if err != nil {
		level.Error(h.logger).Log("msg", "query analysis failed", "tool", ToolAnalyzeQueries, "queries", len(queries), "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("Error analyzing queries: %v", err)), nil
	}
	return h.render(sess)
}

func (h *handlers) render(sess *advisor.Session) (*mcp.CallToolResult, error) {
	r := report.Build(sess)
	r.Version = h.opts.Version
	var b strings.Builder
	if err := report.WriteText(&b, r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render session: %v", err)), nil
	}
	level.Info(h.logger).Log("msg", "session complete", "session", sess.SessionID, "recommendations", len(sess.Recommendations))
	return mcp.NewToolResultText(b.String()), nil
}
