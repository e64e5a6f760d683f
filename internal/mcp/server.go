// Package mcp exposes the event intake pipeline as Model Context Protocol
// tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/extract"
	"github.com/hurttlocker/eventbot/internal/ingest"
	"github.com/hurttlocker/eventbot/internal/lifecycle"
	"github.com/hurttlocker/eventbot/internal/observe"
	"github.com/hurttlocker/eventbot/internal/reconcile"
	"github.com/hurttlocker/eventbot/internal/store"
)

// ServerConfig holds the components the tools call into.
type ServerConfig struct {
	Extractor  *extract.Extractor
	Reconciler *reconcile.Reconciler
	Engine     *ingest.Engine
	Runner     *lifecycle.Runner
	Ledger     *store.SQLiteStore // optional, enables event_stats and eventbot://stats
	Version    string
}

// writeMu serializes tools that write to the record store. mcp-go runs
// handlers concurrently.
var writeMu sync.Mutex

// NewServer creates a configured MCP server with all event tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"eventbot",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Extractor)
	registerCheckDuplicateTool(s, cfg.Reconciler)
	registerSaveTool(s, cfg.Engine)
	registerBackfillTool(s, cfg.Runner)
	if cfg.Ledger != nil {
		registerStatsTool(s, cfg.Ledger)
		registerStatsResource(s, cfg.Ledger)
	}
	return s
}

func registerExtractTool(s *server.MCPServer, ex *extract.Extractor) {
	tool := mcp.NewTool("event_extract",
		mcp.WithDescription("Extract event fields from a post using the configured LLM. Returns the normalized record and whether the fallback was used. Nothing is saved."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Post text to analyze"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}

		res := ex.Extract(ctx, text)
		out := map[string]interface{}{
			"record":   res.Record,
			"fallback": !res.OK(),
		}
		if res.Err != nil {
			out["error"] = res.Err.Error()
		}
		if len(res.Issues) > 0 {
			issues := make([]string, 0, len(res.Issues))
			for _, e := range res.Issues {
				issues = append(issues, e.Error())
			}
			out["issues"] = issues
		}
		return jsonResult(out), nil
	})
}

func registerCheckDuplicateTool(s *server.MCPServer, rc *reconcile.Reconciler) {
	tool := mcp.NewTool("event_check_duplicate",
		mcp.WithDescription("Check whether an event already exists, by source URL or by project name plus start date."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("source_url",
			mcp.Description("Original post link"),
		),
		mcp.WithString("project_name",
			mcp.Description("Project name (exact match)"),
		),
		mcp.WithString("start_date",
			mcp.Description("Start date as YYYY-MM-DD"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceURL := req.GetString("source_url", "")
		project := req.GetString("project_name", "")

		var start *time.Time
		if raw := req.GetString("start_date", ""); raw != "" {
			d, err := event.ParseDate(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid start_date: %v", err)), nil
			}
			start = &d
		}

		match, found, err := rc.FindDuplicate(ctx, sourceURL, project, start)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("duplicate check failed: %v", err)), nil
		}
		out := map[string]interface{}{"duplicate": found}
		if found {
			out["page_id"] = match.ID
			out["rule"] = string(match.Rule)
		}
		return jsonResult(out), nil
	})
}

func registerSaveTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("event_save",
		mcp.WithDescription("Run a post through extraction, the duplicate check and the store write, exactly as the bot does."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Post text"),
		),
		mcp.WithString("source_url",
			mcp.Description("Original post link. Defaults to the first link in the text."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		writeMu.Lock()
		defer writeMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		sourceURL := req.GetString("source_url", "")
		if sourceURL == "" {
			sourceURL = event.FirstURL(text)
		}
		if sourceURL == "" {
			sourceURL = event.NoURL
		}

		out := engine.Process(ctx, ingest.Inbound{Text: text, SourceURL: sourceURL})
		result := map[string]interface{}{
			"outcome":    string(out.Kind),
			"request_id": out.RequestID,
			"record":     out.Record,
		}
		switch out.Kind {
		case ingest.OutcomeSaved:
			result["page_id"] = out.PageID
		case ingest.OutcomeDuplicate:
			result["page_id"] = out.Match.ID
			result["rule"] = string(out.Match.Rule)
		}
		if out.Err != nil {
			result["error"] = out.Err.Error()
			data, _ := json.MarshalIndent(result, "", "  ")
			return mcp.NewToolResultError(string(data)), nil
		}
		return jsonResult(result), nil
	})
}

func registerBackfillTool(s *server.MCPServer, runner *lifecycle.Runner) {
	tool := mcp.NewTool("event_backfill",
		mcp.WithDescription("Fill end dates (start + duration) or online/offline locations on stored events. Defaults to a dry run."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Which backfill to run"),
			mcp.Enum(lifecycle.KindEndDates, lifecycle.KindLocations),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report planned updates without writing (default: true)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		writeMu.Lock()
		defer writeMu.Unlock()

		kind, err := req.RequireString("kind")
		if err != nil {
			return mcp.NewToolResultError("kind is required"), nil
		}
		dryRun := req.GetBool("dry_run", true)

		report, err := runner.Run(ctx, kind, dryRun)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("backfill error: %v", err)), nil
		}
		return jsonResult(report), nil
	})
}

func registerStatsTool(s *server.MCPServer, ledger *store.SQLiteStore) {
	tool := mcp.NewTool("event_stats",
		mcp.WithDescription("Processed message counts by outcome, recent failures and alerts."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := observe.GetStats(ctx, ledger)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		return jsonResult(st), nil
	})
}

func registerStatsResource(s *server.MCPServer, ledger *store.SQLiteStore) {
	resource := mcp.NewResource(
		"eventbot://stats",
		"Intake Statistics",
		mcp.WithResourceDescription("Processed message counts by outcome, the last Telegram update and recent failures."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := observe.GetStats(ctx, ledger)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		data, _ := json.MarshalIndent(st, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
