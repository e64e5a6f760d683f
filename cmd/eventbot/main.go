package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const version = "0.3.0"

const (
	envDev  = "dev"
	envProd = "prod"
)

var (
	globalConfigPath  string
	globalDBPath      string
	globalLLM         string
	globalStore       string
	globalMetricsAddr string
	globalVerbose     bool

	stdin io.Reader = os.Stdin
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:])
	case "extract":
		err = runExtract(args[1:])
	case "check":
		err = runCheck(args[1:])
	case "backfill":
		err = runBackfill(args[1:])
	case "status", "stats":
		err = runStatus(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("eventbot %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags strips the flags every subcommand accepts and returns the
// rest.
func parseGlobalFlags(args []string) []string {
	targets := map[string]*string{
		"--config":       &globalConfigPath,
		"--db":           &globalDBPath,
		"--llm":          &globalLLM,
		"--store":        &globalStore,
		"--metrics-addr": &globalMetricsAddr,
	}

	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--verbose" || arg == "-V" {
			globalVerbose = true
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		dst, ok := targets[name]
		if !ok {
			rest = append(rest, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				rest = append(rest, arg)
				continue
			}
			i++
			value = args[i]
		}
		*dst = value
	}
	return rest
}

func setupLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == envDev {
		level = slog.LevelDebug
	}
	if globalVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printUsage() {
	fmt.Printf(`eventbot %s - Telegram event intake into Notion

Usage:
  eventbot [global flags] <command> [arguments]

Commands:
  serve                      Run the Telegram bot
  extract <text>             Extract an event from text and print it as JSON
  check                      Show resolved config and verify the Notion database
  backfill end-dates         Fill end dates from start date + duration
  backfill locations         Classify events as online or offline
  status                     Show processed message counts and alerts
  mcp                        Serve MCP tools over stdio
  version                    Print version

Backfill Flags:
  -n, --dry-run              Show planned updates without writing
  -y, --yes                  Skip the confirmation prompt
  --json                     Print the report as JSON

Status Flags:
  --json                     Print stats as JSON
  --vacuum                   Compact the SQLite database first

Global Flags:
  --config <path>            Config file (default ~/.eventbot/config.yaml)
  --db <path>                SQLite database for the ledger and offline store
  --llm <provider/model>     LLM, e.g. openai/gpt-4o-mini or google/gemini-2.5-flash
  --store <notion|sqlite>    Record store backend
  --metrics-addr <addr>      Serve /metrics and /healthz (serve only)
  -V, --verbose              Debug logging

Environment:
  TELEGRAM_BOT_TOKEN, NOTION_API_KEY, NOTION_DATABASE_ID,
  OPENAI_API_KEY | OPENROUTER_API_KEY | GEMINI_API_KEY,
  EVENTBOT_LLM, EVENTBOT_DB, EVENTBOT_STORE, EVENTBOT_METRICS_ADDR,
  EVENTBOT_REDIS_ADDR, EVENTBOT_ENV (dev|prod)
`, version)
}
