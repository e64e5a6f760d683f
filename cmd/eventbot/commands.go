package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hurttlocker/eventbot/internal/config"
	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/lifecycle"
	"github.com/hurttlocker/eventbot/internal/mcp"
	"github.com/hurttlocker/eventbot/internal/observe"
)

func runExtract(args []string) error {
	var words []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && arg != "-" {
			return fmt.Errorf("unknown flag: %s", arg)
		}
		words = append(words, arg)
	}

	text := strings.Join(words, " ")
	if text == "" || text == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: eventbot extract <text> (or pipe text on stdin)")
	}

	cfg, err := resolveConfig(config.ForExtract)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	if err := a.openProvider(); err != nil {
		return err
	}

	res := a.extractor().Extract(context.Background(), text)
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "extraction failed, showing fallback: %v\n", res.Err)
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(os.Stderr, "warning: %v\n", issue)
	}
	data, _ := json.MarshalIndent(res.Record, "", "  ")
	fmt.Println(string(data))
	return nil
}

func runCheck(args []string) error {
	jsonOut := false
	for _, arg := range args {
		switch arg {
		case "--json":
			jsonOut = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:     globalConfigPath,
		CLILLM:         globalLLM,
		CLIDBPath:      globalDBPath,
		CLIStore:       globalStore,
		CLIMetricsAddr: globalMetricsAddr,
	})
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	validateErr := cfg.Validate()

	if jsonOut {
		data, _ := json.MarshalIndent(cfg.Redacted(), "", "  ")
		fmt.Println(string(data))
	} else {
		printResolved(cfg.Redacted())
	}
	if validateErr != nil {
		fmt.Printf("\nConfig: %v\n", validateErr)
	} else {
		fmt.Println("\nConfig: OK")
	}

	if cfg.StoreBackend.Value != "notion" || cfg.NotionToken.Value == "" || cfg.NotionDatabaseID.Value == "" {
		return validateErr
	}

	ns := connect.NewNotionStore(cfg.NotionToken.Value, cfg.NotionDatabaseID.Value)
	db, err := ns.Retrieve(context.Background())
	if err != nil {
		return fmt.Errorf("retrieving database: %w", err)
	}
	fmt.Printf("\nDatabase: %s (%s)\n", db.Title, db.ID)
	for _, name := range db.ColumnNames() {
		fmt.Printf("  %-24s %s\n", name, db.Columns[name])
	}

	problems := schemaProblems(cfg.Columns, db)
	if len(problems) == 0 {
		fmt.Println("\nColumns: OK")
		return validateErr
	}
	fmt.Println("\nColumns:")
	for _, p := range problems {
		fmt.Printf("  ✗ %s\n", p)
	}
	if validateErr != nil {
		return validateErr
	}
	return fmt.Errorf("%d column problem(s)", len(problems))
}

func printResolved(cfg config.ResolvedConfig) {
	fmt.Printf("Config file: %s\n\n", cfg.ConfigPath)
	rows := []struct {
		name string
		v    config.ResolvedValue
	}{
		{"telegram token", cfg.TelegramToken},
		{"notion token", cfg.NotionToken},
		{"notion database", cfg.NotionDatabaseID},
		{"llm", cfg.LLM},
		{"llm key", cfg.LLMKey()},
		{"db", cfg.DBPath},
		{"store", cfg.StoreBackend},
		{"metrics addr", cfg.MetricsAddr},
		{"redis addr", cfg.RedisAddr},
		{"env", cfg.Env},
	}
	for _, r := range rows {
		value := r.v.Value
		if value == "" {
			value = "(unset)"
		}
		source := string(r.v.Source)
		if r.v.From != "" {
			source += " " + r.v.From
		}
		fmt.Printf("  %-16s %-40s %s\n", r.name, value, source)
	}
	fmt.Printf("  %-16s %d\n", "scan pages", cfg.ScanPages)
	fmt.Printf("  %-16s %v\n", "fetch links", cfg.FetchLinks)
	fmt.Printf("  %-16s %v\n", "skip on failure", cfg.SkipOnExtractFailure)
}

// schemaProblems lists configured columns that are missing from the database
// or have a different type.
func schemaProblems(cols event.Columns, db connect.Database) []string {
	var problems []string
	for name, want := range cols.WithDefaults().Kinds() {
		got, ok := db.Columns[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing column %q (%s)", name, want))
		case got != string(want):
			problems = append(problems, fmt.Sprintf("column %q is %s, want %s", name, got, want))
		}
	}
	sort.Strings(problems)
	return problems
}

func runBackfill(args []string) error {
	var kind string
	dryRun, yes, jsonOut := false, false, false
	for _, arg := range args {
		switch {
		case arg == "--dry-run" || arg == "-n":
			dryRun = true
		case arg == "--yes" || arg == "-y":
			yes = true
		case arg == "--json":
			jsonOut = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case kind == "":
			kind = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if kind != lifecycle.KindEndDates && kind != lifecycle.KindLocations {
		return fmt.Errorf("usage: eventbot backfill <end-dates|locations> [--dry-run] [--yes] [--json]")
	}

	cfg, err := resolveConfig(config.ForBackfill)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()
	if err := a.openStores(); err != nil {
		return err
	}
	if kind == lifecycle.KindLocations {
		if err := a.openProvider(); err != nil {
			return err
		}
	}

	if !dryRun && !yes {
		prompt := fmt.Sprintf("Backfill %s on %s store. Continue? (y/n): ", kind, cfg.StoreBackend.Value)
		if !confirm(stdin, os.Stdout, prompt) {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	report, err := a.runner().Run(context.Background(), kind, dryRun)
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(formatReport(kind, report))
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func formatReport(kind string, r *lifecycle.Report) string {
	var b strings.Builder
	if r.DryRun {
		b.WriteString("Dry run: no changes written\n\n")
	}
	for _, a := range r.Actions {
		switch a.Action {
		case lifecycle.ActionUpdate:
			fmt.Fprintf(&b, "  ✓ %s → %s", a.Title, a.ToValue)
			if a.Reason != "" {
				fmt.Fprintf(&b, " (%s)", a.Reason)
			}
			b.WriteString("\n")
		case lifecycle.ActionError:
			fmt.Fprintf(&b, "  ✗ %s: %s\n", a.Title, a.Reason)
		default:
			if globalVerbose {
				fmt.Fprintf(&b, "  - %s: %s\n", a.Title, a.Reason)
			}
		}
	}
	fmt.Fprintf(&b, "\n%s: scanned %d, updated %d, skipped %d, errors %d\n",
		kind, r.Scanned, r.Updated, r.Skipped, r.Errors)
	return b.String()
}

func runStatus(args []string) error {
	jsonOut, vacuum := false, false
	for _, arg := range args {
		switch arg {
		case "--json":
			jsonOut = true
		case "--vacuum":
			vacuum = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{ConfigPath: globalConfigPath, CLIDBPath: globalDBPath})
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	a := newApp(cfg)
	defer a.Close()
	if err := a.openStores(); err != nil {
		return err
	}

	ctx := context.Background()
	if vacuum {
		if err := a.ledger.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	st, err := observe.GetStats(ctx, a.ledger)
	if err != nil {
		return err
	}
	if jsonOut {
		data, _ := json.MarshalIndent(struct {
			*observe.Stats
			VacuumRan bool `json:"vacuum_ran"`
		}{st, vacuum}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Messages:        %d\n", st.Messages)
	outcomes := make([]string, 0, len(st.Outcomes))
	for o := range st.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Printf("  %-13s %d\n", o, st.Outcomes[o])
	}
	fmt.Printf("Last update:     %d\n", st.LastUpdateID)
	fmt.Printf("Offline records: %d\n", st.OfflineRecords)
	fmt.Printf("Storage:         %s\n", formatBytes(st.StorageBytes))
	if vacuum {
		fmt.Println("Vacuum:          done")
	}
	if len(st.RecentFailures) > 0 {
		fmt.Println("\nRecent failures:")
		for _, f := range st.RecentFailures {
			fmt.Printf("  %s  %-8s %s: %s\n", f.At, f.Outcome, f.Title, f.Error)
		}
	}
	for _, alert := range st.Alerts {
		fmt.Printf("\n⚠ %s\n", alert)
	}
	return nil
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func runMCP(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unknown argument: %s", args[0])
	}

	cfg, err := resolveConfig(config.ForMCP)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()
	if err := a.openStores(); err != nil {
		return err
	}
	if err := a.openProvider(); err != nil {
		return err
	}

	ctx := context.Background()
	ex := a.extractor()
	rc := a.reconciler(ctx)
	srv := mcp.NewServer(mcp.ServerConfig{
		Extractor:  ex,
		Reconciler: rc,
		Engine:     a.engine(ex, rc),
		Runner:     a.runner(),
		Ledger:     a.ledger,
		Version:    version,
	})
	return mcp.Serve(srv)
}
