package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/mattjoyce/scriptsrunner/internal/api"
	"github.com/mattjoyce/scriptsrunner/internal/config"
	"github.com/mattjoyce/scriptsrunner/internal/dispatch"
	"github.com/mattjoyce/scriptsrunner/internal/queue"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

// clientFlags are shared by every verb that talks to the service.
type clientFlags struct {
	configPath string
	apiURL     string
	apiKey     string
	jsonOut    bool
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&f.apiURL, "api-url", "", "Service API URL (default: from config)")
	fs.StringVar(&f.apiKey, "api-key", "", "API key (or "+apiKeyEnv+")")
	fs.BoolVar(&f.jsonOut, "json", false, "Output in structured JSON format")
}

func (f *clientFlags) client() (*apiClient, error) {
	u, key, err := resolveAPI(f.configPath, f.apiURL, f.apiKey)
	if err != nil {
		return nil, err
	}
	return newAPIClient(u, key), nil
}

var clientTakesValue = map[string]bool{
	"--config": true, "-config": true,
	"--api-url": true, "-api-url": true,
	"--api-key": true, "-api-key": true,
	"--tag": true, "-tag": true,
}

// splitFlagsAndPositionals lets the script path appear before or after flags.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

// parsePathArgs parses fs and returns the single script path, made absolute.
func parsePathArgs(fs *flag.FlagSet, args []string, usage string) (string, bool) {
	flags, positionals := splitFlagsAndPositionals(args, clientTakesValue)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return "", false
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, usage)
		return "", false
	}
	abs, err := filepath.Abs(positionals[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid path %q: %v\n", positionals[0], err)
		return "", false
	}
	return abs, true
}

func reportClientError(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, errServiceDown) {
		fmt.Fprintln(os.Stderr, "Hint: start the service with 'scriptsrunner system start', or use 'script run --local'.")
	}
	return 1
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runScriptList(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	cf.register(fs)
	tag := fs.String("tag", "", "Only scripts with this tag")
	favorites := fs.Bool("favorites", false, "Only favorite scripts")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}

	q := url.Values{}
	if *tag != "" {
		q.Set("tag", *tag)
	}
	if *favorites {
		q.Set("favorites", "true")
	}
	path := "/scripts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var views []dispatch.ScriptView
	if err := c.do(context.Background(), "GET", path, nil, &views); err != nil {
		return reportClientError(err)
	}
	if cf.jsonOut {
		return printJSON(views)
	}
	if len(views) == 0 {
		fmt.Println("No scripts found.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tNAME\tRUNS\tLAST\tFOLDER")
	for _, v := range views {
		name := v.Name
		if v.Record.Favorite {
			name = "★ " + name
		}
		if v.Missing {
			name += " (missing)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", statusText(v), name, v.Record.RunCount, lastRunText(v.Record), v.Folder)
	}
	_ = tw.Flush()
	return 0
}

func statusText(v dispatch.ScriptView) string {
	switch v.Status {
	case queue.StatusRunning:
		return color.YellowString("running")
	case queue.StatusQueued:
		return color.CyanString("queued #%d", v.Position)
	default:
		return color.New(color.Faint).Sprint("idle")
	}
}

func lastRunText(rec state.ScriptRecord) string {
	if len(rec.History) == 0 {
		return "-"
	}
	return entryOutcome(rec.History[0])
}

func entryOutcome(e state.ExecutionEntry) string {
	switch {
	case e.ExitCode == nil:
		return color.BlueString("launched")
	case e.TimedOut:
		return color.RedString("timeout")
	case e.Canceled:
		return color.YellowString("canceled")
	case *e.ExitCode == 0:
		return color.GreenString("ok")
	default:
		return color.RedString("exit %d", *e.ExitCode)
	}
}

func okMark(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}

func runScriptRun(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cf.register(fs)
	terminal := fs.Bool("terminal", false, "Open the script in a terminal window")
	local := fs.Bool("local", false, "Run in this process instead of the service")
	path, ok := parsePathArgs(fs, args, "Usage: scriptsrunner script run <path> [--terminal] [--local]")
	if !ok {
		return 1
	}

	mode := state.ModeBackground
	if *terminal {
		mode = state.ModeTerminal
	}
	if *local {
		return runScriptLocal(cf, path, mode)
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}
	var outcome dispatch.RunOutcome
	if err := c.do(context.Background(), "POST", "/scripts/run", api.RunRequest{Path: path, Mode: mode}, &outcome); err != nil {
		return reportClientError(err)
	}
	if cf.jsonOut {
		return printJSON(outcome)
	}
	printOutcome(outcome)
	return 0
}

func printOutcome(o dispatch.RunOutcome) {
	name := filepath.Base(o.Path)
	switch o.Decision {
	case queue.DecisionStarted:
		fmt.Printf("%s started (run %s)\n", name, o.RunID)
	case queue.DecisionQueued:
		fmt.Printf("%s queued at position %d\n", name, o.Position)
	case queue.DecisionTerminal:
		fmt.Printf("%s launched in a terminal\n", name)
	default:
		fmt.Printf("%s is already %s; request ignored\n", name, o.Status)
	}
}

// runScriptLocal drives one run through an in-process orchestrator and
// waits for it to be recorded. It shares the service's lock, so it fails
// while the service is up.
func runScriptLocal(cf clientFlags, path string, mode state.Mode) int {
	cfg, err := config.LoadOrDefault(cf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	setupLogging(cfg)

	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg, dispatch.Options{DisableWatch: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.Close()

	outcome, err := rt.orch.Run(ctx, path, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	rt.orch.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	_ = rt.orch.Shutdown(shutdownCtx)

	rec, err := rt.store.Get(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(rec)
	}
	if len(rec.History) == 0 {
		printOutcome(outcome)
		return 0
	}
	last := rec.History[0]
	printEntry(os.Stdout, last, true)
	if last.ExitCode != nil && !last.Success() {
		return 1
	}
	return 0
}

func runScriptAction(action string, args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	cf.register(fs)
	path, ok := parsePathArgs(fs, args, fmt.Sprintf("Usage: scriptsrunner script %s <path>", action))
	if !ok {
		return 1
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}
	var resp api.ActionResponse
	if err := c.do(context.Background(), "POST", "/scripts/"+action, api.PathRequest{Path: path}, &resp); err != nil {
		return reportClientError(err)
	}
	if cf.jsonOut {
		return printJSON(resp)
	}
	if !resp.Done {
		fmt.Printf("%s: nothing to %s (status %s)\n", filepath.Base(path), action, resp.Status)
		return 0
	}
	fmt.Printf("%s: %s ok (status %s)\n", filepath.Base(path), action, resp.Status)
	return 0
}

func runScriptHistory(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	cf.register(fs)
	showOutput := fs.Bool("output", false, "Include captured output")
	path, ok := parsePathArgs(fs, args, "Usage: scriptsrunner script history <path> [--output]")
	if !ok {
		return 1
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}
	var view dispatch.ScriptView
	if err := c.do(context.Background(), "GET", "/scripts/detail?path="+url.QueryEscape(path), nil, &view); err != nil {
		return reportClientError(err)
	}
	if cf.jsonOut {
		return printJSON(view.Record)
	}

	fmt.Printf("%s  runs: %d  status: %s\n", view.Path, view.Record.RunCount, view.Status)
	if len(view.Record.History) == 0 {
		fmt.Println("No history.")
		return 0
	}
	for _, e := range view.Record.History {
		printEntry(os.Stdout, e, *showOutput)
	}
	return 0
}

func printEntry(w *os.File, e state.ExecutionEntry, withOutput bool) {
	d := (time.Duration(e.DurationMs) * time.Millisecond).String()
	if e.ExitCode == nil {
		d = "-"
	}
	fmt.Fprintf(w, "%s  %-10s %-9s %s\n", e.StartedAt.Local().Format("2006-01-02 15:04:05"), entryOutcome(e), d, e.Mode)
	if !withOutput {
		return
	}
	if out := strings.TrimRight(e.Stdout, "\n"); out != "" {
		fmt.Fprintln(w, indent(out))
	}
	if errOut := strings.TrimRight(e.Stderr, "\n"); errOut != "" {
		fmt.Fprintln(w, color.RedString(indent(errOut)))
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

func runScriptClear(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	cf.register(fs)
	path, ok := parsePathArgs(fs, args, "Usage: scriptsrunner script clear <path>")
	if !ok {
		return 1
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}
	var rec state.ScriptRecord
	if err := c.do(context.Background(), "DELETE", "/scripts/history?path="+url.QueryEscape(path), nil, &rec); err != nil {
		return reportClientError(err)
	}
	if cf.jsonOut {
		return printJSON(rec)
	}
	fmt.Printf("%s: history cleared (run count %d kept)\n", filepath.Base(path), rec.RunCount)
	return 0
}
