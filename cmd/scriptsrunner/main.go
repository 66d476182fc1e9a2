package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "script":
		return runScriptNoun(args)
	case "settings":
		return runSettingsNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "watch":
		if hasHelpFlag(args) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: scriptsrunner version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("scriptsrunner %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`scriptsrunner - run shell scripts from watched folders with bounded concurrency

Usage:
  scriptsrunner <noun> <action> [flags]

Resources (Nouns):
  system    Service lifecycle and health
  config    Configuration checks
  script    Discovered scripts, runs and history
  settings  Durable runtime settings

System Commands:
  system start           Start the service in the foreground
  system status          Show config, database, lock and API health
  system watch           Real-time monitoring TUI

Config Commands:
  config check           Validate configuration and environment (alias: doctor)
  config show            Print the resolved configuration

Script Commands:
  script list            List scripts with their status
  script run <path>      Run a script (--terminal, --local)
  script cancel <path>   Kill a running script
  script reset <path>    Force a stuck script back to idle
  script dequeue <path>  Remove a script from the queue
  script history <path>  Show recent executions
  script clear <path>    Clear a script's history

Settings Commands:
  settings show          Print the stored settings
  settings set k=v ...   Update settings (max_concurrent, default_timeout_seconds,
                         history_limit, folders)

General:
  --version              Show version information
  version                Show version information
  help                   Show this help message

Use 'scriptsrunner <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runScriptNoun(args []string) int {
	if len(args) < 1 {
		printScriptNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printScriptNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		printScriptActionHelp(action)
		return 0
	}

	switch action {
	case "list":
		return runScriptList(actionArgs)
	case "run":
		return runScriptRun(actionArgs)
	case "cancel", "reset", "dequeue":
		return runScriptAction(action, actionArgs)
	case "history":
		return runScriptHistory(actionArgs)
	case "clear":
		return runScriptClear(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown script action: %s\n", action)
		return 1
	}
}

func runSettingsNoun(args []string) int {
	if len(args) < 1 {
		printSettingsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSettingsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		return runSettingsShow(actionArgs)
	case "set":
		return runSettingsSet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown settings action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: scriptsrunner system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: scriptsrunner config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printScriptNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: scriptsrunner script <action> [flags]")
	fmt.Fprintln(w, "Actions: list, run, cancel, reset, dequeue, history, clear")
}

func printSettingsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: scriptsrunner settings <action> [flags]")
	fmt.Fprintln(w, "Actions: show, set")
}

func printSystemStartHelp() {
	fmt.Println("Usage: scriptsrunner system start [--config PATH]")
	fmt.Println("Start the service in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: scriptsrunner system status [--config PATH] [--json]")
	fmt.Println("Show config, database readiness, PID lock state and API health.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: scriptsrunner system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI: scripts, live output and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH    Configuration file (API address and key)")
	fmt.Println("  --api-url URL    Service API URL (default: from config)")
	fmt.Println("  --api-key KEY    API key (or SCRIPTSRUNNER_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  ↑/↓, k/j         Select script")
	fmt.Println("  enter, r         Run in background")
	fmt.Println("  t                Run in a terminal window")
	fmt.Println("  c / x / d        Cancel / force reset / dequeue")
	fmt.Println("  R                Rescan folders")
	fmt.Println("  q, Ctrl+C        Quit")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: scriptsrunner config check [--config PATH] [--format human|json] [--strict]")
	fmt.Println("Validate configuration, folders, profiles, commands and the state location.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: scriptsrunner config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration. The API key is masked.")
}

func printScriptActionHelp(action string) {
	switch action {
	case "list":
		fmt.Println("Usage: scriptsrunner script list [--tag TAG] [--favorites] [--json]")
	case "run":
		fmt.Println("Usage: scriptsrunner script run <path> [--terminal] [--local] [--json]")
		fmt.Println("--local runs in this process instead of the service and waits for the result.")
	case "history":
		fmt.Println("Usage: scriptsrunner script history <path> [--json]")
	default:
		fmt.Printf("Usage: scriptsrunner script %s <path>\n", action)
	}
	fmt.Println("Common flags: --config PATH, --api-url URL, --api-key KEY")
}
