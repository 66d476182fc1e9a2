package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/scriptsrunner/internal/state"
)

func runSettingsShow(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}
	var settings state.Settings
	if err := c.do(context.Background(), "GET", "/settings", nil, &settings); err != nil {
		return reportClientError(err)
	}
	return printSettings(settings, cf.jsonOut)
}

func printSettings(settings state.Settings, jsonOut bool) int {
	if jsonOut {
		return printJSON(settings)
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render settings: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runSettingsSet(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	cf.register(fs)
	flags, pairs := splitFlagsAndPositionals(args, clientTakesValue)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pairs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: scriptsrunner settings set <key>=<value> [...]")
		return 1
	}

	patch, err := parseSettingsPatch(pairs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	c, err := cf.client()
	if err != nil {
		return reportClientError(err)
	}
	var saved state.Settings
	if err := c.do(context.Background(), "PATCH", "/settings", patch, &saved); err != nil {
		return reportClientError(err)
	}
	return printSettings(saved, cf.jsonOut)
}

// parseSettingsPatch turns key=value pairs into a patch. folders takes a
// comma-separated list; profiles are edited through the API only.
func parseSettingsPatch(pairs []string) (state.SettingsPatch, error) {
	var patch state.SettingsPatch
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return patch, fmt.Errorf("expected key=value, got %q", pair)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "max_concurrent", "default_timeout_seconds", "history_limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return patch, fmt.Errorf("%s: %q is not an integer", key, value)
			}
			switch key {
			case "max_concurrent":
				patch.MaxConcurrent = &n
			case "default_timeout_seconds":
				patch.DefaultTimeoutSeconds = &n
			default:
				patch.HistoryLimit = &n
			}
		case "folders":
			var folders []string
			for _, f := range strings.Split(value, ",") {
				f = strings.TrimSpace(f)
				if f == "" {
					continue
				}
				// Relative folders are relative to this shell, not the service.
				if !strings.HasPrefix(f, "~") && !filepath.IsAbs(f) {
					abs, err := filepath.Abs(f)
					if err != nil {
						return patch, fmt.Errorf("folders: %w", err)
					}
					f = abs
				}
				folders = append(folders, f)
			}
			if folders == nil {
				folders = []string{}
			}
			patch.Folders = &folders
		default:
			return patch, fmt.Errorf("unknown setting %q (known: max_concurrent, default_timeout_seconds, history_limit, folders)", key)
		}
	}
	return patch, nil
}
