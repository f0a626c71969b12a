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

// Overridden at build time with -ldflags "-X main.version=...".
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

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
		fmt.Fprintln(os.Stderr, "Usage: vkore version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if !*jsonOut {
		fmt.Printf("vkore %s\ncommit: %s\nbuilt_at: %s\n", info.Version, info.Commit, info.BuildTime)
		return 0
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
		return 1
	}
	return 0
}

// currentVersionInfo prefers ldflags values and falls back to the VCS stamp
// the go tool embeds in module builds.
func currentVersionInfo() versionInfo {
	info := versionInfo{Version: "0.0.0-dev", Commit: "unknown", BuildTime: "unknown"}
	if v := strings.TrimSpace(version); v != "" {
		info.Version = v
	}

	if commit := firstKnown(gitCommit, buildSetting("vcs.revision")); commit != "" {
		info.Commit = shortenCommit(commit)
	}
	if ts, ok := normalizeBuildTimeUTC(firstKnown(buildDate, buildSetting("vcs.time"))); ok {
		info.BuildTime = ts
	}
	return info
}

func firstKnown(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && v != "unknown" {
			return v
		}
	}
	return ""
}

func shortenCommit(commit string) string {
	const width = 12
	if len(commit) > width {
		return commit[:width]
	}
	return commit
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func buildSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
