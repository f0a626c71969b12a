package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/depresolve"
	"github.com/mattjoyce/vkore/internal/inspect"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okMark      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	failMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("✗")
)

type moduleListEntry struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Version      string   `json:"version"`
	Credit       string   `json:"credit"`
	Autostart    bool     `json:"autostart"`
	Interval     bool     `json:"interval"`
	Dependencies []string `json:"dependencies"`
	Command      []string `json:"command"`
}

// loadConfigForTool resolves and loads the config for one-shot commands.
func loadConfigForTool(configPath string) (*config.Config, error) {
	resolved, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
}

// discoverForTool runs module discovery, printing rejected modules to stderr.
func discoverForTool(cfg *config.Config) (*module.Registry, error) {
	descs, err := module.Discover(cfg.ModulesDir, cfg.Runtimes, func(level, msg string, args ...any) {
		if level != "warn" && level != "error" {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %s%s\n", level, msg, formatAttrs(args))
	})
	if err != nil {
		return nil, err
	}
	return module.NewRegistry(descs), nil
}

func formatAttrs(args []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

func runModuleList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := discoverForTool(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Module discovery error: %v\n", err)
		return 1
	}

	entries := make([]moduleListEntry, 0, registry.Len())
	for _, d := range registry.All() {
		entries = append(entries, moduleListEntry{
			Name:         d.Name,
			DisplayName:  d.DisplayName,
			Version:      d.Version,
			Credit:       d.Credit(),
			Autostart:    d.Autostart,
			Interval:     d.Interval,
			Dependencies: d.DependencyNames(),
			Command:      d.Command(),
		})
	}

	if *jsonOut {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Printf("No modules found in %s\n", cfg.ModulesDir)
		return 0
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Headers("NAME", "VERSION", "AUTOSTART", "INTERVAL", "DEPENDENCIES", "CREDIT")
	for _, e := range entries {
		deps := strings.Join(e.Dependencies, ", ")
		if deps == "" {
			deps = "-"
		}
		t.Row(e.Name, e.Version, yesNo(e.Autostart), yesNo(e.Interval), deps, e.Credit)
	}
	fmt.Println(t.Render())
	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func runModuleCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	flagArgs, names := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := discoverForTool(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Module discovery error: %v\n", err)
		return 1
	}

	targets := registry.All()
	if len(names) > 0 {
		targets = targets[:0]
		for _, name := range names {
			d, ok := registry.Get(name)
			if !ok {
				fmt.Fprintf(os.Stderr, "Unknown module: %s\n", name)
				return 1
			}
			targets = append(targets, d)
		}
	}

	resolver := depresolve.New(
		depresolve.NewHTTPWhitelist(cfg.Registry.URL, cfg.Registry.Timeout),
		depresolve.NewGitFetcher(),
		cfg.DependenciesDir,
		nil,
		nil,
	)

	ctx := context.Background()
	failed := 0
	for _, d := range targets {
		if len(d.Dependencies) == 0 {
			fmt.Printf("%s %s (no dependencies)\n", okMark, d.Name)
			continue
		}
		if err := resolver.Check(ctx, d); err != nil {
			failed++
			fmt.Printf("%s %s: %v\n", failMark, d.Name, err)
			continue
		}
		missing := resolver.Missing(d)
		if len(missing) == 0 {
			fmt.Printf("%s %s (%d dependencies installed)\n", okMark, d.Name, len(d.Dependencies))
			continue
		}
		pending := make([]string, 0, len(missing))
		for _, dep := range missing {
			pending = append(pending, dep.Name)
		}
		fmt.Printf("%s %s (whitelisted, will fetch: %s)\n", okMark, d.Name, strings.Join(pending, ", "))
	}

	if failed > 0 {
		fmt.Printf("\n%d of %d module(s) would be skipped\n", failed, len(targets))
		return 1
	}
	return 0
}

func runModuleInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("limit", 10, "Number of launches to show")
	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{
		"--config": true, "-config": true, "--limit": true, "-limit": true,
	})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: vkore module inspect <name> [--config PATH] [--json] [--limit N]")
		return 1
	}
	name := positionals[0]

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := discoverForTool(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Module discovery error: %v\n", err)
		return 1
	}
	d, ok := registry.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown module: %s\n", name)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	opts := inspect.Options{DependenciesDir: cfg.DependenciesDir, Limit: *limit}
	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, db, d, opts)
	} else {
		out, err = inspect.BuildReport(ctx, db, d, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build report: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return 0
}

// splitFlagsAndPositionals lets positionals appear before flags, which the
// flag package alone does not allow.
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
