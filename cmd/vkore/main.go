package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// envAPIKey supplies the watch TUI's bearer key when --api-key is absent.
const envAPIKey = "VKORE_API_KEY"

// action is one verb under a noun. help prints the action's usage to stdout.
type action struct {
	name string
	run  func(args []string) int
	help func()
}

type noun struct {
	name    string
	usage   string
	actions []action
}

func (n noun) printHelp(w io.Writer) {
	names := make([]string, len(n.actions))
	for i, a := range n.actions {
		names[i] = a.name
	}
	fmt.Fprintf(w, "Usage: vkore %s %s\n", n.name, n.usage)
	fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
}

func (n noun) dispatch(args []string) int {
	if len(args) == 0 {
		n.printHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		n.printHelp(os.Stdout)
		return 0
	}
	for _, a := range n.actions {
		if a.name != args[0] {
			continue
		}
		if hasHelpFlag(args[1:]) {
			a.help()
			return 0
		}
		return a.run(args[1:])
	}
	fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", n.name, args[0])
	return 1
}

var systemStart = action{name: "start", run: runStart, help: printSystemStartHelp}

func nouns() []noun {
	return []noun{
		{name: "system", usage: "<action>", actions: []action{
			systemStart,
			{name: "watch", run: runWatch, help: printSystemWatchHelp},
		}},
		{name: "module", usage: "<action> [flags]", actions: []action{
			{name: "list", run: runModuleList, help: printModuleListHelp},
			{name: "check", run: runModuleCheck, help: printModuleCheckHelp},
			{name: "inspect", run: runModuleInspect, help: printModuleInspectHelp},
		}},
		{name: "config", usage: "<action> [flags]", actions: []action{
			{name: "check", run: runConfigCheck, help: printConfigCheckHelp},
			{name: "lock", run: runConfigLock, help: printConfigLockHelp},
		}},
	}
}

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) == 0 {
		printUsage()
		return 1
	}
	cmd, args := cliArgs[0], cliArgs[1:]

	for _, n := range nouns() {
		if n.name == cmd {
			return n.dispatch(args)
		}
	}

	switch cmd {
	case "start":
		if hasHelpFlag(args) {
			systemStart.help()
			return 0
		}
		return systemStart.run(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
	printUsage()
	return 1
}

func isHelpToken(token string) bool {
	return token == "help" || hasHelpFlag([]string{token})
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`vkore - pluggable module orchestrator

Usage:
  vkore <noun> <action> [flags]

Nouns:
  system    Orchestrator lifecycle and monitoring
  module    Discovered modules and their dependencies
  config    Service configuration and integrity

  system start      Run the orchestrator in the foreground
  system watch      Live dashboard over the HTTP API

  module list       Show discovered modules
  module check      Check declared dependencies against the registry whitelist
  module inspect    Show dependency installs and launch history for a module

  config check      Validate configuration and module setup
  config lock       Record config.yaml integrity hash in .checksums

Other:
  start             Alias for system start
  version           Show version information (also --version)
  help              Show this help message

Use 'vkore <noun> help' for the actions of a noun.
`)
}

func printSystemStartHelp() {
	fmt.Println("Usage: vkore system start [--config PATH]")
	fmt.Println("Resolve module dependencies, start autostart modules, then launch")
	fmt.Println("interval modules on every scheduler tick until interrupted.")
}

func printSystemWatchHelp() {
	fmt.Printf(`Usage: vkore system watch [--api-url URL] [--api-key KEY]

Live dashboard of orchestrator health, module processes and events.

Flags:
  --api-url URL    vkore API URL (default: http://localhost:8080)
  --api-key KEY    API bearer key (default: $%s)

Keys:
  q, Ctrl+C        Quit
  up/down, k/j     Select process
  l                Launch the selected module now
  r                Refresh processes
`, envAPIKey)
}

func printModuleListHelp() {
	fmt.Println("Usage: vkore module list [--config PATH] [--json]")
	fmt.Println("Show modules discovered under modules_dir, sorted by name.")
}

func printModuleCheckHelp() {
	fmt.Println("Usage: vkore module check [--config PATH] [name...]")
	fmt.Println("Check declared dependencies against the registry whitelist without fetching.")
	fmt.Println("Exits 1 when any checked module would be skipped at startup.")
}

func printModuleInspectHelp() {
	fmt.Println("Usage: vkore module inspect <name> [--config PATH] [--json] [--limit N]")
	fmt.Println("Show dependency installs and recent launches recorded in the state database.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: vkore config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration and module setup. --strict exits 2 on warnings.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: vkore config lock [--config PATH]")
	fmt.Println("Hash config.yaml into .checksums; later loads refuse a modified file.")
}
