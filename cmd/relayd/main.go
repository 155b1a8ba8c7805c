package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "op":
		os.Exit(runOpNoun(args))
	case "plugin":
		os.Exit(runPluginNoun(args))

	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("relayd version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `relayd - cross-chain relaying operation queue

Usage:
  relayd <noun> <action> [flags]

Core Resources (Nouns):
  system    Engine lifecycle
  config    Configuration and integrity
  op        Queued operations
  plugin    Optimization plugins

System Commands:
  system start          Run the dispatch engine in the foreground

Config Commands:
  config lock           Authorize current state (update integrity hashes)
  config check          Validate syntax, references and integrity
  config show [entity]  Print the resolved configuration
  config get <path>     Print a single configuration value

Op Commands:
  op enqueue            Submit an operation (JSON) to the queue
  op inspect <id>       Show an operation and its children

Plugin Commands:
  plugin list           Show discovered plugins and their capabilities

General:
  version               Show version information
  help                  Show this help message

Use 'relayd <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: relayd system <action>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: relayd system <action>")
		fmt.Println("Actions: start")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd system start [--config PATH]")
			fmt.Println("Run the dispatch engine in the foreground.")
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: relayd config <action> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: relayd config <action> [flags]")
		fmt.Println("Actions: lock, check, show, get")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd config lock [--config PATH] [-v|--verbose] [--dry-run]")
			fmt.Println("Write .checksums next to every file in the include tree.")
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd config check [--config PATH] [--strict] [--json]")
			fmt.Println("Validate configuration, plugin manifests and integrity.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd config show [entity] [--config PATH] [--json]")
			fmt.Println("Show the resolved configuration or one entity (plugin:NAME, chain:NAME).")
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd config get <path> [--config PATH] [--json]")
			fmt.Println("Read a single value from the resolved configuration.")
			return 0
		}
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runOpNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: relayd op <action> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: relayd op <action> [flags]")
		fmt.Println("Actions: enqueue, inspect")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "enqueue":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd op enqueue [--config PATH] (--file FILE | --leaf TEXT | JSON)")
			fmt.Println("Validate an operation and insert it as a fresh root entry.")
			return 0
		}
		return runOpEnqueue(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd op inspect <op_id> [--config PATH] [--json]")
			fmt.Println("Show an operation, its state and its children.")
			return 0
		}
		return runOpInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown op action: %s\n", action)
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: relayd plugin <action>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: relayd plugin <action>")
		fmt.Println("Actions: list")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: relayd plugin list [--config PATH] [--json]")
			fmt.Println("Show discovered plugins, their capabilities and whether config enables them.")
			return 0
		}
		return runPluginList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", action)
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

// splitPositional separates the first non-flag argument from the rest, so
// flags may follow it ('relayd op inspect <id> --json'). valueFlags name the
// flags that consume the next argument.
func splitPositional(args []string, valueFlags ...string) (string, []string) {
	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue["-"+f] = true
		takesValue["--"+f] = true
	}

	var positional string
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case takesValue[arg] && i+1 < len(args):
			rest = append(rest, arg, args[i+1])
			i++
		case positional == "" && !strings.HasPrefix(arg, "-"):
			positional = arg
		default:
			rest = append(rest, arg)
		}
	}
	return positional, rest
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigDir()
}
