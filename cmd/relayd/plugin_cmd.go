package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
)

type pluginListing struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Filter      bool   `json:"filter"`
	Process     bool   `json:"process"`
	Enabled     bool   `json:"enabled"`
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	defs, err := plugin.DiscoverMany([]string{cfg.PluginsDir}, func(level, msg string, args ...any) {
		if level == "warn" || level == "error" {
			fmt.Fprintf(os.Stderr, "%s: %s %v\n", level, msg, args)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery error: %v\n", err)
		return 1
	}

	listings := make([]pluginListing, 0, len(defs))
	for _, def := range defs {
		conf, ok := cfg.Plugins[def.Name]
		listings = append(listings, pluginListing{
			Name:        def.Name,
			Version:     def.Version,
			Description: def.Description,
			Path:        def.Path,
			Filter:      def.Capabilities.Filter,
			Process:     def.Capabilities.Process,
			Enabled:     ok && conf.Enabled,
		})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(listings, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(listings) == 0 {
		fmt.Printf("No plugins found in %s\n", cfg.PluginsDir)
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tFILTER\tPROCESS\tENABLED")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\n", l.Name, l.Version, l.Filter, l.Process, l.Enabled)
	}
	_ = tw.Flush()
	return 0
}
