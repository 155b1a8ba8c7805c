package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/inspect"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/log"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

// openOfflineEngine opens the configured sqlite queue for a one-shot CLI
// command. The engine has no plugins or chains and never ticks; a running
// 'system start' picks the change up on its next tick.
func openOfflineEngine(ctx context.Context, configPath string) (*dispatch.Engine, queue.Store, error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.State.Driver == config.DriverMemory {
		return nil, nil, errors.New("the memory state driver is private to 'relayd system start'; use the HTTP API instead")
	}

	log.SetupWithFormat("error", cfg.Service.LogFormat)

	store, err := openSQLiteStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open queue store: %w", err)
	}
	eng := dispatch.New(store, plugin.NewRegistry(), tag.NewManager(), nil, nil, nil, dispatch.Options{})
	return eng, store, nil
}

func runOpEnqueue(args []string) int {
	positional, rest := splitPositional(args, "config", "file", "leaf")

	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	file := fs.String("file", "", "Read the operation JSON from FILE ('-' for stdin)")
	leaf := fs.String("leaf", "", "Enqueue a leaf whose payload is the JSON string TEXT")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	o, err := readOp(positional, *file, *leaf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: relayd op enqueue [--config PATH] (--file FILE | --leaf TEXT | JSON)")
		return 1
	}

	ctx := context.Background()
	eng, store, err := openOfflineEngine(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	ent, err := eng.Enqueue(ctx, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enqueue failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(inspect.NewNode(ent), "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Enqueued %s (revision %d, state %s)\n", ent.ID, ent.Revision, ent.State)
	}
	return 0
}

// readOp takes the operation from exactly one of a positional JSON document,
// a file, or a leaf shorthand.
func readOp(positional, file, leaf string) (op.Op, error) {
	sources := 0
	for _, s := range []string{positional, file, leaf} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return op.Op{}, errors.New("provide exactly one of --file, --leaf or an operation JSON argument")
	}

	if leaf != "" {
		return op.LeafString(leaf), nil
	}

	var data []byte
	switch {
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return op.Op{}, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return op.Op{}, fmt.Errorf("read %s: %w", file, err)
		}
		data = b
	default:
		data = []byte(positional)
	}

	var o op.Op
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return op.Op{}, fmt.Errorf("invalid operation JSON: %w", err)
	}
	return o, nil
}

func runOpInspect(args []string) int {
	id, rest := splitPositional(args, "config")

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if id == "" {
		fmt.Fprintf(os.Stderr, "Usage: relayd op inspect <op_id> [--config PATH] [--json]\n")
		return 1
	}

	ctx := context.Background()
	eng, store, err := openOfflineEngine(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, eng, op.ID(id))
	} else {
		report, err = inspect.BuildReport(ctx, eng, op.ID(id))
	}
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Operation %s not found\n", id)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(report, "\n"))
	return 0
}
