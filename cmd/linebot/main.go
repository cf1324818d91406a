// Linebot is a LINE Messaging API tool server.
//
// It exposes eighteen tools (messaging, rich menus, Gemini generation,
// MSSQL queries and the gemini_command planner) over the Model Context
// Protocol on stdio, and serves the LINE webhook and an admin console
// over HTTP. Configuration is loaded from a YAML file discovered
// automatically (see [config.DefaultSearchPaths]), layered with
// environment variables and an optional .env file.
//
// Usage:
//
//	linebot mcp                  Serve MCP on stdin/stdout
//	linebot serve                Start the webhook and admin server
//	linebot call <tool> [json]   Invoke one tool and print the result
//	linebot init [dir]           Write an example config and presets
//	linebot version              Print version and build information
//	linebot -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/config"
	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run] so the whole lifecycle can be driven
// from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand rather than
// with the flag package so that run holds no global state and can be
// called concurrently from tests.
//
// In mcp mode stdout carries the protocol, so every log line goes to
// stderr.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "mcp":
		return runMCP(ctx, stdin, stdout, stderr, configPath)
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "call":
		if len(cmdArgs) == 0 {
			return errors.New("usage: linebot call <tool> [json-args]")
		}
		return runCall(ctx, stdout, stderr, configPath, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "linebot - LINE Messaging API tool server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: linebot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  mcp                   Serve MCP tools on stdin/stdout")
	fmt.Fprintln(w, "  serve                 Start the LINE webhook and admin server")
	fmt.Fprintln(w, "  call <tool> [json]    Invoke one tool and print the result")
	fmt.Fprintln(w, "  init [dir]            Write example config and presets (default: .)")
	fmt.Fprintln(w, "  version               Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	fmt.Fprintln(w, "Without a config file the defaults and environment are used.")
	return nil
}

// loadConfig loads .env, then the YAML file, then environment overrides.
// An explicit path must exist; when none is given and no file is found
// in the search paths, defaults plus environment are used. The returned
// path is empty in that case.
func loadConfig(explicit string) (*config.Config, string, error) {
	config.LoadDotEnv()

	var cfg *config.Config
	cfgPath, err := config.FindConfig(explicit)
	switch {
	case err == nil:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, errorsx.Wrap(fmt.Errorf("load config %s: %w", cfgPath, err), errorsx.ReasonConfig)
		}
	case explicit != "":
		return nil, "", errorsx.Wrap(err, errorsx.ReasonConfig)
	default:
		cfg, cfgPath = config.Default(), ""
	}

	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}
