package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set by goreleaser at build time.
var version = "dev"

const usage = `usage: a2abridge [command] [flags]

commands:
  serve   run the agent's A2A server (default)
  send    send a message to a running agent and wait for the task
  init    register the agent as an MCP server in .mcp.json

Run 'a2abridge <command> --help' for the flags of a command.`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "--version", "-version", "version":
			fmt.Fprintln(stdout, version)
			return nil
		case "--help", "-h", "help":
			fmt.Fprintln(stdout, usage)
			return nil
		case "serve", "send", "init":
			cmd, args = args[0], args[1:]
		}
	}

	switch cmd {
	case "send":
		return runSend(ctx, args, stdout)
	case "init":
		return runInit(args, stdout)
	default:
		return runServe(ctx, args)
	}
}
