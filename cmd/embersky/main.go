// Package main is the entry point for the embersky CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/embersky/xrpc-client/cmd/embersky/commands"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Exit codes.
const (
	exitOK = iota
	exitError
	exitAuth
	exitNetwork
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New()
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch xrpc.Kind(err) {
	case xrpc.KindAuthRequired:
		return exitAuth
	case xrpc.KindNetwork:
		return exitNetwork
	default:
		return exitError
	}
}
