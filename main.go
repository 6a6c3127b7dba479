package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/go-playback/cmd"
	"github.com/tphakala/go-playback/internal/buildinfo"
)

// buildDate and version are set at build time
var (
	buildDate string
	version   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := buildinfo.New(version, buildDate)
	rootCmd := cmd.RootCommand(info)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
