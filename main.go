package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hrconsole/notifyd/cmd"
	"github.com/hrconsole/notifyd/internal/app"
	"github.com/hrconsole/notifyd/internal/buildinfo"
)

// version and buildDate are set at build time with -ldflags "-X main.version=..."
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx, err := app.NewContext(buildinfo.NewContext(version, buildDate))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing: %v\n", err)
		return 1
	}

	rootCmd, err := cmd.RootCommand(appCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating commands: %v\n", err)
		return 1
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
