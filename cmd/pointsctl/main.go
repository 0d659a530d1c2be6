// Command pointsctl is the operator CLI of the Campus Hub points engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/campushub/campus-hub/internal/interface/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand(cli.LoadConfig).ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
