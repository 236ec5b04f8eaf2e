// edgectl drives bulk property workflows against the CDN configuration API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeops/edgectl/cmd/edgectl/cli"
	"github.com/edgeops/edgectl/internal/client"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand(version)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	if errors.Is(err, client.ErrRateLimited) {
		cli.Cooldown(ctx, os.Stderr, cli.RateLimitCooldown, time.Second)
	}
	stop()
	os.Exit(1)
}
