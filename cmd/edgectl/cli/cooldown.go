package cli

import (
	"context"
	"fmt"
	"io"
	"time"
)

// RateLimitCooldown is how long to wait once the gateway has flagged the
// client for request bursts.
const RateLimitCooldown = 9 * time.Minute

// Cooldown counts down total on w, one line rewrite per tick. It returns early
// when ctx is done.
func Cooldown(ctx context.Context, w io.Writer, total, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for left := total; left > 0; left -= tick {
		fmt.Fprintf(w, "\rrate limited, cooling down: %s remaining ", left.Round(time.Second))
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return
		case <-t.C:
		}
	}
	fmt.Fprintln(w, "\rrate limit cooldown finished                  ")
}
