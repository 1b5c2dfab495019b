package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// waitForDatabase polls the administrative database until it answers a
// trivial query or the attempts run out.
func (r *Runner) waitForDatabase(ctx context.Context) error {
	target := r.adminTarget(r.cfg.Bootstrap.AdminDB)
	db, err := r.conn(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnreachable, err)
	}

	attempts := max(r.cfg.Bootstrap.WaitAttempts, 1)
	delay := time.Duration(r.cfg.Bootstrap.WaitDelay)
	if delay <= 0 {
		delay = time.Second
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var one int
		if err := db.GetContext(ctx, &one, "SELECT 1"); err != nil {
			slog.Info("waiting for database",
				"component", "bootstrap",
				"action", "wait_retry",
				"target", target.String(),
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrDatabaseUnreachable, target, attempt, err)
	}
	return nil
}
