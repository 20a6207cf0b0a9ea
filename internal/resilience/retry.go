package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Strob0t/flowboard/internal/domain"
)

// RetryStorage runs op with exponential backoff while it fails with
// domain.ErrStorage. Any other error is returned immediately. maxElapsed
// bounds the total time spent; zero means a single attempt.
func RetryStorage(ctx context.Context, name string, maxElapsed time.Duration, op func(context.Context) error) error {
	if maxElapsed <= 0 {
		return op(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, domain.ErrStorage) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "retrying after storage error", "op", name, "error", err, "next", next)
		}),
	)
	return err
}
