package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs message handling and its outcome.
// Successful dispatches log at Debug to keep steady-state output quiet;
// failures log at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, msg any, next Handler) error {
		kind := Kind(msg)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("event handling failed",
				slog.String("message", kind),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("event handled",
				slog.String("message", kind),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
