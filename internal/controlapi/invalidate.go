package controlapi

import (
	"context"
	"log/slog"
	"time"
)

// notifyCatalogAsync tells the data plane an account's catalog changed.
// It runs detached from the request and retries with exponential backoff;
// the data plane TTL bounds staleness when every attempt fails.
func (a *API) notifyCatalogAsync(log *slog.Logger, accountID string) {
	go func() {
		// Create a context disconnected from the HTTP request.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		const maxRetries = 3

		for i := 0; i <= maxRetries; i++ {
			err := a.invalidator.InvalidateAccount(ctx, accountID)
			if err == nil {
				return
			}

			if i == maxRetries {
				log.Error("failed to publish catalog invalidation after retries",
					slog.String("account_id", accountID),
					slog.String("error", err.Error()))
				return
			}

			log.Warn("failed to publish catalog invalidation, retrying",
				slog.String("account_id", accountID),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return
			case <-time.After(a.retryBaseDelay * time.Duration(1<<i)):
			}
		}
	}()
}
