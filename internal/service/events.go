// Package service implements the engine's business operations over the
// domain store interfaces: commit-reveal predictions, AMM trading, market
// administration, oracle consensus, disputes, and settlement.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/outcomelab/predmarket/internal/domain"
)

// publishEvent sends a JSON payload to the signal bus. Bus failures are
// logged and swallowed; they never abort the financial path.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel string, payload map[string]any) {
	if bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.WarnContext(ctx, "event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channel, data); err != nil {
		logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// notifyUser forwards a fire-and-forget notification. Sink failures are
// logged and swallowed.
func notifyUser(ctx context.Context, sink domain.NotificationSink, logger *slog.Logger, userID, kind string, payload map[string]any) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, userID, kind, payload); err != nil {
		logger.WarnContext(ctx, "notification failed",
			slog.String("user_id", userID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
