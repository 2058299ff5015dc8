// Package notify delivers engine events (settlements, claims, resolutions)
// to operators over one or more channels. Delivery is best-effort; a failed
// send is logged and never propagates into the financial path that raised
// the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/outcomelab/predmarket/internal/domain"
)

// Sender is the interface each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier implements domain.NotificationSink by fanning events out to all
// registered senders. It maintains a set of allowed event kinds; Notify only
// forwards events whose kind is in the allowed set. An empty set allows all
// kinds.
type Notifier struct {
	senders []Sender
	kinds   map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose kind appears in kinds are forwarded; pass an empty slice to
// allow everything.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[strings.TrimSpace(k)] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats and dispatches one engine event. Sender failures are
// collected into the returned error but never stop delivery to the remaining
// senders.
func (n *Notifier) Notify(ctx context.Context, userID, kind string, payload map[string]any) error {
	if len(n.kinds) > 0 && !n.kinds[kind] {
		n.logger.DebugContext(ctx, "notify: event filtered out",
			slog.String("kind", kind),
		)
		return nil
	}

	title := fmt.Sprintf("%s (%s)", kind, userID)
	return n.dispatch(ctx, title, formatPayload(payload))
}

// formatPayload renders a payload map as sorted "key: value" lines so the
// same event always produces the same message body.
func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", k, payload[k])
	}
	return b.String()
}

// dispatch iterates over all senders and sends the notification.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notify: notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Compile-time interface check.
var _ domain.NotificationSink = (*Notifier)(nil)

