// Package notify fans transaction and wallet events out to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Event kinds.
const (
	EventBetPlaced         = "bet_placed"
	EventLiquidityProvided = "liquidity_provided"
	EventWithdrawn         = "withdrawn"
	EventTxFailed          = "tx_failed"
	EventWalletConnected   = "wallet_connected"
	EventSyncFailed        = "sync_failed"
)

// Event is one notification. Fields are rendered as "key: value" lines in
// key order.
type Event struct {
	Kind   string
	Title  string
	Fields map[string]string
}

// Body renders the event's fields.
func (e Event) Body() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", k, e.Fields[k])
	}
	return b.String()
}

// Sender delivers a rendered notification to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers events to every sender, filtered by kind.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every kind.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether kind passes the filter and any sender is set.
func (n *Notifier) Enabled(kind string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[kind]
}

// Notify delivers ev. A failing sender does not stop delivery to the rest;
// their errors are joined. A nil Notifier is a no-op.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if !n.Enabled(ev.Kind) {
		return nil
	}

	title, body := ev.Title, ev.Body()
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", ev.Kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Kind),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
