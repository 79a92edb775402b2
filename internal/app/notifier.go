package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/wisplabs/wisp/internal/core"
	"github.com/wisplabs/wisp/internal/domain"
)

// Notifier keeps push subscriptions per identity and performs best-effort
// delivery. Push is a side channel: nothing here may fail or block the
// message-send path that triggered it.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string][]domain.PushSubscription
	sender core.PushSender
}

func NewNotifier(sender core.PushSender) *Notifier {
	return &Notifier{
		subs:   make(map[string][]domain.PushSubscription),
		sender: sender,
	}
}

// AddSubscription appends sub to identity's list. No dedup by endpoint; a
// client re-subscribing registers twice and will receive duplicate pushes.
func (n *Notifier) AddSubscription(identity string, sub domain.PushSubscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[identity] = append(n.subs[identity], sub)
	log.Info().Str("module", "app.notifier").Str("identity", identity).Str("endpoint", sub.Endpoint).Msg("subscription added")
}

// RemoveSubscription drops every subscription of identity whose endpoint
// matches. The identity entry itself is removed when its list empties.
func (n *Notifier) RemoveSubscription(identity, endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	current, ok := n.subs[identity]
	if !ok {
		return
	}
	kept := current[:0]
	for _, sub := range current {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(n.subs, identity)
	} else {
		n.subs[identity] = kept
	}
	log.Info().Str("module", "app.notifier").Str("identity", identity).Str("endpoint", endpoint).Msg("subscription removed")
}

// Subscriptions returns a snapshot of identity's subscriptions in
// registration order.
func (n *Notifier) Subscriptions(identity string) []domain.PushSubscription {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]domain.PushSubscription, len(n.subs[identity]))
	copy(out, n.subs[identity])
	return out
}

// Dispatch attempts delivery of payload to every subscription on file for
// identity, concurrently, and returns once all attempts have settled.
// A gone endpoint is deregistered; a transient failure is logged and the
// subscription retained with no retry. Dispatch never reports failure:
// callers fire it in its own goroutine and move on.
func (n *Notifier) Dispatch(ctx context.Context, identity string, payload domain.PushPayload) {
	targets := n.Subscriptions(identity)
	if len(targets) == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.notifier").Msg("marshal push payload")
		return
	}

	var wg conc.WaitGroup
	for _, sub := range targets {
		wg.Go(func() {
			err := n.sender.Send(ctx, sub, body)
			switch {
			case err == nil:
			case errors.Is(err, core.ErrSubscriptionGone):
				n.RemoveSubscription(identity, sub.Endpoint)
				log.Info().Str("module", "app.notifier").Str("identity", identity).Str("endpoint", sub.Endpoint).Msg("pruned dead subscription")
			default:
				log.Warn().Err(err).Str("module", "app.notifier").Str("identity", identity).Str("endpoint", sub.Endpoint).Msg("push delivery failed")
			}
		})
	}
	wg.Wait()
}
