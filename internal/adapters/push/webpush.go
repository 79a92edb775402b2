// Package push delivers notifications to Web Push endpoints over the
// webpush-go client. It is the only code that knows about VAPID or HTTP
// status codes; the core sees success, gone, or transient failure.
package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/core"
	"github.com/wisplabs/wisp/internal/domain"
)

// WebPushSender implements core.PushSender against real push services.
type WebPushSender struct {
	publicKey  string
	privateKey string
	subject    string
	ttl        int
}

// NewWebPushSender builds a sender with the given VAPID key pair. When the
// pair is empty a fresh one is generated; subscriptions then die with the
// process, which matches the ephemeral design.
func NewWebPushSender(publicKey, privateKey, subject string) (*WebPushSender, error) {
	if publicKey == "" || privateKey == "" {
		var err error
		privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("generate VAPID keys: %w", err)
		}
		log.Info().Str("module", "adapters.push").Msg("generated ephemeral VAPID key pair")
	}
	return &WebPushSender{
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		ttl:        60,
	}, nil
}

// PublicKey returns the VAPID public key clients need to subscribe.
func (s *WebPushSender) PublicKey() string { return s.publicKey }

func (s *WebPushSender) Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return core.ErrSubscriptionGone
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("push service responded %d", resp.StatusCode)
	}
	return nil
}
