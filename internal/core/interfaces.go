package core

import (
	"context"
	"errors"

	"github.com/wisplabs/wisp/internal/domain"
)

// Event is a raw JSON payload delivered to a client.
type Event []byte

// ConnID identifies one live transport connection. A browser opening two
// tabs holds two ConnIDs.
type ConnID string

var (
	// ErrBackpressure reports a full send buffer; the frame is dropped.
	ErrBackpressure = errors.New("backpressure")
	// ErrSubscriptionGone reports that a push endpoint is confirmed dead
	// and must be forgotten.
	ErrSubscriptionGone = errors.New("push subscription gone")
)

// SignalConnection abstracts the realtime transport for one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Event) error
	Close()
}

// PushSender attempts delivery of a payload to a single subscription.
// It reports ErrSubscriptionGone for endpoints that are confirmed dead;
// any other error is transient from the caller's point of view.
type PushSender interface {
	Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error
}

// MemberRef pairs a room member's connection with its display identity.
type MemberRef struct {
	Conn     ConnID
	Identity string
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}
