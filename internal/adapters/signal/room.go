package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/core"
	"github.com/wisplabs/wisp/internal/domain"
)

// broadcastRoom fans v out to every current member's connection, skipping
// except when set. Delivery is fire-and-forget; slow clients drop frames.
func (ctl *ChatWSController) broadcastRoom(roomID domain.RoomID, except core.ConnID, v any) {
	for _, ref := range ctl.Rooms.MembersSnapshot(roomID) {
		if ref.Conn == except {
			continue
		}
		if conn, ok := ctl.Registry.Get(ref.Conn); ok {
			ctl.sendJSON(conn, v)
		}
	}
}

func (ctl *ChatWSController) handleJoin(connID core.ConnID, conn core.SignalConnection, data []byte) {
	var p struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		UserID string `json:"userId,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "Bad payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	identity, ok := ctl.Rooms.AddMember(roomID, connID, p.UserID)
	if !ok {
		ctl.sendError(conn, "Room not found")
		return
	}

	ctl.broadcastRoom(roomID, connID, struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}{"userJoined", identity})

	// The joiner's own entry is already in the snapshot.
	ctl.sendJSON(conn, struct {
		Type  string   `json:"type"`
		Users []string `json:"users"`
	}{"roomUsers", ctl.Rooms.Members(roomID)})

	ctl.sendJSON(conn, struct {
		Type     string           `json:"type"`
		Messages []domain.Message `json:"messages"`
	}{"messageHistory", ctl.Rooms.Messages(roomID)})

	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", p.RoomID).Str("identity", identity).Msg("joined room")
}

func (ctl *ChatWSController) handleLeave(connID core.ConnID, conn core.SignalConnection, data []byte) {
	var p struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	identity, ok := ctl.Rooms.RemoveMember(roomID, connID)
	if !ok {
		// Absent room or non-member: silent no-op.
		return
	}

	ctl.broadcastRoom(roomID, connID, struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}{"userLeft", identity})

	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", p.RoomID).Str("identity", identity).Msg("left room")
}

func (ctl *ChatWSController) handleSend(ctx context.Context, connID core.ConnID, conn core.SignalConnection, data []byte) {
	var p struct {
		Type    string `json:"type"`
		RoomID  string `json:"roomId"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad send payload")
		ctl.sendError(conn, "Bad payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	if !ctl.Rooms.RoomExists(roomID) {
		ctl.sendError(conn, "Room not found")
		return
	}
	identity, ok := ctl.Rooms.MemberIdentity(roomID, connID)
	if !ok {
		ctl.sendError(conn, "Not in room")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(connID) {
		ctl.sendError(conn, "Rate limit exceeded")
		return
	}

	msg := domain.NewMessage(identity, p.Content)
	ctl.Rooms.AppendMessage(roomID, msg)

	// Everyone in the room gets the message, sender included: the sender's
	// client renders its own message from this broadcast, not a local echo.
	ctl.broadcastRoom(roomID, "", struct {
		Type string `json:"type"`
		domain.Message
	}{"newMessage", msg})

	// Push is a side channel for the others; never block or fail the send
	// path on it. In-flight deliveries are never cancelled, not even by the
	// sender's own disconnect, so detach before fanning out.
	dispatchCtx := context.WithoutCancel(ctx)
	payload := domain.MessagePreview(identity, p.Content)
	for _, ref := range ctl.Rooms.MembersSnapshot(roomID) {
		if ref.Identity == identity {
			continue
		}
		go ctl.Notifier.Dispatch(dispatchCtx, ref.Identity, payload)
	}
}

func (ctl *ChatWSController) handleSubscribe(connID core.ConnID, conn core.SignalConnection, data []byte) {
	var p struct {
		Type         string                  `json:"type"`
		RoomID       string                  `json:"roomId"`
		Subscription domain.PushSubscription `json:"subscription"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad subscribe payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	identity, ok := ctl.Rooms.MemberIdentity(roomID, connID)
	if !ok {
		// Absent room or non-member: silent no-op.
		return
	}
	ctl.Notifier.AddSubscription(identity, p.Subscription)
	log.Info().Str("module", "signal").Str("identity", identity).Msg("subscribed to push")
}

// handleDisconnect removes the connection from every room it joined,
// emitting userLeft per room. Each membership is cleaned independently.
func (ctl *ChatWSController) handleDisconnect(connID core.ConnID) {
	for _, roomID := range ctl.Rooms.ConnRooms(connID) {
		identity, ok := ctl.Rooms.RemoveMember(roomID, connID)
		if !ok {
			continue
		}
		ctl.broadcastRoom(roomID, connID, struct {
			Type   string `json:"type"`
			UserID string `json:"userId"`
		}{"userLeft", identity})
		log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", string(roomID)).Str("identity", identity).Msg("disconnected from room")
	}
}
