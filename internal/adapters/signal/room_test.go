package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisplabs/wisp/internal/app"
	"github.com/wisplabs/wisp/internal/core"
	"github.com/wisplabs/wisp/internal/domain"
)

// fakeConn captures every frame the controller sends to one client.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Event
}

func (c *fakeConn) TrySend(e core.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, e)
	return nil
}

func (c *fakeConn) Close() {}

// decoded returns every received frame as a generic JSON object.
func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var v map[string]any
		require.NoError(t, json.Unmarshal(f, &v))
		out = append(out, v)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, v := range c.decoded(t) {
		out = append(out, v["type"].(string))
	}
	return out
}

// pushRecorder counts dispatch attempts per endpoint.
type pushRecorder struct {
	mu       sync.Mutex
	attempts map[string]int
}

func (p *pushRecorder) Send(_ context.Context, sub domain.PushSubscription, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[sub.Endpoint]++
	return nil
}

func (p *pushRecorder) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.attempts {
		n += c
	}
	return n
}

type harness struct {
	ctl      *ChatWSController
	rooms    *app.RoomManager
	notifier *app.Notifier
	pushes   *pushRecorder
	registry *app.Registry
}

func newHarness() *harness {
	rooms := app.NewRoomManager(time.Hour, time.Hour)
	registry := app.NewRegistry()
	pushes := &pushRecorder{attempts: make(map[string]int)}
	notifier := app.NewNotifier(pushes)
	limiter := NewMessageRateLimiter(100, time.Minute)
	return &harness{
		ctl:      NewChatWSController(rooms, registry, notifier, limiter, 0, 32, time.Minute),
		rooms:    rooms,
		notifier: notifier,
		pushes:   pushes,
		registry: registry,
	}
}

// connect binds a fake connection under a fresh conn id.
func (h *harness) connect(id string) (*fakeConn, core.ConnID) {
	conn := &fakeConn{}
	connID := core.ConnID(id)
	h.registry.Bind(connID, conn)
	return conn, connID
}

func (h *harness) event(connID core.ConnID, conn core.SignalConnection, format string, args ...any) {
	h.ctl.handleEvent(context.Background(), connID, conn, fmt.Appendf(nil, format, args...))
}

func TestJoinRoomSendsSnapshotAndNotifiesOthers(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")
	h.rooms.AppendMessage("r1", domain.NewMessage("earlier", "old news"))

	first, firstID := h.connect("c1")
	h.event(firstID, first, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)

	joiner, joinerID := h.connect("c2")
	h.event(joinerID, joiner, `{"type":"joinRoom","roomId":"r1","userId":"bob"}`)

	// The existing member learns about the join.
	frames := first.decoded(t)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "userJoined", last["type"])
	assert.Equal(t, "bob", last["userId"])

	// The joiner gets the user list (including itself) and full history.
	joinerFrames := joiner.decoded(t)
	require.Len(t, joinerFrames, 2)
	assert.Equal(t, "roomUsers", joinerFrames[0]["type"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, joinerFrames[0]["users"])
	assert.Equal(t, "messageHistory", joinerFrames[1]["type"])
	history := joinerFrames[1]["messages"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "old news", history[0].(map[string]any)["content"])
}

func TestJoinRoomGeneratesAnonymousIdentity(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")

	conn, connID := h.connect("c1")
	h.event(connID, conn, `{"type":"joinRoom","roomId":"r1"}`)

	frames := conn.decoded(t)
	require.Len(t, frames, 2)
	users := frames[0]["users"].([]any)
	require.Len(t, users, 1)
	assert.Regexp(t, `^anon-\d{1,4}$`, users[0])
}

func TestJoinRoomMissingRoom(t *testing.T) {
	h := newHarness()
	conn, connID := h.connect("c1")

	h.event(connID, conn, `{"type":"joinRoom","roomId":"nope"}`)

	frames := conn.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "Room not found", frames[0]["message"])
}

func TestSendMessageBroadcastsToAllAndPushesToOthers(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")

	alice, aliceID := h.connect("c1")
	h.event(aliceID, alice, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)
	bob, bobID := h.connect("c2")
	h.event(bobID, bob, `{"type":"joinRoom","roomId":"r1","userId":"bob"}`)

	h.notifier.AddSubscription("alice", domain.PushSubscription{Endpoint: "https://push/alice"})
	h.notifier.AddSubscription("bob", domain.PushSubscription{Endpoint: "https://push/bob"})

	h.event(aliceID, alice, `{"type":"sendMessage","roomId":"r1","content":"hello"}`)

	// Both members, sender included, receive the broadcast.
	for _, conn := range []*fakeConn{alice, bob} {
		frames := conn.decoded(t)
		last := frames[len(frames)-1]
		require.Equal(t, "newMessage", last["type"])
		assert.Equal(t, "alice", last["sender"])
		assert.Equal(t, "hello", last["content"])
		assert.NotEmpty(t, last["id"])
		assert.NotZero(t, last["timestamp"])
	}

	require.Equal(t, "hello", h.rooms.Messages("r1")[0].Content)

	// Dispatch is async: exactly one attempt, against bob only.
	require.Eventually(t, func() bool { return h.pushes.total() == 1 },
		time.Second, 5*time.Millisecond)
	h.pushes.mu.Lock()
	defer h.pushes.mu.Unlock()
	assert.Equal(t, 1, h.pushes.attempts["https://push/bob"])
	assert.Zero(t, h.pushes.attempts["https://push/alice"])
}

// gatedSender blocks delivery until released and records the context state
// seen at delivery time.
type gatedSender struct {
	release chan struct{}

	mu     sync.Mutex
	sent   int
	ctxErr error
}

func (g *gatedSender) Send(ctx context.Context, _ domain.PushSubscription, _ []byte) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent++
	g.ctxErr = ctx.Err()
	return ctx.Err()
}

func TestPushDispatchSurvivesSenderDisconnect(t *testing.T) {
	rooms := app.NewRoomManager(time.Hour, time.Hour)
	registry := app.NewRegistry()
	sender := &gatedSender{release: make(chan struct{})}
	notifier := app.NewNotifier(sender)
	limiter := NewMessageRateLimiter(100, time.Minute)
	ctl := NewChatWSController(rooms, registry, notifier, limiter, 0, 32, time.Minute)

	rooms.CreateRoom("r1")
	alice := &fakeConn{}
	registry.Bind("c1", alice)
	bob := &fakeConn{}
	registry.Bind("c2", bob)

	ctx, cancel := context.WithCancel(context.Background())
	ctl.handleEvent(ctx, "c1", alice, []byte(`{"type":"joinRoom","roomId":"r1","userId":"alice"}`))
	ctl.handleEvent(ctx, "c2", bob, []byte(`{"type":"joinRoom","roomId":"r1","userId":"bob"}`))
	notifier.AddSubscription("bob", domain.PushSubscription{Endpoint: "https://push/bob"})

	ctl.handleEvent(ctx, "c1", alice, []byte(`{"type":"sendMessage","roomId":"r1","content":"hello"}`))

	// The sender's connection goes away while delivery to bob is in flight.
	cancel()
	close(sender.release)

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return sender.sent == 1
	}, time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.NoError(t, sender.ctxErr, "delivery must not observe the sender's cancellation")
}

func TestSendMessageMissingRoom(t *testing.T) {
	h := newHarness()
	conn, connID := h.connect("c1")

	h.event(connID, conn, `{"type":"sendMessage","roomId":"nope","content":"hi"}`)

	frames := conn.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "Room not found", frames[0]["message"])
}

func TestSendMessageNotAMember(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")
	conn, connID := h.connect("c1")

	h.event(connID, conn, `{"type":"sendMessage","roomId":"r1","content":"hi"}`)

	frames := conn.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "Not in room", frames[0]["message"])
}

func TestSendMessageRateLimited(t *testing.T) {
	h := newHarness()
	h.ctl.Limiter = NewMessageRateLimiter(1, time.Minute)
	h.rooms.CreateRoom("r1")

	conn, connID := h.connect("c1")
	h.event(connID, conn, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)

	h.event(connID, conn, `{"type":"sendMessage","roomId":"r1","content":"one"}`)
	h.event(connID, conn, `{"type":"sendMessage","roomId":"r1","content":"two"}`)

	frames := conn.decoded(t)
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "Rate limit exceeded", last["message"])
	assert.Len(t, h.rooms.Messages("r1"), 1)
}

func TestControllerWithoutLimiter(t *testing.T) {
	h := newHarness()
	h.ctl.Limiter = nil
	h.rooms.CreateRoom("r1")

	conn, connID := h.connect("c1")
	h.event(connID, conn, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)
	h.event(connID, conn, `{"type":"sendMessage","roomId":"r1","content":"hi"}`)
	h.ctl.handleDisconnect(connID)

	require.Len(t, h.rooms.Messages("r1"), 1)
	assert.Empty(t, h.rooms.ConnRooms(connID))
}

func TestLeaveRoomNotifiesOthers(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")

	alice, aliceID := h.connect("c1")
	h.event(aliceID, alice, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)
	bob, bobID := h.connect("c2")
	h.event(bobID, bob, `{"type":"joinRoom","roomId":"r1","userId":"bob"}`)

	h.event(bobID, bob, `{"type":"leaveRoom","roomId":"r1"}`)

	frames := alice.decoded(t)
	last := frames[len(frames)-1]
	assert.Equal(t, "userLeft", last["type"])
	assert.Equal(t, "bob", last["userId"])
	assert.Equal(t, []string{"alice"}, h.rooms.Members("r1"))
}

func TestLeaveRoomAsNonMemberIsSilent(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")
	conn, connID := h.connect("c1")

	h.event(connID, conn, `{"type":"leaveRoom","roomId":"r1"}`)
	h.event(connID, conn, `{"type":"leaveRoom","roomId":"nope"}`)

	assert.Empty(t, conn.decoded(t))
}

func TestSubscribeToPushRequiresMembership(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")

	member, memberID := h.connect("c1")
	h.event(memberID, member, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)

	stranger, strangerID := h.connect("c2")

	subJSON := `{"endpoint":"https://push/e","keys":{"p256dh":"p","auth":"a"}}`
	h.event(memberID, member, `{"type":"subscribeToPush","roomId":"r1","subscription":%s}`, subJSON)
	h.event(strangerID, stranger, `{"type":"subscribeToPush","roomId":"r1","subscription":%s}`, subJSON)
	h.event(strangerID, stranger, `{"type":"subscribeToPush","roomId":"nope","subscription":%s}`, subJSON)

	require.Len(t, h.notifier.Subscriptions("alice"), 1)
	assert.Equal(t, "https://push/e", h.notifier.Subscriptions("alice")[0].Endpoint)
	assert.Empty(t, stranger.decoded(t), "non-member subscribe is a silent no-op")
}

func TestDisconnectCleansEveryRoom(t *testing.T) {
	h := newHarness()
	h.rooms.CreateRoom("r1")
	h.rooms.CreateRoom("r2")

	roamer, roamerID := h.connect("c1")
	h.event(roamerID, roamer, `{"type":"joinRoom","roomId":"r1","userId":"alice"}`)
	h.event(roamerID, roamer, `{"type":"joinRoom","roomId":"r2","userId":"alice"}`)

	watcher, watcherID := h.connect("c2")
	h.event(watcherID, watcher, `{"type":"joinRoom","roomId":"r1","userId":"bob"}`)

	h.ctl.handleDisconnect(roamerID)

	assert.Empty(t, h.rooms.ConnRooms(roamerID))
	assert.Equal(t, []string{"bob"}, h.rooms.Members("r1"))

	frames := watcher.decoded(t)
	last := frames[len(frames)-1]
	assert.Equal(t, "userLeft", last["type"])
	assert.Equal(t, "alice", last["userId"])
}

func TestPingPong(t *testing.T) {
	h := newHarness()
	conn, connID := h.connect("c1")

	h.event(connID, conn, `{"type":"ping"}`)

	types := conn.types(t)
	require.Len(t, types, 1)
	assert.Equal(t, "pong", types[0])
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newHarness()
	conn, connID := h.connect("c1")

	h.event(connID, conn, `{"type":"teleport"}`)
	h.event(connID, conn, `not json at all`)

	assert.Empty(t, conn.decoded(t))
}
