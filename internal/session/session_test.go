package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fluxchat/fluxchat/internal/protocol"
	"github.com/fluxchat/fluxchat/internal/registry"
	"github.com/fluxchat/fluxchat/internal/repositories"
	"github.com/fluxchat/fluxchat/internal/storage"
	"github.com/fluxchat/fluxchat/pkg/logger"
	"github.com/fluxchat/fluxchat/pkg/utils"
)

const testTimeout = 5 * time.Second

type testEnv struct {
	repos *repositories.Set
	reg   *registry.Registry
	log   *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	utils.SetJWTSecret("test-secret")

	db, err := storage.InitSQLite(":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every gorm session on the same in-memory
	// database.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return &testEnv{
		repos: repositories.NewSet(db, nil),
		reg:   registry.New(),
		log:   &logger.Logger{Logger: zap.NewNop()},
	}
}

// testClient is one end of a net.Pipe with a session running on the
// other end. A reader goroutine drains the pipe (net.Pipe writes block
// until read) and delivers parsed frames on a channel.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	frames chan protocol.Message
}

func dial(t *testing.T, env *testEnv) *testClient {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	// Timer intervals are long so tests only see request/response traffic.
	sess := New(serverConn, env.repos, env.reg, Config{
		HeartbeatInterval: time.Hour,
		MaxMissed:         3,
		PresenceInterval:  time.Hour,
	}, env.log)
	go sess.Run()

	c := &testClient{t: t, conn: clientConn, frames: make(chan protocol.Message, 64)}
	go c.readLoop()
	t.Cleanup(func() {
		clientConn.Close()
		sess.Close()
	})
	return c
}

func (c *testClient) readLoop() {
	var ex protocol.Extractor
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, frame := range ex.Feed(buf[:n]) {
				if msg, perr := protocol.Parse(frame); perr == nil {
					c.frames <- msg
				}
			}
		}
		if err != nil {
			close(c.frames)
			return
		}
	}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	data, err := msg.Encode()
	require.NoError(c.t, err)
	c.sendRaw(data)
}

func (c *testClient) sendRaw(data []byte) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

// expect returns the next frame of the given type, skipping
// server-initiated heartbeat and presence traffic.
func (c *testClient) expect(msgType string) protocol.Message {
	c.t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case msg, ok := <-c.frames:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %q", msgType)
			}
			switch msg.Type() {
			case protocol.TypePing, protocol.TypeFriendsStatusUpdate:
				continue
			}
			require.Equal(c.t, msgType, msg.Type(), "unexpected frame %v", msg)
			return msg
		case <-deadline:
			c.t.Fatalf("timed out waiting for %q", msgType)
		}
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("timed out waiting for connection close")
		}
	}
}

func (c *testClient) register(username string) {
	c.t.Helper()
	c.send(protocol.Message{
		"type":     protocol.TypeRegister,
		"username": username,
		"password": "password123",
	})
	resp := c.expect(protocol.TypeRegisterResponse)
	require.Equal(c.t, "success", resp.String("status"))
}

// login authenticates and drains the post-login frames, returning the
// assigned user id.
func (c *testClient) login(username string) uint {
	c.t.Helper()
	c.send(protocol.Message{
		"type":     protocol.TypeLogin,
		"username": username,
		"password": "password123",
	})
	resp := c.expect(protocol.TypeLoginResponse)
	require.Equal(c.t, "success", resp.String("status"))
	c.expect(protocol.TypeUnreadFrom)
	c.expect(protocol.TypeFriendsListResponse)
	return resp.UserID("userId")
}

func TestSession_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)

	c.send(protocol.Message{"type": protocol.TypeGetFriendsList})
	resp := c.expect(protocol.TypeError)
	assert.Equal(t, "Not authenticated", resp.String("message"))
}

func TestSession_MalformedFrame(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)

	c.sendRaw([]byte(`{"type": }`))
	resp := c.expect(protocol.TypeError)
	assert.Equal(t, "Invalid message format", resp.String("message"))

	// The connection survives a bad frame.
	c.send(protocol.Message{"type": protocol.TypePing, "timestamp": int64(42)})
	pong := c.expect(protocol.TypePong)
	assert.Equal(t, 42, pong.Int("timestamp"))
}

func TestSession_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)
	c.register("alice")

	c.send(protocol.Message{
		"type":     protocol.TypeLogin,
		"username": "alice",
		"password": "password123",
	})

	// Login response, unread summary, friends list, in that order.
	resp := c.expect(protocol.TypeLoginResponse)
	assert.Equal(t, "success", resp.String("status"))
	assert.NotZero(t, resp.UserID("userId"))
	assert.NotEmpty(t, resp.String("token"))
	c.expect(protocol.TypeUnreadFrom)
	c.expect(protocol.TypeFriendsListResponse)
}

func TestSession_LoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)
	c.register("alice")

	c.send(protocol.Message{
		"type":     protocol.TypeLogin,
		"username": "alice",
		"password": "wrong-password",
	})
	resp := c.expect(protocol.TypeError)
	assert.Equal(t, "Invalid username or password", resp.String("message"))

	c.send(protocol.Message{
		"type":     protocol.TypeLogin,
		"username": "nobody",
		"password": "password123",
	})
	resp = c.expect(protocol.TypeError)
	assert.Equal(t, "Invalid username or password", resp.String("message"))
}

func TestSession_LoginTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)
	c.register("alice")
	c.login("alice")

	c.send(protocol.Message{
		"type":     protocol.TypeLogin,
		"username": "alice",
		"password": "password123",
	})
	resp := c.expect(protocol.TypeError)
	assert.Equal(t, "Already authenticated", resp.String("message"))
}

func TestSession_UnknownType(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)
	c.register("alice")
	c.login("alice")

	c.send(protocol.Message{"type": "make_coffee"})
	resp := c.expect(protocol.TypeError)
	assert.Equal(t, "Unknown message type", resp.String("message"))
}

func TestSession_OnlineMessageDelivery(t *testing.T) {
	env := newTestEnv(t)

	alice := dial(t, env)
	alice.register("alice")
	alice.login("alice")

	bob := dial(t, env)
	bob.register("bob")
	bobID := bob.login("bob")

	alice.send(protocol.Message{
		"type":        protocol.TypeSendMessage,
		"receiver_id": bobID,
		"content":     "hello bob",
	})

	ack := alice.expect(protocol.TypeMessageAck)
	assert.Equal(t, "success", ack.String("status"))
	assert.NotZero(t, ack.Int("message_id"))

	pushed := bob.expect(protocol.TypeNewMessages)
	assert.Equal(t, "hello bob", pushed.String("content"))
	assert.NotZero(t, pushed.UserID("from"))
}

func TestSession_OfflineMessageStored(t *testing.T) {
	env := newTestEnv(t)

	bob := dial(t, env)
	bob.register("bob")
	bobID := bob.login("bob")
	bob.send(protocol.Message{"type": protocol.TypeLogout})
	bob.expect(protocol.TypeLogoutResponse)

	alice := dial(t, env)
	alice.register("alice")
	aliceID := alice.login("alice")

	alice.send(protocol.Message{
		"type":        protocol.TypeSendMessage,
		"receiver_id": bobID,
		"content":     "read this later",
	})
	alice.expect(protocol.TypeMessageAck)

	// The recipient finds the message in the unread summary on next login.
	bob2 := dial(t, env)
	bob2.send(protocol.Message{
		"type":     protocol.TypeLogin,
		"username": "bob",
		"password": "password123",
	})
	bob2.expect(protocol.TypeLoginResponse)
	unread := bob2.expect(protocol.TypeUnreadFrom)
	entries, ok := unread["unread"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	entry, ok := entries[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(aliceID), entry["user_id"])
	assert.Equal(t, float64(1), entry["count"])
}

func TestSession_SplitAndCoalescedFrames(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)

	// Two frames in one write.
	first, err := protocol.Message{"type": protocol.TypePing, "timestamp": int64(1)}.Encode()
	require.NoError(t, err)
	second, err := protocol.Message{"type": protocol.TypePing, "timestamp": int64(2)}.Encode()
	require.NoError(t, err)
	c.sendRaw(append(first, second...))
	assert.Equal(t, 1, c.expect(protocol.TypePong).Int("timestamp"))
	assert.Equal(t, 2, c.expect(protocol.TypePong).Int("timestamp"))

	// One frame split across writes.
	third, err := protocol.Message{"type": protocol.TypePing, "timestamp": int64(3)}.Encode()
	require.NoError(t, err)
	c.sendRaw(third[:len(third)/2])
	c.sendRaw(third[len(third)/2:])
	assert.Equal(t, 3, c.expect(protocol.TypePong).Int("timestamp"))
}

func TestSession_DuplicateLoginEvictsPrior(t *testing.T) {
	env := newTestEnv(t)

	first := dial(t, env)
	first.register("alice")
	first.login("alice")

	second := dial(t, env)
	second.login("alice")

	evicted := first.expect(protocol.TypeError)
	assert.Equal(t, "Logged in from another location", evicted.String("message"))
	first.expectClosed()

	// The surviving session still works.
	second.send(protocol.Message{"type": protocol.TypeGetFriendsList})
	second.expect(protocol.TypeFriendsListResponse)
}

func TestSession_LogoutKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	c := dial(t, env)
	c.register("alice")
	c.login("alice")

	c.send(protocol.Message{"type": protocol.TypeLogout})
	resp := c.expect(protocol.TypeLogoutResponse)
	assert.Equal(t, "success", resp.String("status"))

	// Back to the unauthenticated state, on the same connection.
	c.send(protocol.Message{"type": protocol.TypeGetFriendsList})
	errResp := c.expect(protocol.TypeError)
	assert.Equal(t, "Not authenticated", errResp.String("message"))

	c.login("alice")
}

func TestSession_FriendRequestFlow(t *testing.T) {
	env := newTestEnv(t)

	alice := dial(t, env)
	alice.register("alice")
	alice.login("alice")

	bob := dial(t, env)
	bob.register("bob")
	bobID := bob.login("bob")

	alice.send(protocol.Message{"type": protocol.TypeAddFriendRequest, "user_id": bobID})
	resp := alice.expect(protocol.TypeAddFriendResponse)
	assert.Equal(t, "success", resp.String("status"))

	received := bob.expect(protocol.TypeFriendRequestReceived)
	assert.Equal(t, "alice", received.String("username"))
	requestID := received.UserID("request_id")
	require.NotZero(t, requestID)

	// A repeat request is reported as already pending.
	alice.send(protocol.Message{"type": protocol.TypeAddFriendRequest, "user_id": bobID})
	dup := alice.expect(protocol.TypeInvitationAlreadyExists)
	assert.Equal(t, "bob", dup.String("username"))

	bob.send(protocol.Message{"type": protocol.TypeFriendRequestAccept, "request_id": requestID})
	accept := bob.expect(protocol.TypeFriendRequestAcceptResp)
	assert.Equal(t, "success", accept.String("status"))
	bobList := bob.expect(protocol.TypeFriendsListResponse)
	friends, ok := bobList["friends"].([]any)
	require.True(t, ok)
	require.Len(t, friends, 1)

	// Sender gets the notification plus a refreshed friends list.
	ntf := alice.expect(protocol.TypeFriendRequestAcceptedNtf)
	assert.Equal(t, "bob", ntf.String("username"))
	aliceList := alice.expect(protocol.TypeFriendsListResponse)
	friends, ok = aliceList["friends"].([]any)
	require.True(t, ok)
	require.Len(t, friends, 1)
}

func TestSession_CancelFriendRequest(t *testing.T) {
	env := newTestEnv(t)

	alice := dial(t, env)
	alice.register("alice")
	alice.login("alice")

	bob := dial(t, env)
	bob.register("bob")
	bobID := bob.login("bob")

	alice.send(protocol.Message{"type": protocol.TypeAddFriendRequest, "user_id": bobID})
	alice.expect(protocol.TypeAddFriendResponse)
	received := bob.expect(protocol.TypeFriendRequestReceived)
	requestID := received.UserID("request_id")

	alice.send(protocol.Message{"type": protocol.TypeCancelFriendRequest, "request_id": requestID})
	resp := alice.expect(protocol.TypeCancelFriendRequestResp)
	assert.Equal(t, "success", resp.String("status"))

	cancelled := bob.expect(protocol.TypeFriendRequestCancelled)
	assert.Equal(t, requestID, cancelled.UserID("request_id"))

	// Cancelled requests can no longer be accepted.
	bob.send(protocol.Message{"type": protocol.TypeFriendRequestAccept, "request_id": requestID})
	accept := bob.expect(protocol.TypeFriendRequestAcceptResp)
	assert.Equal(t, "error", accept.String("status"))
}

func TestSession_HeartbeatTimeout(t *testing.T) {
	env := newTestEnv(t)

	clientConn, serverConn := net.Pipe()
	sess := New(serverConn, env.repos, env.reg, Config{
		HeartbeatInterval: 20 * time.Millisecond,
		MaxMissed:         3,
		PresenceInterval:  time.Hour,
	}, env.log)

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()
	// Drain server pings without ever answering.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientConn.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { clientConn.Close() })

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("session not closed after missed heartbeats")
	}
}
