// Package session implements the per-connection protocol engine: framing,
// authentication, heartbeat, request dispatch and response/push delivery
// for one client over one TCP stream.
package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fluxchat/fluxchat/internal/models"
	"github.com/fluxchat/fluxchat/internal/protocol"
	"github.com/fluxchat/fluxchat/internal/registry"
	"github.com/fluxchat/fluxchat/internal/repositories"
	"github.com/fluxchat/fluxchat/pkg/logger"
	"github.com/fluxchat/fluxchat/pkg/ratelimit"
)

const readBufferSize = 4096

// Config holds the per-session timer settings.
type Config struct {
	// HeartbeatInterval is how often the server pings the client. The
	// server initiates the heartbeat; client pings are still answered.
	HeartbeatInterval time.Duration
	// MaxMissed is how many consecutive silent heartbeat windows are
	// tolerated before the connection is forcibly closed.
	MaxMissed int
	// PresenceInterval is how often the friends status snapshot is
	// pushed to an authenticated client.
	PresenceInterval time.Duration
	// Limiter throttles login, register and message traffic. Nil
	// disables throttling entirely.
	Limiter *ratelimit.Limiter
	Rules   ratelimit.Rules
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = 3
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = 3 * time.Second
	}
	return c
}

// Session drives one client connection. All frame handling, timer
// callbacks and state transitions are serialized by mu; writes are
// ordered by writeMu so that a peer pushing into this connection cannot
// interleave bytes with a local response.
type Session struct {
	id    string
	conn  net.Conn
	reg   *registry.Registry
	repos *repositories.Set
	cfg   Config
	log   *logger.Logger

	mu       sync.Mutex
	state    protocol.State
	userID   uint
	username string
	lastSeen time.Time
	missed   int

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a session bound to one connection. The repository set is
// cloned so the session carries its own storage handle over the shared
// pool.
func New(conn net.Conn, repos *repositories.Set, reg *registry.Registry, cfg Config, log *logger.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		reg:      reg,
		repos:    repos.Clone(),
		cfg:      cfg.withDefaults(),
		log:      log.WithSessionID(id),
		state:    protocol.StateInitial,
		lastSeen: time.Now(),
		done:     make(chan struct{}),
	}
}

// Run reads the connection until it fails, extracting and handling one
// frame at a time. Each frame is processed to completion before the next
// buffered one. Run returns after teardown.
func (s *Session) Run() {
	defer s.teardown()

	s.log.Info("session started", zap.String("remote_addr", s.conn.RemoteAddr().String()))

	go s.heartbeatLoop()
	go s.presenceLoop()

	var ex protocol.Extractor
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, frame := range ex.Feed(buf[:n]) {
				s.handleFrame(frame)
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("transport error", zap.Error(err))
			}
			return
		}
	}
}

// handleFrame parses one extracted frame and dispatches it. Malformed
// frames and unknown types produce an error frame; the connection stays
// open. Any inbound frame counts as liveness.
func (s *Session) handleFrame(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = time.Now()
	s.missed = 0

	msg, err := protocol.Parse(frame)
	if err != nil {
		s.log.Warn("failed to parse frame", zap.Error(err))
		s.send(protocol.NewError("Invalid message format"))
		return
	}

	t := msg.Type()
	if t == protocol.TypePong {
		return // liveness only, already counted
	}

	if !protocol.Allowed(s.state, t) {
		switch {
		case s.state == protocol.StateInitial:
			s.send(protocol.NewError("Not authenticated"))
		case t == protocol.TypeLogin || t == protocol.TypeRegister:
			s.send(protocol.NewError("Already authenticated"))
		default:
			s.log.Warn("unknown message type", zap.String("type", t))
			s.send(protocol.NewError("Unknown message type"))
		}
		return
	}

	if resp := s.dispatch(msg); resp != nil {
		s.send(resp)
	}
}

// heartbeatLoop pings the client and closes the connection after
// MaxMissed consecutive silent windows.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if time.Since(s.lastSeen) >= s.cfg.HeartbeatInterval {
				s.missed++
			}
			missed := s.missed
			s.mu.Unlock()

			if missed >= s.cfg.MaxMissed {
				s.log.Info("heartbeat timeout, closing connection", zap.Int("missed", missed))
				s.Close()
				return
			}
			s.send(protocol.NewPing())
		}
	}
}

// presenceLoop periodically pushes the friends status snapshot while the
// session is authenticated.
func (s *Session) presenceLoop() {
	ticker := time.NewTicker(s.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == protocol.StateAuthenticated {
				friends, err := s.friendViews()
				if err != nil {
					s.log.Error("failed to load friends for status update", zap.Error(err))
				} else {
					s.send(protocol.NewFriendsStatusUpdate(friends))
				}
			}
			s.mu.Unlock()
		}
	}
}

// send writes one frame to this session's connection. Write failures are
// logged only; the read loop notices a dead transport on its own.
func (s *Session) send(msg protocol.Message) {
	if err := s.Push(msg); err != nil {
		s.log.Warn("failed to write frame", zap.String("type", msg.Type()), zap.Error(err))
	}
}

// Push delivers one frame into this session's write path. It is called
// both locally and synchronously from other sessions' handling contexts
// (direct notification routing), so it takes only the write lock.
func (s *Session) Push(msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}
	_, err = s.conn.Write(data)
	return err
}

// pushTo best-effort delivers a frame to another online user. No retry:
// a failed push is logged and the recipient recovers the state via
// history or invitation queries later.
func (s *Session) pushTo(userID uint, msg protocol.Message) {
	peer := s.reg.Lookup(userID)
	if peer == nil {
		return
	}
	if err := peer.Push(msg); err != nil {
		s.log.Warn("failed to push to peer",
			zap.Uint("peer_id", userID),
			zap.String("type", msg.Type()),
			zap.Error(err))
	}
}

// remoteHost returns the client address without the port, the key unit
// for pre-auth rate limiting.
func (s *Session) remoteHost() string {
	addr := s.conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Evict is called by the registry path when the same user logs in on a
// new connection: the displaced session gets a final error frame and is
// closed. It must not touch the registry, the new session owns the slot.
func (s *Session) Evict(reason string) {
	s.log.Info("session evicted", zap.String("reason", reason))
	if err := s.Push(protocol.NewError(reason)); err != nil {
		s.log.Warn("failed to deliver eviction notice", zap.Error(err))
	}
	s.Close()
}

// Close shuts the connection and stops the timer loops. Safe to call from
// any goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// teardown runs once when the read loop exits. Each step is best-effort
// and independent: deregister (only if this session still owns the
// registry slot), mark the user offline, release the connection.
func (s *Session) teardown() {
	s.Close()

	s.mu.Lock()
	uid := s.userID
	authed := s.state == protocol.StateAuthenticated
	s.state = protocol.StateInitial
	s.mu.Unlock()

	if authed {
		if s.reg.Unregister(uid, s) {
			if err := s.repos.Users.UpdateStatus(uid, models.StatusOffline); err != nil {
				s.log.Warn("failed to mark user offline", zap.Uint("user_id", uid), zap.Error(err))
			}
		}
	}
	s.log.Info("session closed", zap.Uint("user_id", uid))
}
