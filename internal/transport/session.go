// Package transport maintains the persistent bidirectional event channel
// between a client and the event bus: one logical session per client,
// authenticated at connect time, with bounded reconnection and a liveness
// guard so stale sessions cannot mutate state after teardown.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ridelink/internal/auth"
	"github.com/example/ridelink/internal/observability"
)

// Status is the observable connection state consumers branch on for user
// feedback and for gating emit-only operations.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

var (
	// ErrSessionClosed means the owning component tore the session down.
	ErrSessionClosed = errors.New("transport: session closed")
	// ErrNotConnected means an emit was attempted while the link is down.
	// Callers queue or drop; they do not crash.
	ErrNotConnected = errors.New("transport: not connected")
)

// Envelope is the wire frame: an event name plus its raw payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler consumes one inbound event payload. Handlers for a session are
// dispatched serially from a single reader goroutine.
type Handler func(data json.RawMessage)

type subscription struct {
	id int
	h  Handler
}

// Conn is the subset of a websocket connection the session needs.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a connection. Injectable for tests.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ReconnectPolicy bounds automatic reconnection. Delays grow linearly with
// the attempt number and are capped at MaxDelay. A server-initiated close
// gets one immediate retry after KickRetryDelay before the backoff
// sequence starts.
type ReconnectPolicy struct {
	Attempts       int
	Delay          time.Duration
	MaxDelay       time.Duration
	KickRetryDelay time.Duration
}

// DelayFor returns the wait before the given reconnect attempt (1-based).
func (p ReconnectPolicy) DelayFor(attempt int) time.Duration {
	d := time.Duration(attempt) * p.Delay
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Session is one client's live connection instance, distinct from the
// backend's durable ride record.
type Session struct {
	url    string
	cred   *auth.Credential
	log    *slog.Logger
	policy ReconnectPolicy
	dial   DialFunc
	sleep  func(ctx context.Context, d time.Duration) error

	// onConnect runs after every successful (re)connect so callers can
	// resynchronize server-side state (presence re-announce, session
	// registration). Reconnection must not silently drop a driver from
	// the dispatch pool.
	onConnect func()
	onStatus  func(Status)

	mu       sync.Mutex
	conn     Conn
	status   Status
	closed   bool
	nextID   int
	handlers map[string][]subscription

	wg sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDial replaces the dialer (tests).
func WithDial(d DialFunc) SessionOption {
	return func(s *Session) { s.dial = d }
}

// WithSleep replaces the backoff sleeper (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SessionOption {
	return func(s *Session) { s.sleep = fn }
}

// WithOnConnect registers the post-connect resync hook.
func WithOnConnect(fn func()) SessionOption {
	return func(s *Session) { s.onConnect = fn }
}

// WithOnStatus registers a status-change observer.
func WithOnStatus(fn func(Status)) SessionOption {
	return func(s *Session) { s.onStatus = fn }
}

// NewSession builds a session against url authenticated with cred.
func NewSession(url string, cred *auth.Credential, policy ReconnectPolicy, log *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		url:      url,
		cred:     cred,
		log:      log,
		policy:   policy,
		dial:     gorillaDial,
		sleep:    sleepCtx,
		status:   StatusDisconnected,
		handlers: make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Subscribe registers a handler for one event kind and returns an
// unsubscribe function.
func (s *Session) Subscribe(event string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.handlers[event] = append(s.handlers[event], subscription{id: id, h: h})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		hs := s.handlers[event]
		for i := range hs {
			if hs[i].id == id {
				s.handlers[event] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	if s.closed && st != StatusDisconnected {
		s.mu.Unlock()
		return
	}
	changed := s.status != st
	s.status = st
	cb := s.onStatus
	s.mu.Unlock()
	if changed && cb != nil {
		cb(st)
	}
}

// Connect dials the bus and starts the read loop. It returns once the
// first connection is established; subsequent drops are handled by the
// bounded reconnect sequence until ctx ends, Close is called, or the
// attempts are exhausted (terminal StatusError).
func (s *Session) Connect(ctx context.Context) error {
	conn, err := s.dialOnce(ctx)
	if err != nil {
		s.setStatus(StatusError)
		return fmt.Errorf("transport: connect: %w", err)
	}
	if !s.adopt(conn) {
		return ErrSessionClosed
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

func (s *Session) dialOnce(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cred.Token())
	return s.dial(ctx, s.url, header)
}

// adopt installs a freshly dialed connection. When Close raced the dial
// the connection is discarded instead, so teardown never waits on a link
// established after it started.
func (s *Session) adopt(conn Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return false
	}
	s.conn = conn
	s.mu.Unlock()
	s.setStatus(StatusConnected)
	if s.onConnect != nil && s.alive() {
		s.onConnect()
	}
	return true
}

func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// run reads frames until the session is closed or reconnection gives up.
func (s *Session) run(ctx context.Context) {
	for {
		err := s.readLoop()
		if !s.alive() || ctx.Err() != nil {
			return
		}

		observability.SessionDrops.Inc()
		s.setStatus(StatusDisconnected)
		s.log.Warn("transport dropped", "error", err)

		if !s.reconnect(ctx, serverInitiated(err)) {
			if s.alive() {
				s.setStatus(StatusError)
				s.log.Error("transport reconnect attempts exhausted")
			}
			return
		}
	}
}

func (s *Session) readLoop() error {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return ErrSessionClosed
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warn("transport frame not decodable", "error", err)
			continue
		}
		s.dispatch(env)
	}
}

// dispatch runs handlers under the liveness guard: after Close no handler
// may run, which prevents use-after-teardown races inherent to
// asynchronous delivery.
func (s *Session) dispatch(env Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	hs := append([]subscription(nil), s.handlers[env.Event]...)
	s.mu.Unlock()

	for _, sub := range hs {
		if !s.alive() {
			return
		}
		sub.h(env.Data)
	}
}

// reconnect walks the bounded backoff sequence. A server-initiated close
// gets one immediate retry after the kick delay first.
func (s *Session) reconnect(ctx context.Context, kicked bool) bool {
	if kicked {
		if err := s.sleep(ctx, s.policy.KickRetryDelay); err != nil {
			return false
		}
		observability.SessionReconnects.Inc()
		if conn, err := s.dialOnce(ctx); err == nil {
			return s.adopt(conn)
		}
	}

	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		if !s.alive() {
			return false
		}
		if err := s.sleep(ctx, s.policy.DelayFor(attempt)); err != nil {
			return false
		}
		observability.SessionReconnects.Inc()
		conn, err := s.dialOnce(ctx)
		if err != nil {
			s.log.Warn("transport reconnect failed",
				"attempt", attempt, "max_attempts", s.policy.Attempts, "error", err)
			continue
		}
		return s.adopt(conn)
	}
	return false
}

func serverInitiated(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.ClosePolicyViolation)
}

// Emit sends one event. It fails fast when the link is down so callers
// can queue or drop instead of blocking the event loop.
func (s *Session) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.status != StatusConnected || s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteJSON(Envelope{Event: event, Data: data})
}

// Close tears the session down: flips the liveness flag so no inbound
// handler runs afterwards, closes the connection, and waits for the read
// loop to exit. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}
