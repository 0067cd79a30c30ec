// Package streaming implements the venue's three real-time WebSocket
// channels: order events, symbol/depth market data and tick-by-tick
// 50-level depth. All three share one session core that owns the
// connection state machine, the read pump, reconnect handling and the
// callback dispatch discipline.
//
// Inbound frames are read on an I/O goroutine and handed to a single
// dispatcher goroutine through a buffered channel, so user callbacks
// never run on the I/O goroutine and never race each other. Ordering
// is guaranteed per socket only.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
)

const (
	defaultHandshakeTimeout     = 10 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultReconnectDelay       = 2 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultDispatchBuffer       = 256

	// identityParam carries "{clientID}:{accessToken}" on the connect
	// URL. The venue authenticates the socket from this query
	// parameter, not from a header.
	identityParam = "access_token"

	writeControlTimeout = 5 * time.Second
)

// Config holds the connection settings shared by all socket variants.
type Config struct {
	URL      string
	Identity string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	DispatchBuffer   int

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.DispatchBuffer <= 0 {
		c.DispatchBuffer = defaultDispatchBuffer
	}
	if c.Logger == nil {
		c.Logger = logging.NewLogger()
	}
	return c
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventError
	eventErrorMessage
	eventState
)

type dispatchEvent struct {
	kind  eventKind
	frame []byte
	err   error
	code  int
	msg   string
	state interfaces.ConnectionState
}

// session is the shared core embedded by the three socket variants. It
// never interprets business frames itself: the variant installs
// handleFrame, replay and clearSubs hooks at construction.
type session struct {
	config Config
	logger logging.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	state atomic.Int32

	// subMu guards the variant's subscription registry. It is held
	// across the post-connect replay so a concurrent Subscribe cannot
	// interleave with re-issued subscriptions.
	subMu sync.Mutex

	// lifeMu guards the dispatch plumbing. The channels live for one
	// connect-to-close lifecycle; Connect on a finished session swaps
	// in fresh ones so the socket is reusable after Close.
	lifeMu       sync.Mutex
	dispatch     chan dispatchEvent
	finished     chan struct{}
	dispatcherUp bool

	closed       atomic.Bool
	reconnecting atomic.Bool

	handlerMu      sync.RWMutex
	onError        interfaces.ErrorHandler
	onErrorMessage interfaces.ErrorMessageHandler
	onState        interfaces.StateHandler

	handleFrame func([]byte)
	replay      func() error
	clearSubs   func()
}

func newSession(config Config) *session {
	config = config.withDefaults()
	s := &session{
		config:   config,
		logger:   config.Logger,
		dispatch: make(chan dispatchEvent, config.DispatchBuffer),
		finished: make(chan struct{}),
	}
	s.state.Store(int32(interfaces.StateDisconnected))
	return s
}

// OnError registers the callback for transport-level faults. These are
// non-fatal and may precede an automatic reconnect.
func (s *session) OnError(h interfaces.ErrorHandler) {
	s.handlerMu.Lock()
	s.onError = h
	s.handlerMu.Unlock()
}

// OnErrorMessage registers the callback for error frames the venue
// sends over a healthy connection, such as a rejected subscribe.
func (s *session) OnErrorMessage(h interfaces.ErrorMessageHandler) {
	s.handlerMu.Lock()
	s.onErrorMessage = h
	s.handlerMu.Unlock()
}

// OnStateChange registers the callback for connection state
// transitions.
func (s *session) OnStateChange(h interfaces.StateHandler) {
	s.handlerMu.Lock()
	s.onState = h
	s.handlerMu.Unlock()
}

// State returns the current connection state.
func (s *session) State() interfaces.ConnectionState {
	return interfaces.ConnectionState(s.state.Load())
}

// IsConnected reports whether the socket is currently connected.
func (s *session) IsConnected() bool {
	return s.State() == interfaces.StateConnected
}

// Connect dials the venue, starts the read pump and dispatcher and
// replays any subscriptions tracked before the call.
func (s *session) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return interfaces.ErrAlreadyConnected
	}
	s.closed.Store(false)
	s.resetLifecycle()
	s.setState(interfaces.StateConnecting)

	if err := s.dial(ctx); err != nil {
		s.setState(interfaces.StateDisconnected)
		return err
	}

	s.startDispatcher()
	s.setState(interfaces.StateConnected)
	s.logger.Info("socket connected", logging.String("url", s.config.URL))

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.replay != nil {
		if err := s.replay(); err != nil {
			s.logger.Warn("subscription replay failed", logging.Error(err))
			s.emitError(err)
		}
	}
	return nil
}

func (s *session) dial(ctx context.Context) error {
	endpoint, err := url.Parse(s.config.URL)
	if err != nil {
		return &interfaces.NetworkError{Op: "dial", Err: err}
	}
	q := endpoint.Query()
	q.Set(identityParam, s.config.Identity)
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return &interfaces.NetworkError{Op: "dial", Err: err}
	}

	done := make(chan struct{})
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	go s.readPump(conn, done)
	go s.pinger(conn, done)
	return nil
}

// readPump reads frames until the connection breaks. It owns the read
// deadline and hands every frame to the dispatcher.
func (s *session) readPump(conn *websocket.Conn, done chan struct{}) {
	deadline := s.config.PingInterval * 3

	defer func() {
		close(done)
		_ = conn.Close()
		// A pump whose connection was already replaced must not touch
		// the state machine of the lifecycle that replaced it.
		if s.closed.Load() || !s.isCurrent(conn) {
			return
		}
		if s.config.AutoReconnect {
			s.setState(interfaces.StateReconnecting)
			go s.reconnect()
			return
		}
		s.setState(interfaces.StateDisconnected)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && s.isCurrent(conn) {
				s.emitError(&interfaces.NetworkError{Op: "read", Err: err})
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		s.route(frame)
	}
}

func (s *session) isCurrent(conn *websocket.Conn) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn == conn
}

// route splits venue error frames from data frames before dispatch, so
// "the server rejected my request" and "the pipe broke" reach the
// caller through different callbacks.
func (s *session) route(frame []byte) {
	var head struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		s.emitError(fmt.Errorf("malformed frame: %w", err))
		return
	}
	if head.Type == frameTypeError {
		s.enqueue(dispatchEvent{kind: eventErrorMessage, code: head.Code, msg: head.Message})
		return
	}
	s.enqueue(dispatchEvent{kind: eventFrame, frame: frame})
}

func (s *session) pinger(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeControlTimeout))
			if err != nil {
				return
			}
		}
	}
}

// resetLifecycle replaces the dispatch channels when the previous
// lifecycle already finished. Without fresh channels a reused session
// would look connected while every event fell through the closed
// finished gate with no dispatcher left to drain it.
func (s *session) resetLifecycle() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	select {
	case <-s.finished:
		s.dispatch = make(chan dispatchEvent, s.config.DispatchBuffer)
		s.finished = make(chan struct{})
		s.dispatcherUp = false
	default:
	}
}

func (s *session) startDispatcher() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.dispatcherUp {
		return
	}
	s.dispatcherUp = true
	go s.dispatcher(s.dispatch, s.finished)
}

// dispatcher drains events for one lifecycle and exits when its
// finished channel closes.
func (s *session) dispatcher(events <-chan dispatchEvent, finished <-chan struct{}) {
	for {
		select {
		case <-finished:
			return
		case ev := <-events:
			s.handle(ev)
		}
	}
}

// finish ends the current lifecycle. Idempotent within a lifecycle;
// Connect starts the next one.
func (s *session) finish() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	select {
	case <-s.finished:
	default:
		close(s.finished)
	}
}

func (s *session) handle(ev dispatchEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panic recovered",
				logging.String("panic", fmt.Sprintf("%v", r)))
		}
	}()

	s.handlerMu.RLock()
	onError, onErrorMessage, onState := s.onError, s.onErrorMessage, s.onState
	s.handlerMu.RUnlock()

	switch ev.kind {
	case eventFrame:
		if s.handleFrame != nil {
			s.handleFrame(ev.frame)
		}
	case eventError:
		if onError != nil {
			onError(ev.err)
		}
	case eventErrorMessage:
		s.logger.Warn("venue error frame",
			logging.Int("code", ev.code),
			logging.String("message", ev.msg))
		if onErrorMessage != nil {
			onErrorMessage(ev.code, ev.msg)
		}
	case eventState:
		if onState != nil {
			onState(ev.state)
		}
	}
}

// enqueue blocks when the dispatch buffer is full. A slow consumer
// applies backpressure to the read pump rather than losing frames.
func (s *session) enqueue(ev dispatchEvent) {
	s.lifeMu.Lock()
	dispatch, finished := s.dispatch, s.finished
	s.lifeMu.Unlock()
	select {
	case dispatch <- ev:
	case <-finished:
	}
}

func (s *session) emitError(err error) {
	s.enqueue(dispatchEvent{kind: eventError, err: err})
}

func (s *session) setState(st interfaces.ConnectionState) {
	old := interfaces.ConnectionState(s.state.Swap(int32(st)))
	if old == st {
		return
	}
	s.logger.Debug("socket state changed",
		logging.String("from", old.String()),
		logging.String("to", st.String()))
	s.handlerMu.RLock()
	hasHandler := s.onState != nil
	s.handlerMu.RUnlock()
	if hasHandler {
		s.enqueue(dispatchEvent{kind: eventState, state: st})
	}
}

// reconnect re-dials after an unexpected drop with backoff between
// attempts. Exhausting the attempt budget is fatal for the session.
func (s *session) reconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	err := retry.Do(
		func() error {
			if s.closed.Load() {
				return retry.Unrecoverable(interfaces.ErrNotConnected)
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
			defer cancel()
			return s.dial(ctx)
		},
		retry.Attempts(uint(s.config.MaxReconnectAttempts)),
		retry.Delay(s.config.ReconnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("reconnect attempt failed",
				logging.Int("attempt", int(n+1)),
				logging.Error(err))
		}),
	)
	if err != nil {
		s.setState(interfaces.StateError)
		s.emitError(fmt.Errorf("reconnect failed after %d attempts: %w",
			s.config.MaxReconnectAttempts, err))
		s.finish()
		return
	}

	s.setState(interfaces.StateConnected)
	s.logger.Info("socket reconnected")

	// Replay before any queued user subscribe can run, so fresh
	// subscriptions are never superseded by stale replay state.
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.replay != nil {
		if err := s.replay(); err != nil {
			s.logger.Warn("subscription replay failed", logging.Error(err))
			s.emitError(err)
		}
	}
}

// send marshals and writes one frame under the write mutex.
func (s *session) send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil || !s.IsConnected() {
		return interfaces.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down, clears tracked subscriptions and
// disables auto-reconnect. A closed session only reconnects through an
// explicit Connect.
func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.subMu.Lock()
	if s.clearSubs != nil {
		s.clearSubs()
	}
	s.subMu.Unlock()

	s.writeMu.Lock()
	conn := s.conn
	s.conn = nil
	s.writeMu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
			time.Now().Add(writeControlTimeout))
		_ = conn.Close()
	}

	s.setState(interfaces.StateDisconnected)
	s.finish()
	s.logger.Info("socket closed")
	return nil
}

// KeepRunning blocks until the session is closed, the reconnect budget
// is exhausted or the context is cancelled. It observes the lifecycle
// current at the time of the call.
func (s *session) KeepRunning(ctx context.Context) error {
	s.lifeMu.Lock()
	finished := s.finished
	s.lifeMu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-finished:
		return nil
	}
}
