// Package session owns the game socket. It runs the receive loop, applies each
// decoded record to the world model and reports what changed to an Observer.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cellwire/client/internal/config"
	"cellwire/client/internal/logging"
	"cellwire/client/internal/wire"
	"cellwire/client/internal/world"
)

var (
	// ErrTransport wraps every socket level failure.
	ErrTransport = errors.New("session: transport failure")
	// ErrEmptyMessage is returned when the server sends a zero length message.
	ErrEmptyMessage = errors.New("session: empty message")
	// ErrNotConnected is returned by Run and the Send methods without a socket.
	ErrNotConnected = errors.New("session: not connected")
	// ErrAlreadyConnected rejects Connect while a socket is open or opening.
	ErrAlreadyConnected = errors.New("session: already connected")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	closeGracePeriod        = time.Second
)

// FrameTap receives every inbound frame before it is decoded, plus lifecycle
// events. Implementations must be safe for use from the receive loop.
type FrameTap interface {
	AppendFrame(seq uint64, frame []byte) error
	AppendEvent(seq uint64, kind string, payload []byte) error
}

// Stats counts frame outcomes since the session was created.
type Stats struct {
	FramesReceived uint64
	FramesApplied  uint64
	FramesDropped  uint64
	UnknownOpcodes uint64
	Underflows     uint64
	Anomalies      uint64
	LeftoverBytes  uint64
}

// Aggregates are derived from the owned cells after every batch.
type Aggregates struct {
	TotalSize float64
	TotalMass float64
	// Scale is the zoom the official client would use for the current size.
	Scale  float64
	Center world.Point
}

// Option customises a Session.
type Option func(*Session)

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithObserver installs the event sink. Use Observers to attach several.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithFrameTap records raw inbound frames, typically into a capture bundle.
func WithFrameTap(t FrameTap) Option {
	return func(s *Session) { s.tap = t }
}

// WithStateListener is called on every state transition with the new state.
func WithStateListener(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithModel shares an existing world model instead of allocating one.
func WithModel(m *world.Model) Option {
	return func(s *Session) {
		if m != nil {
			s.model = m
		}
	}
}

type counters struct {
	received  atomic.Uint64
	applied   atomic.Uint64
	dropped   atomic.Uint64
	unknown   atomic.Uint64
	underflow atomic.Uint64
	anomalies atomic.Uint64
	leftover  atomic.Uint64
}

// Session is one client connection and the world it maintains. Only the
// goroutine running Run (or calling HandleFrame) writes the model.
type Session struct {
	cfg      config.SessionConfig
	dialer   *websocket.Dialer
	observer Observer
	log      *logging.Logger
	tap      FrameTap
	onState  func(State)
	model    *world.Model

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc

	aggMu sync.RWMutex
	agg   Aggregates

	stats counters
	seq   atomic.Uint64
}

// New builds a disconnected session. Zero values in cfg fall back to the
// configuration defaults.
func New(cfg config.SessionConfig, opts ...Option) *Session {
	if cfg.Origin == "" {
		cfg.Origin = config.DefaultOrigin
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultWriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxMessageBytes
	}
	s := &Session{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		observer: NopObserver{},
		log:      logging.L(),
		model:    world.NewModel(),
		agg:      Aggregates{Scale: 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "session"))
	return s
}

// World exposes the model for readers. Mutating it outside the session breaks
// the aggregates.
func (s *Session) World() *world.Model { return s.model }

func (s *Session) State() State { return State(s.state.Load()) }

// InGame reports whether an in-game record has arrived on the current socket.
func (s *Session) InGame() bool { return s.State() == StateInGame }

// Alive reports whether the player controls at least one cell.
func (s *Session) Alive() bool {
	alive := false
	s.model.View(func(snap *world.Snapshot) { alive = snap.OwnedCount() > 0 })
	return alive
}

func (s *Session) Aggregates() Aggregates {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()
	return s.agg
}

func (s *Session) Stats() Stats {
	return Stats{
		FramesReceived: s.stats.received.Load(),
		FramesApplied:  s.stats.applied.Load(),
		FramesDropped:  s.stats.dropped.Load(),
		UnknownOpcodes: s.stats.unknown.Load(),
		Underflows:     s.stats.underflow.Load(),
		Anomalies:      s.stats.anomalies.Load(),
		LeftoverBytes:  s.stats.leftover.Load(),
	}
}

// Connect opens the socket, resets the world and sends the handshake followed
// by the server token. Host may carry a ws:// or wss:// scheme; plain hosts
// are dialled over ws://.
func (s *Session) Connect(ctx context.Context, host, token string) error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	s.notifyState(StateConnecting)

	url := host
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url
	}
	header := http.Header{}
	if s.cfg.Origin != "" {
		header.Set("Origin", s.cfg.Origin)
	}

	//1.- Dial first so a failed attempt leaves the previous world intact for inspection.
	conn, _, err := s.dialer.DialContext(ctx, url, header)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: dial %s: %w", ErrTransport, url, err)
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	//2.- A new socket starts from an empty world.
	s.model.Reset()
	s.aggMu.Lock()
	s.agg = Aggregates{Scale: 1}
	s.aggMu.Unlock()

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.setState(StateAwaitingHandshake)
	s.tapEvent("connect", map[string]string{"url": url})
	s.log.Info("connected", logging.String("url", url))

	//3.- Handshake then token; the server expects both before sending anything.
	// A failed write has already torn the socket down.
	frames := append(wire.Handshake(), wire.Token(token))
	for _, frame := range frames {
		if err := s.send(frame); err != nil {
			return err
		}
	}
	return nil
}

// Run reads frames until the socket fails, the server closes it, ctx is
// cancelled or Stop is called. A requested stop returns nil.
func (s *Session) Run(ctx context.Context) error {
	conn := s.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runMu.Lock()
	s.cancel = cancel
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.cancel = nil
		s.runMu.Unlock()
	}()

	// Stop requests close the socket to unblock the pending read.
	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(closeGracePeriod)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	})
	defer stop()

	// Pongs count as traffic, so a quiet server that answers pings stays connected.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	go s.keepalive(ctx, conn)

	for {
		//1.- Refresh the idle deadline before every read.
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				s.finish(conn, "", nil)
				return nil
			}
			wrapped := fmt.Errorf("%w: read: %w", ErrTransport, err)
			s.finish(conn, CategoryTransport, wrapped)
			return wrapped
		}
		//2.- An empty message ends the session like a socket error.
		if len(frame) == 0 {
			s.record(frame)
			s.stats.dropped.Add(1)
			s.finish(conn, CategoryEmptyMessage, ErrEmptyMessage)
			return ErrEmptyMessage
		}
		//3.- Per-frame failures are counted and reported; the loop continues.
		_ = s.HandleFrame(frame)
	}
}

// keepalive pings at a third of the idle bound until ctx ends. Ping failures
// are left to the read loop, which sees the same broken socket.
func (s *Session) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(max(s.cfg.ReadTimeout/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.log.Debug("keepalive ping failed", logging.Error(err))
			}
		}
	}
}

// Stop ends Run, or closes an idle socket when Run is not active. It is safe
// to call from any goroutine and more than once.
func (s *Session) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	if conn := s.currentConn(); conn != nil {
		s.finish(conn, "", nil)
	}
}

func (s *Session) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// finish tears down conn once. Later calls for the same socket are no-ops, so
// ConnectionClosed fires exactly once per connection.
func (s *Session) finish(conn *websocket.Conn, category ErrorCategory, cause error) {
	s.connMu.Lock()
	if conn == nil || s.conn != conn {
		s.connMu.Unlock()
		return
	}
	s.conn = nil
	s.connMu.Unlock()

	_ = conn.Close()
	s.setState(StateDisconnected)
	if cause != nil {
		s.log.Warn("connection lost", logging.String("category", string(category)), logging.Error(cause))
		s.observer.TransportError(category, cause.Error())
		s.tapEvent("transport_error", map[string]string{"category": string(category), "message": cause.Error()})
	} else {
		s.log.Info("connection closed")
	}
	s.tapEvent("closed", nil)
	s.observer.ConnectionClosed()
}

func (s *Session) setState(next State) {
	if State(s.state.Swap(int32(next))) != next {
		s.notifyState(next)
	}
}

// promote moves AwaitingHandshake to InGame; any other state is left alone.
func (s *Session) promote() {
	if s.state.CompareAndSwap(int32(StateAwaitingHandshake), int32(StateInGame)) {
		s.log.Info("in game")
		s.notifyState(StateInGame)
	}
}

func (s *Session) notifyState(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *Session) tapEvent(kind string, payload any) {
	if s.tap == nil {
		return
	}
	var data []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			s.log.Warn("encode capture event", logging.String("kind", kind), logging.Error(err))
			return
		}
		data = encoded
	}
	if err := s.tap.AppendEvent(s.seq.Load(), kind, data); err != nil {
		s.log.Warn("capture event", logging.String("kind", kind), logging.Error(err))
	}
}

// send serialises writes; gorilla allows one concurrent writer. A failed
// write disconnects the session like a failed read.
func (s *Session) send(frame []byte) error {
	conn := s.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		wrapped := fmt.Errorf("%w: write: %w", ErrTransport, err)
		// Observers may send from ConnectionClosed, so writeMu is released first.
		s.finish(conn, CategoryTransport, wrapped)
		return wrapped
	}
	return nil
}

// SendRespawn joins the game under nick.
func (s *Session) SendRespawn(nick string) error { return s.send(wire.Respawn(nick)) }

// SendTarget steers the owned cells towards a world position. cell 0 moves all of them.
func (s *Session) SendTarget(x, y int32, cell uint32) error {
	return s.send(wire.Target(x, y, cell))
}

func (s *Session) SendSplit() error { return s.send(wire.Split()) }

// SendEject shoots a pellet of mass towards the current target.
func (s *Session) SendEject() error { return s.send(wire.Eject()) }

// SendSpectate enters spectator mode.
func (s *Session) SendSpectate() error { return s.send(wire.Spectate()) }

// SendSpectateToggle switches between following the leader and free camera.
func (s *Session) SendSpectateToggle() error { return s.send(wire.SpectateToggle()) }

func (s *Session) SendFacebook(token string) error { return s.send(wire.Facebook(token)) }

// SendExplode asks the server to blow up the player and reports the death
// locally, on the calling goroutine, because the server does not confirm it.
func (s *Session) SendExplode() error {
	if err := s.send(wire.Explode()); err != nil {
		return err
	}
	var last world.Entity
	s.model.View(func(snap *world.Snapshot) {
		if owned := snap.OwnedEntities(); len(owned) > 0 {
			last = owned[0]
		}
	})
	s.observer.Death(last)
	return nil
}
