package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/channel"
	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// ErrNotConnected is returned by Manager.Send when no session is connected.
var ErrNotConnected = errors.New("bridge: not connected")

// Manager owns the connection state machine, the current session and that
// session's heartbeat. All transitions happen under one mutex; dialing and
// closing a channel always happen outside it.
type Manager struct {
	dialer    channel.Dialer
	onMessage func(protocol.Response)
	opts      options
	log       zerolog.Logger

	mu      sync.Mutex
	state   State
	session *Session
	closed  bool
}

// NewManager creates a Manager in the Disconnected state. onMessage receives
// every inbound message from every session.
func NewManager(dialer channel.Dialer, onMessage func(protocol.Response), opts ...Option) *Manager {
	o := buildOptions(opts)
	if onMessage == nil {
		onMessage = func(protocol.Response) {}
	}
	return &Manager{
		dialer:    dialer,
		onMessage: onMessage,
		opts:      o,
		log:       o.logger.With().Str("component", "manager").Logger(),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the id of the connected session, or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// HeartbeatActive reports whether a heartbeat is running.
func (m *Manager) HeartbeatActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.heartbeat != nil
}

// EnsureConnected opens a session if none is open. It returns true when a
// session is connected on return. A caller that finds a connection attempt
// already in progress gets false immediately instead of dialing again.
// A failed dial leaves the Manager Disconnected; the next call retries.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return true
	case Connecting:
		m.mu.Unlock()
		return false
	}
	m.setState(Connecting)
	m.mu.Unlock()

	s := &Session{ID: uuid.NewString(), OpenedAt: m.opts.now()}
	ch, err := m.dialer.Dial(ctx, channel.Handlers{
		OnMessage:    m.onMessage,
		OnDisconnect: func(err error) { m.handleDisconnect(s, err) },
	})

	m.mu.Lock()
	if err != nil {
		m.setState(Disconnected)
		m.mu.Unlock()
		m.log.Error().Err(err).Msg("Failed to connect to host")
		return false
	}
	if m.closed || s.lost {
		m.setState(Disconnected)
		m.mu.Unlock()
		_ = ch.Close()
		m.log.Warn().Str("session", s.ID).Msg("Host connection lost before it was established")
		return false
	}

	s.channel = ch
	s.heartbeat = startHeartbeat(m.opts.heartbeatInterval, m.opts.newTicker, m.probe)
	m.session = s
	m.setState(Connected)
	m.mu.Unlock()

	m.log.Info().Str("session", s.ID).Str("channel", ch.ID()).Msg("Connected to host")
	return true
}

// Send writes v to the connected session's channel.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	if m.state != Connected || m.session == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	ch := m.session.channel
	m.mu.Unlock()

	return ch.Send(v)
}

// Close tears down the current session and refuses further connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	s := m.session
	m.session = nil
	if m.state == Connected {
		m.setState(Disconnected)
	}
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	s.heartbeat.stop()
	m.log.Info().Str("session", s.ID).Msg("Closing host connection")
	return s.channel.Close()
}

// probe asks the host for its queue depth. It runs on the heartbeat task.
func (m *Manager) probe() {
	if err := m.Send(protocol.NewStatusProbe()); err != nil {
		m.log.Debug().Err(err).Msg("Status probe not sent")
	}
}

// handleDisconnect is the channel's OnDisconnect callback. Notifications
// from sessions other than the current one are ignored.
func (m *Manager) handleDisconnect(s *Session, err error) {
	m.mu.Lock()
	s.lost = true
	if m.session != s {
		m.mu.Unlock()
		return
	}
	hb := s.heartbeat
	m.session = nil
	m.setState(Disconnected)
	m.mu.Unlock()

	// The heartbeat may be blocked waiting for the lock in Send, so it is
	// joined only after the lock is released.
	hb.stop()

	uptime := m.opts.now().Sub(s.OpenedAt)
	if err != nil {
		m.log.Error().Err(err).Str("session", s.ID).Dur("uptime", uptime).Msg("Disconnected from host")
		return
	}
	m.log.Warn().Str("session", s.ID).Dur("uptime", uptime).Msg("Host closed the connection")
}

// setState must be called with mu held.
func (m *Manager) setState(to State) {
	if !m.state.canTransition(to) {
		m.log.Error().Stringer("from", m.state).Stringer("to", to).Msg("Illegal state transition")
		return
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", to).Msg("State change")
	m.state = to
}

type options struct {
	heartbeatInterval time.Duration
	newTicker         TickerFunc
	now               func() time.Time
	logger            zerolog.Logger
	inboundBuffer     int
}

// Option configures a Manager or Bridge.
type Option func(*options)

// WithHeartbeatInterval sets how often a connected session probes the host.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithTicker replaces the ticker used by the heartbeat.
func WithTicker(f TickerFunc) Option {
	return func(o *options) {
		if f != nil {
			o.newTicker = f
		}
	}
}

// WithClock replaces the wall clock used for receipt timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInboundBuffer sets how many host messages may wait for the demux task.
func WithInboundBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.inboundBuffer = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		heartbeatInterval: DefaultHeartbeatInterval,
		newTicker:         realTicker,
		now:               time.Now,
		logger:            zerolog.Nop(),
		inboundBuffer:     64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
