// Package channel owns the duplex message link to the scanning host: it
// frames outbound messages, decodes inbound ones and reports when the link
// goes away.
package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

var (
	// ErrClosed is returned by Send once the channel is closed or the peer
	// has gone away.
	ErrClosed = errors.New("channel: closed")

	// ErrRateLimited is returned by Send when the outbound limiter has no
	// tokens. The message is dropped, not queued.
	ErrRateLimited = errors.New("channel: rate limited")
)

// Channel is one open link to the host.
type Channel interface {
	// ID identifies this channel instance in logs.
	ID() string

	// Send frames v and writes it to the host. It does not wait for any
	// acknowledgement.
	Send(v any) error

	// Close releases the link. It is safe to call more than once.
	Close() error
}

// Handlers receive inbound traffic. Both are invoked from the channel's
// reader goroutine.
type Handlers struct {
	// OnMessage is called for every well-formed inbound message.
	OnMessage func(protocol.Response)

	// OnDisconnect is called exactly once when the link ends. err is nil
	// for a clean end of stream.
	OnDisconnect func(err error)
}

// Dialer opens new channels.
type Dialer interface {
	Dial(ctx context.Context, h Handlers) (Channel, error)
}

// Options tune a channel.
type Options struct {
	// MaxRPS caps outbound messages per second (0 = unlimited).
	MaxRPS float64

	// MaxMessageSize bounds a single inbound frame (0 = protocol default).
	MaxMessageSize int

	// CloseGrace is how long Close waits for the peer to exit after its
	// input is closed before killing it.
	CloseGrace time.Duration

	Logger zerolog.Logger
}

// Stats counts traffic on one channel.
type Stats struct {
	Sent     int64
	Received int64
	Dropped  int64
}

// conn is a framed duplex over an arbitrary reader/writer pair.
type conn struct {
	id       string
	enc      *protocol.Encoder
	dec      *protocol.Decoder
	w        io.Closer
	limiter  *rate.Limiter
	handlers Handlers
	log      zerolog.Logger
	grace    time.Duration

	// exit reaps the peer once reading has finished; kill forces it down.
	exit func() error
	kill func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once

	closeW   sync.Once
	closeErr error

	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

func newConn(id string, r io.Reader, w io.WriteCloser, h Handlers, opts Options) *conn {
	c := &conn{
		id:       id,
		enc:      protocol.NewEncoder(w),
		dec:      protocol.NewDecoder(r, opts.MaxMessageSize),
		w:        w,
		handlers: h,
		log:      opts.Logger.With().Str("channel", id).Logger(),
		grace:    opts.CloseGrace,
		done:     make(chan struct{}),
	}
	if opts.MaxRPS > 0 {
		burst := int(opts.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), burst)
	}
	if c.grace <= 0 {
		c.grace = 2 * time.Second
	}
	return c
}

func (c *conn) start() {
	go c.readLoop()
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) Send(v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.dropped.Add(1)
		return ErrRateLimited
	}

	if err := c.enc.Encode(v); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.closeWriter()

	select {
	case <-c.done:
	case <-time.After(c.grace):
		if c.kill != nil {
			c.log.Warn().Dur("grace", c.grace).Msg("Host did not exit after close, killing it")
			c.kill()
		}
	}
	return err
}

// closeWriter closes the peer's input once. The peer sees end of input and
// is expected to exit.
func (c *conn) closeWriter() error {
	c.closeW.Do(func() { c.closeErr = c.w.Close() })
	return c.closeErr
}

// Stats returns a snapshot of the traffic counters.
func (c *conn) Stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
	}
}

func (c *conn) readLoop() {
	defer close(c.done)

	var err error
	for {
		payload, readErr := c.dec.Next()
		if readErr != nil {
			err = readErr
			break
		}

		var resp protocol.Response
		if jsonErr := protocol.UnmarshalNumbers(payload, &resp); jsonErr != nil {
			c.dropped.Add(1)
			c.log.Warn().Err(jsonErr).Int("bytes", len(payload)).Msg("Dropping malformed message from host")
			continue
		}
		c.received.Add(1)
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(resp)
		}
	}

	if errors.Is(err, io.EOF) {
		err = nil
	}
	if c.exit != nil {
		// The peer may still be running: close its input, then kill it if
		// it has not exited within the grace period.
		if err != nil {
			c.log.Warn().Err(err).Msg("Host stream broken, stopping host")
		}
		_ = c.closeWriter()
		kill := time.AfterFunc(c.grace, func() {
			if c.kill != nil {
				c.log.Warn().Dur("grace", c.grace).Msg("Host did not exit, killing it")
				c.kill()
			}
		})
		exitErr := c.exit()
		kill.Stop()
		if exitErr != nil && err == nil {
			err = exitErr
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.once.Do(func() {
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(err)
		}
	})
}
