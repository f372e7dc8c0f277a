package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/0x6d61/webtrufflehog/internal/channel"
	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// fakeChannel records what is sent and lets tests play the host.
type fakeChannel struct {
	id string
	h  channel.Handlers

	mu     sync.Mutex
	sent   []any
	closed bool
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrClosed
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

func (c *fakeChannel) probes() int {
	n := 0
	for _, m := range c.messages() {
		if _, ok := m.(protocol.StatusProbe); ok {
			n++
		}
	}
	return n
}

// reply plays an inbound host message.
func (c *fakeChannel) reply(resp protocol.Response) { c.h.OnMessage(resp) }

// drop plays the host going away.
func (c *fakeChannel) drop(err error) { c.h.OnDisconnect(err) }

// fakeDialer hands out fakeChannels.
type fakeDialer struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	lostEarly bool
	channels  []*fakeChannel
}

func (d *fakeDialer) Dial(ctx context.Context, h channel.Handlers) (channel.Channel, error) {
	d.mu.Lock()
	gate := d.gate
	err := d.err
	lostEarly := d.lostEarly
	ch := &fakeChannel{id: "chan", h: h}
	d.channels = append(d.channels, ch)
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if lostEarly {
		h.OnDisconnect(errors.New("host exited"))
	}
	return ch, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[len(d.channels)-1]
}

// manualTicker replaces time.Ticker; tick delivers one tick to the most
// recently started ticker.
type manualTicker struct {
	mu      sync.Mutex
	chans   []chan time.Time
	stopped int
}

func (m *manualTicker) start(time.Duration) (<-chan time.Time, func()) {
	c := make(chan time.Time)
	m.mu.Lock()
	m.chans = append(m.chans, c)
	m.mu.Unlock()
	return c, func() {
		m.mu.Lock()
		m.stopped++
		m.mu.Unlock()
	}
}

func (m *manualTicker) started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chans)
}

func (m *manualTicker) stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// tick reports whether a running heartbeat accepted the tick.
func (m *manualTicker) tick() bool {
	m.mu.Lock()
	if len(m.chans) == 0 {
		m.mu.Unlock()
		return false
	}
	c := m.chans[len(m.chans)-1]
	m.mu.Unlock()

	select {
	case c <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}
