package bridge

import (
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often a connected session probes the
// host's queue depth.
const DefaultHeartbeatInterval = 2 * time.Second

// TickerFunc starts a ticker and returns its channel and a stop function.
// Tests substitute a manual ticker to simulate time.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// heartbeat calls probe on every tick until stopped.
type heartbeat struct {
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startHeartbeat(interval time.Duration, newTicker TickerFunc, probe func()) *heartbeat {
	ticks, stopTicker := newTicker(interval)
	h := &heartbeat{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer stopTicker()
		for {
			select {
			case <-h.cancel:
				return
			case <-ticks:
				probe()
			}
		}
	}()
	return h
}

// stop cancels the ticker and waits for the loop to exit, so no probe can
// be sent after stop returns.
func (h *heartbeat) stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.cancel) })
	<-h.done
}
