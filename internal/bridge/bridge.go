package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/channel"
	"github.com/0x6d61/webtrufflehog/internal/protocol"
	"github.com/0x6d61/webtrufflehog/internal/store"
)

// Bridge wires the fetch-filter, heartbeat and inbound-demux tasks around a
// single Manager.
type Bridge struct {
	manager    *Manager
	dispatcher *Dispatcher
	demux      *Demux
	log        zerolog.Logger

	inbound chan protocol.Response
	stop    chan struct{}
	once    sync.Once
}

// New creates a Bridge that dials the host with dialer and records results
// in st.
func New(dialer channel.Dialer, st store.Store, opts ...Option) *Bridge {
	o := buildOptions(opts)
	b := &Bridge{
		demux:   NewDemux(st, o.now, o.logger),
		log:     o.logger.With().Str("component", "bridge").Logger(),
		inbound: make(chan protocol.Response, o.inboundBuffer),
		stop:    make(chan struct{}),
	}
	b.manager = NewManager(dialer, b.deliver, opts...)
	b.dispatcher = NewDispatcher(b.manager, o.logger)
	return b
}

// Manager returns the Bridge's connection manager.
func (b *Bridge) Manager() *Manager {
	return b.manager
}

// Run consumes events until the channel is closed or ctx is cancelled, then
// closes the host connection and flushes pending host messages to the store.
// Run must be called at most once.
func (b *Bridge) Run(ctx context.Context, events <-chan FetchEvent) error {
	// Store writes outlive cancellation so messages received before
	// shutdown are not lost.
	storeCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.demuxLoop(storeCtx)
	}()

	b.log.Info().Msg("Bridge started")
	b.fetchLoop(ctx, events)

	if err := b.manager.Close(); err != nil {
		b.log.Debug().Err(err).Msg("Closing host connection")
	}
	b.once.Do(func() { close(b.stop) })
	wg.Wait()

	b.log.Info().Msg("Bridge stopped")
	return nil
}

// fetchLoop is the fetch-filter task.
func (b *Bridge) fetchLoop(ctx context.Context, events <-chan FetchEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, ev FetchEvent) {
	// One bad event must not stop the task.
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("url", ev.URL).Str("panic", fmt.Sprintf("%v", r)).Msg("Fetch handler recovered from panic")
		}
	}()
	b.dispatcher.OnFetchCompleted(ctx, ev)
}

// demuxLoop is the inbound-demux task. It handles messages one at a time in
// arrival order and drains what is buffered once stopped.
func (b *Bridge) demuxLoop(ctx context.Context) {
	for {
		select {
		case resp := <-b.inbound:
			b.demux.OnMessage(ctx, resp)
		case <-b.stop:
			for {
				select {
				case resp := <-b.inbound:
					b.demux.OnMessage(ctx, resp)
				default:
					return
				}
			}
		}
	}
}

// deliver hands an inbound message from the channel's reader to the demux
// task.
func (b *Bridge) deliver(resp protocol.Response) {
	select {
	case b.inbound <- resp:
	case <-b.stop:
		b.log.Debug().Str("id", resp.ID).Msg("Bridge stopped, dropping host message")
	}
}
