package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/bridge"
)

// BrowserOptions configure the browser launched by BrowserSource.
type BrowserOptions struct {
	// Bin is the browser executable; empty lets rod find or download one.
	Bin string

	Headless bool

	// Proxy is passed to the browser as --proxy-server.
	Proxy string

	// StartURLs are opened in new tabs once the browser is up.
	StartURLs []string
}

// BrowserSource launches a Chromium browser and emits a fetch event for
// every response whose body finished loading in any of its tabs.
type BrowserSource struct {
	opts    BrowserOptions
	tracker *Tracker
	log     zerolog.Logger

	mu      sync.Mutex
	watched map[proto.TargetTargetID]bool
}

// NewBrowserSource creates a BrowserSource.
func NewBrowserSource(opts BrowserOptions, logger zerolog.Logger) *BrowserSource {
	return &BrowserSource{
		opts:    opts,
		tracker: NewTracker(),
		log:     logger.With().Str("component", "browser").Logger(),
		watched: make(map[proto.TargetTargetID]bool),
	}
}

func (s *BrowserSource) launcher() *launcher.Launcher {
	l := launcher.New().
		Headless(s.opts.Headless).
		Set("disable-infobars").
		Set("disable-extensions")
	if s.opts.Bin != "" {
		l = l.Bin(s.opts.Bin)
	}
	if s.opts.Proxy != "" {
		l = l.Proxy(s.opts.Proxy)
	}
	return l
}

// Run launches the browser and blocks until ctx is cancelled or the browser
// goes away.
func (s *BrowserSource) Run(ctx context.Context, out chan<- bridge.FetchEvent) error {
	l := s.launcher().Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("events: launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("events: connect to browser: %w", err)
	}
	defer browser.Close()

	// Subscribe before enabling discovery so existing tabs are reported too.
	wait := browser.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			go s.watchPage(ctx, browser, e.TargetInfo.TargetID, out)
		},
		func(e *proto.TargetTargetDestroyed) {
			s.mu.Lock()
			delete(s.watched, e.TargetID)
			s.mu.Unlock()
		},
	)
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		return fmt.Errorf("events: discover targets: %w", err)
	}
	s.log.Info().Str("control_url", controlURL).Bool("headless", s.opts.Headless).Msg("Browser started")

	for _, u := range s.opts.StartURLs {
		if _, err := browser.Page(proto.TargetCreateTarget{URL: u}); err != nil {
			s.log.Warn().Err(err).Str("url", u).Msg("Failed to open start URL")
		}
	}

	wait()
	s.log.Info().Msg("Browser closed")
	return nil
}

// watchPage enables network events on one tab and forwards finished
// responses.
func (s *BrowserSource) watchPage(ctx context.Context, browser *rod.Browser, id proto.TargetTargetID, out chan<- bridge.FetchEvent) {
	s.mu.Lock()
	if s.watched[id] {
		s.mu.Unlock()
		return
	}
	s.watched[id] = true
	s.mu.Unlock()

	page, err := browser.PageFromTarget(id)
	if err != nil {
		s.log.Debug().Err(err).Str("target", string(id)).Msg("Could not attach to page")
		return
	}
	page = page.Context(ctx)

	wait := page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			s.tracker.Response(e)
		},
		func(e *proto.NetworkLoadingFinished) {
			ev, ok := s.tracker.Finished(e.RequestID)
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		},
		func(e *proto.NetworkLoadingFailed) {
			s.tracker.Failed(e.RequestID)
		},
	)
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		s.log.Warn().Err(err).Str("target", string(id)).Msg("Could not enable network events")
		return
	}
	s.log.Debug().Str("target", string(id)).Msg("Watching page")
	wait()
}
