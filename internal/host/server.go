package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
	"github.com/0x6d61/webtrufflehog/internal/transport"
)

const (
	// DefaultWorkers is the number of concurrent downloads and scans.
	DefaultWorkers = 10

	// DefaultQueueCapacity bounds the number of scan requests waiting for a
	// worker. Requests beyond it are dropped.
	DefaultQueueCapacity = 10000
)

// Options tune a Server.
type Options struct {
	Workers       int
	QueueCapacity int

	// MaxMessageSize bounds one inbound frame (0 = protocol default).
	MaxMessageSize int

	Logger zerolog.Logger
}

// Server is the scanning host.
type Server struct {
	fetcher transport.Fetcher
	scanner Scanner
	results *ResultLog
	cache   *cache
	opts    Options
	log     zerolog.Logger
}

// NewServer creates a Server. results may be nil.
func NewServer(fetcher transport.Fetcher, scanner Scanner, results *ResultLog, opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	return &Server{
		fetcher: fetcher,
		scanner: scanner,
		results: results,
		cache:   newCache(),
		opts:    opts,
		log:     opts.Logger.With().Str("component", "host").Logger(),
	}
}

// Serve reads requests from r and writes responses to w until r ends or ctx
// is cancelled. At end of input it abandons queued work, lets running jobs
// finish and flushes their results; cancelling ctx interrupts running jobs
// too. A clean end of input returns nil.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := protocol.NewEncoder(w)
	dec := protocol.NewDecoder(r, s.opts.MaxMessageSize)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := newWorkerPool(s.opts.Workers, s.opts.QueueCapacity, s.log)
	pool.start(workCtx, s.process)

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		s.sendResults(enc, pool.results)
	}()

	stop := make(chan struct{})
	defer close(stop)
	requests := make(chan protocol.HostRequest)
	readErr := make(chan error, 1)
	go s.readLoop(dec, requests, readErr, stop)

	s.log.Info().
		Int("workers", s.opts.Workers).
		Int("queue_capacity", s.opts.QueueCapacity).
		Msg("Host ready")

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case req := <-requests:
			s.handle(req, pool, enc)
		case err = <-readErr:
			break loop
		}
	}

	// Running jobs finish with a live context so their results are sent;
	// after a cancel they were already interrupted through ctx.
	pool.abandon()
	pool.close()
	<-senderDone

	stats := s.fetcher.Stats()
	s.log.Info().
		Int64("downloads", stats.TotalRequests).
		Int64("failed", stats.Failed).
		Int64("bytes", stats.TotalBytes).
		Dur("avg_duration", stats.AvgDuration).
		Msg("Host stopped")
	return err
}

// readLoop decodes requests until the input ends. Frames holding invalid
// JSON are skipped.
func (s *Server) readLoop(dec *protocol.Decoder, requests chan<- protocol.HostRequest, readErr chan<- error, stop <-chan struct{}) {
	for {
		var req protocol.HostRequest
		if err := dec.Decode(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.log.Warn().Err(err).Msg("Skipping malformed request")
				continue
			}
			if errors.Is(err, io.EOF) {
				readErr <- nil
			} else {
				readErr <- fmt.Errorf("host: read request: %w", err)
			}
			return
		}

		select {
		case requests <- req:
		case <-stop:
			return
		}
	}
}

// handle applies one request. A message may carry both a scan request and
// a status probe; the scan is queued first.
func (s *Server) handle(req protocol.HostRequest, pool *workerPool, enc *protocol.Encoder) {
	if req.IsScan() {
		if !pool.submit(job{id: req.ID, url: req.URL}) {
			s.log.Warn().Str("url", req.URL).Int("queued", pool.queued()).Msg("Queue full, dropping scan request")
		} else {
			s.log.Debug().Str("id", req.ID).Str("url", req.URL).Msg("Scan request queued")
		}
	}
	if req.IsStatus() {
		if err := enc.Encode(protocol.StatusResponse(pool.queued())); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send status")
		}
	}
}

// process downloads and scans one resource. Each URL is handled once per
// process lifetime unless the attempt fails; identical bodies are scanned
// once.
func (s *Server) process(ctx context.Context, j job) (protocol.Response, bool) {
	if !s.cache.claimURL(j.url) {
		s.log.Debug().Str("url", j.url).Msg("URL already scanned")
		return protocol.Response{}, false
	}

	resp, err := s.fetcher.Fetch(ctx, j.url)
	if err != nil {
		s.cache.releaseURL(j.url)
		s.log.Warn().Err(err).Str("url", j.url).Msg("Download failed")
		return protocol.Response{}, false
	}
	if len(resp.Body) == 0 {
		s.cache.releaseURL(j.url)
		s.log.Debug().Str("url", j.url).Msg("Empty body, nothing to scan")
		return protocol.Response{}, false
	}
	if resp.Truncated {
		s.log.Debug().Str("url", j.url).Int("bytes", len(resp.Body)).Msg("Body truncated before scanning")
	}

	contentHash := hashOf(resp.Body)
	findings, cached := s.cache.lookup(contentHash)
	if !cached {
		findings, err = s.scanner.Scan(ctx, resp.Body)
		if err != nil {
			s.cache.releaseURL(j.url)
			s.log.Error().Err(err).Str("url", j.url).Msg("Scan failed")
			return protocol.Response{}, false
		}
		s.cache.remember(contentHash, findings)
	}

	if len(findings) == 0 {
		return protocol.Response{}, false
	}

	s.log.Info().
		Str("id", j.id).
		Str("url", j.url).
		Int("count", len(findings)).
		Bool("cached", cached).
		Msg("Secrets found")
	return protocol.Response{ID: j.id, URL: j.url, Findings: findings}, true
}

// sendResults is the only writer of results: each one is logged to the
// results file, then sent to the core.
func (s *Server) sendResults(enc *protocol.Encoder, results <-chan protocol.Response) {
	for res := range results {
		if err := s.results.Write(res); err != nil {
			s.log.Warn().Err(err).Str("url", res.URL).Msg("Failed to record result")
		}
		if err := enc.Encode(res); err != nil {
			s.log.Warn().Err(err).Str("url", res.URL).Msg("Failed to send result")
		}
	}
}
