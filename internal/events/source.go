// Package events produces the stream of completed fetches that feeds the
// bridge, either from a live browser or from a recorded NDJSON stream.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/bridge"
)

// Source emits fetch events until ctx is cancelled or it runs dry.
// Run must not close out; the caller owns it.
type Source interface {
	Run(ctx context.Context, out chan<- bridge.FetchEvent) error
}

// maxLineSize bounds one NDJSON event line.
const maxLineSize = 1024 * 1024

// ReaderSource reads one JSON fetch event per line.
type ReaderSource struct {
	r   io.Reader
	log zerolog.Logger
}

// NewReaderSource creates a ReaderSource over r.
func NewReaderSource(r io.Reader, logger zerolog.Logger) *ReaderSource {
	return &ReaderSource{
		r:   r,
		log: logger.With().Str("component", "source").Logger(),
	}
}

// Run emits every well-formed line. Malformed lines and events without an
// id or url are skipped.
func (s *ReaderSource) Run(ctx context.Context, out chan<- bridge.FetchEvent) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev bridge.FetchEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			s.log.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed event")
			continue
		}
		if ev.RequestID == "" || ev.URL == "" {
			s.log.Warn().Int("line", lineNo).Msg("Skipping event without requestId or url")
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("events: read line %d: %w", lineNo+1, err)
	}
	return nil
}
