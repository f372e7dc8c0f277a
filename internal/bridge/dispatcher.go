package bridge

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// connector is the part of Manager the dispatcher needs.
type connector interface {
	EnsureConnected(ctx context.Context) bool
	Send(v any) error
}

// Dispatcher turns fetch events into scan requests.
type Dispatcher struct {
	conn connector
	log  zerolog.Logger
}

// NewDispatcher creates a Dispatcher that sends through conn.
func NewDispatcher(conn connector, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conn: conn,
		log:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// OnFetchCompleted makes sure a connection is being established, then sends
// a scan request if the resource is eligible and a session is connected.
// It reports whether a request was sent. Events that cannot be sent are
// dropped; there is no retry.
func (d *Dispatcher) OnFetchCompleted(ctx context.Context, ev FetchEvent) bool {
	connected := d.conn.EnsureConnected(ctx)

	contentType := ev.ContentType()
	if !Eligible(contentType) {
		d.log.Debug().Str("url", ev.URL).Str("content_type", contentType).Msg("Skipping textual resource")
		return false
	}
	if !connected {
		d.log.Debug().Str("url", ev.URL).Msg("Host not connected, dropping fetch event")
		return false
	}

	req := protocol.ScanRequest{ID: ev.RequestID, URL: ev.URL, Type: ev.Type}
	if err := d.conn.Send(req); err != nil {
		d.log.Warn().Err(err).Str("url", ev.URL).Msg("Failed to send scan request")
		return false
	}

	d.log.Debug().Str("id", ev.RequestID).Str("url", ev.URL).Msg("Scan request sent")
	return true
}
