package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
	"github.com/0x6d61/webtrufflehog/internal/store"
)

// Demux classifies host messages and writes them to the store.
type Demux struct {
	store store.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewDemux creates a Demux writing to st. A nil now uses time.Now.
func NewDemux(st store.Store, now func() time.Time, logger zerolog.Logger) *Demux {
	if now == nil {
		now = time.Now
	}
	return &Demux{
		store: st,
		now:   now,
		log:   logger.With().Str("component", "demux").Logger(),
	}
}

// OnMessage handles one inbound message:
//
//   - a non-empty findings list replaces findings_<id>, each finding stamped
//     with the receipt time and the message's url;
//   - otherwise a status field, zero included, replaces queueSize;
//   - anything else is ignored.
func (d *Demux) OnMessage(ctx context.Context, resp protocol.Response) {
	switch resp.Kind() {
	case protocol.KindFindings:
		d.storeFindings(ctx, resp)
	case protocol.KindStatus:
		if err := d.store.Put(ctx, store.QueueSizeKey, *resp.Status); err != nil {
			d.log.Error().Err(err).Msg("Failed to store queue size")
			return
		}
		d.log.Debug().Int("queue_size", *resp.Status).Msg("Queue size updated")
	default:
		d.log.Debug().Str("id", resp.ID).Msg("Ignoring message without findings or status")
	}
}

func (d *Demux) storeFindings(ctx context.Context, resp protocol.Response) {
	received := d.now().UnixMilli()
	records := make([]protocol.Finding, 0, len(resp.Findings))
	for _, f := range resp.Findings {
		records = append(records, f.WithReceipt(received, resp.URL))
	}

	key := store.FindingsKey(resp.ID)
	if err := d.store.Put(ctx, key, records); err != nil {
		d.log.Error().Err(err).Str("key", key).Msg("Failed to store findings")
		return
	}

	d.log.Info().
		Str("id", resp.ID).
		Str("url", resp.URL).
		Int("count", len(records)).
		Msg("Secrets found")
}
