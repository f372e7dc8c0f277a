package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
	"github.com/0x6d61/webtrufflehog/internal/store"
)

// Item is one finding as shown to the user.
type Item struct {
	RequestID string
	URL       string
	Detector  string
	Raw       string
	Verified  bool

	// Timestamp is the receipt time in epoch milliseconds.
	Timestamp int64

	Finding protocol.Finding
}

// Received returns the receipt time.
func (i *Item) Received() time.Time {
	return time.UnixMilli(i.Timestamp)
}

// View is a snapshot of the store.
type View struct {
	// Items are sorted newest first.
	Items []Item

	// QueueSize is the last reported host queue depth, nil if none was
	// reported yet.
	QueueSize *int

	// Skipped counts findings entries that could not be decoded.
	Skipped int
}

// Verified returns the number of verified findings.
func (v *View) Verified() int {
	n := 0
	for _, it := range v.Items {
		if it.Verified {
			n++
		}
	}
	return n
}

// URLs returns the number of distinct URLs with findings.
func (v *View) URLs() int {
	seen := make(map[string]struct{})
	for _, it := range v.Items {
		seen[it.URL] = struct{}{}
	}
	return len(seen)
}

// Collect reads every findings entry and the queue size from st.
func Collect(ctx context.Context, st store.Store) (*View, error) {
	entries, err := st.List(ctx, store.FindingsPrefix)
	if err != nil {
		return nil, fmt.Errorf("report: list findings: %w", err)
	}

	view := &View{}
	for _, e := range entries {
		var findings []protocol.Finding
		if err := protocol.UnmarshalNumbers(e.Value, &findings); err != nil {
			view.Skipped++
			continue
		}
		requestID := strings.TrimPrefix(e.Key, store.FindingsPrefix)
		for _, f := range findings {
			view.Items = append(view.Items, Item{
				RequestID: requestID,
				URL:       f.URL(),
				Detector:  f.DetectorName(),
				Raw:       f.Raw(),
				Verified:  f.Verified(),
				Timestamp: f.Timestamp(),
				Finding:   f,
			})
		}
	}

	sort.SliceStable(view.Items, func(i, j int) bool {
		return view.Items[i].Timestamp > view.Items[j].Timestamp
	})

	var queueSize int
	ok, err := st.Get(ctx, store.QueueSizeKey, &queueSize)
	if err != nil {
		return nil, fmt.Errorf("report: read queue size: %w", err)
	}
	if ok {
		view.QueueSize = &queueSize
	}

	return view, nil
}
