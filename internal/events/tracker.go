package events

import (
	"sort"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/0x6d61/webtrufflehog/internal/bridge"
)

// Tracker pairs a response's metadata with the later notification that its
// body finished loading. Only finished requests become fetch events.
type Tracker struct {
	mu      sync.Mutex
	pending map[proto.NetworkRequestID]bridge.FetchEvent
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[proto.NetworkRequestID]bridge.FetchEvent)}
}

// Response records the metadata of a received response. A redirect reuses
// the request id, so a later response replaces an earlier one.
func (t *Tracker) Response(e *proto.NetworkResponseReceived) {
	if e == nil || e.Response == nil {
		return
	}
	ev := bridge.FetchEvent{
		RequestID: string(e.RequestID),
		URL:       e.Response.URL,
		Type:      resourceType(e.Type),
		Headers:   convertHeaders(e.Response.Headers),
	}

	t.mu.Lock()
	t.pending[e.RequestID] = ev
	t.mu.Unlock()
}

// Finished returns the completed event for id, if its response was seen.
func (t *Tracker) Finished(id proto.NetworkRequestID) (bridge.FetchEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return ev, ok
}

// Failed forgets id.
func (t *Tracker) Failed(id proto.NetworkRequestID) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Pending returns the number of responses still waiting to finish.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// convertHeaders flattens CDP headers into a list sorted by name.
func convertHeaders(h proto.NetworkHeaders) []bridge.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]bridge.Header, 0, len(h))
	for name, value := range h {
		headers = append(headers, bridge.Header{Name: name, Value: value.String()})
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })
	return headers
}

// resourceType maps CDP resource types onto the lower-case names the host
// expects.
func resourceType(t proto.NetworkResourceType) string {
	switch t {
	case proto.NetworkResourceTypeDocument:
		return "main_frame"
	case proto.NetworkResourceTypeXHR, proto.NetworkResourceTypeFetch:
		return "xmlhttprequest"
	case "":
		return "other"
	}
	return strings.ToLower(string(t))
}
