// Package bridge connects completed browser fetches to the scanning host and
// writes the host's answers into the persisted store.
//
// It runs three independent tasks: the fetch-filter task consumes fetch
// events and dispatches scan requests, the heartbeat task probes the host's
// queue depth while a session is connected, and the inbound-demux task
// classifies host messages and stores them. The tasks share nothing but the
// Manager's session state and the store.
package bridge

import "strings"

// Header is one response header as reported by the browser.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FetchEvent describes one completed network fetch.
type FetchEvent struct {
	// RequestID is the browser-assigned request identifier. It doubles as
	// the correlation key for the host's answer.
	RequestID string `json:"requestId"`

	URL string `json:"url"`

	// Type is the browser's resource type (script, image, xhr, ...).
	Type string `json:"type"`

	Headers []Header `json:"responseHeaders,omitempty"`
}

// ContentType returns the value of the first Content-Type header, matching
// the header name case-insensitively, or "" when there is none.
func (e *FetchEvent) ContentType() string {
	for _, h := range e.Headers {
		if strings.EqualFold(h.Name, "content-type") {
			return h.Value
		}
	}
	return ""
}
