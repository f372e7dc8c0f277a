// Package protocol defines the messages exchanged with the scanning host
// and the length-prefixed JSON framing they travel in.
package protocol

import "encoding/json"

// StatusCheck is the only value the core ever puts in a status probe.
const StatusCheck = "check"

// ScanRequest asks the host to scan one fetched resource. ID is the
// browser-assigned request identifier; the host echoes it back so results
// can be keyed without any pending-request bookkeeping on our side.
type ScanRequest struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// StatusProbe asks the host for its current queue depth.
type StatusProbe struct {
	Status string `json:"status"`
}

// NewStatusProbe returns the heartbeat message.
func NewStatusProbe() StatusProbe {
	return StatusProbe{Status: StatusCheck}
}

// Kind classifies a host response by shape.
type Kind int

const (
	KindUnknown Kind = iota
	KindFindings
	KindStatus
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindFindings:
		return "findings"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Response is any message the host sends to the core. It is either a scan
// result (ID, URL, Findings) or a queue-depth status; anything else is
// classified KindUnknown.
type Response struct {
	ID       string    `json:"id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Findings []Finding `json:"findings,omitempty"`
	Status   *int      `json:"status,omitempty"`
}

// Kind reports which branch the response belongs to. A non-empty findings
// list wins over a status value; a status of zero is still a status.
func (r *Response) Kind() Kind {
	switch {
	case len(r.Findings) > 0:
		return KindFindings
	case r.Status != nil:
		return KindStatus
	default:
		return KindUnknown
	}
}

// StatusResponse builds the host's reply to a status probe.
func StatusResponse(queueSize int) Response {
	return Response{Status: &queueSize}
}

// HostRequest is what the host reads off the channel. A single message may
// carry both a scan request and a status probe.
type HostRequest struct {
	ID     string          `json:"id,omitempty"`
	URL    string          `json:"url,omitempty"`
	Type   string          `json:"type,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

// IsScan reports whether the message names a resource to scan.
func (r *HostRequest) IsScan() bool {
	return r.URL != ""
}

// IsStatus reports whether the message asks for the queue depth.
func (r *HostRequest) IsStatus() bool {
	return len(r.Status) > 0
}
