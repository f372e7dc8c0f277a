package report

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// JSONReporter outputs structured JSON.
type JSONReporter struct {
	// Compact outputs single-line JSON when true (no indentation).
	Compact bool
}

// Format returns "json".
func (r *JSONReporter) Format() string {
	return "json"
}

// jsonOutput is the top-level JSON structure.
type jsonOutput struct {
	SchemaVersion string        `json:"schema_version"`
	Tool          string        `json:"tool"`
	QueueSize     *int          `json:"queue_size,omitempty"`
	Findings      []jsonFinding `json:"findings"`
	Summary       jsonSummary   `json:"summary"`
}

// jsonFinding represents one finding in JSON. Details carries the
// scanner's full record.
type jsonFinding struct {
	RequestID  string           `json:"request_id"`
	URL        string           `json:"url"`
	Detector   string           `json:"detector"`
	Verified   bool             `json:"verified"`
	Raw        string           `json:"raw,omitempty"`
	ReceivedAt *time.Time       `json:"received_at,omitempty"`
	Details    protocol.Finding `json:"details"`
}

// jsonSummary represents the summary in JSON.
type jsonSummary struct {
	TotalFindings int `json:"total_findings"`
	Verified      int `json:"verified"`
	AffectedURLs  int `json:"affected_urls"`
	Skipped       int `json:"skipped,omitempty"`
}

// Generate writes the findings to w as JSON.
func (r *JSONReporter) Generate(ctx context.Context, view *View, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	output := jsonOutput{
		SchemaVersion: "1.0",
		Tool:          "webtrufflehog",
		QueueSize:     view.QueueSize,
		Findings:      make([]jsonFinding, 0, len(view.Items)),
		Summary: jsonSummary{
			TotalFindings: len(view.Items),
			Verified:      view.Verified(),
			AffectedURLs:  view.URLs(),
			Skipped:       view.Skipped,
		},
	}

	for _, it := range view.Items {
		f := jsonFinding{
			RequestID: it.RequestID,
			URL:       it.URL,
			Detector:  it.Detector,
			Verified:  it.Verified,
			Raw:       it.Raw,
			Details:   it.Finding,
		}
		if it.Timestamp > 0 {
			received := it.Received().UTC()
			f.ReceivedAt = &received
		}
		output.Findings = append(output.Findings, f)
	}

	enc := json.NewEncoder(w)
	if !r.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(output)
}
