package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	doubleLine = "\u2550" // ═
	singleLine = "\u2500" // ─
	lineWidth  = 50

	// maxRawLength is how much of a secret is shown before truncation.
	maxRawLength = 200
)

// TextReporter outputs plain terminal text.
type TextReporter struct {
	// Location is used to display receipt times; nil means local time.
	Location *time.Location
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

// Generate writes the findings to w, newest first.
func (r *TextReporter) Generate(ctx context.Context, view *View, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	loc := r.Location
	if loc == nil {
		loc = time.Local
	}

	b := &strings.Builder{}
	doubleBar := strings.Repeat(doubleLine, lineWidth)
	singleBar := strings.Repeat(singleLine, lineWidth)

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintln(b, "webtrufflehog - Secrets Found")
	fmt.Fprintln(b, doubleBar)

	if view.QueueSize != nil {
		fmt.Fprintf(b, "Queue: %d\n", *view.QueueSize)
	}

	if len(view.Items) == 0 {
		fmt.Fprintln(b, singleBar)
		fmt.Fprintln(b, "No secrets found yet")
	}
	for _, it := range view.Items {
		detector := it.Detector
		if detector == "" {
			detector = "Unknown Type"
		}
		status := "Unverified"
		if it.Verified {
			status = "Verified"
		}

		fmt.Fprintln(b, singleBar)
		fmt.Fprintf(b, "[%s] %s\n", status, detector)
		fmt.Fprintf(b, "  URL:      %s\n", it.URL)
		if it.Raw != "" {
			fmt.Fprintf(b, "  Secret:   %s\n", truncate(it.Raw, maxRawLength))
		}
		if it.Timestamp > 0 {
			fmt.Fprintf(b, "  Found at: %s\n", it.Received().In(loc).Format("2006-01-02 15:04:05"))
		}
	}

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintf(b, "Summary: %d secrets found\n", len(view.Items))
	if view.Skipped > 0 {
		fmt.Fprintf(b, "Skipped %d unreadable entries\n", view.Skipped)
	}
	fmt.Fprintln(b, doubleBar)

	_, err := io.WriteString(w, b.String())
	return err
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
