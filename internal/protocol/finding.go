package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Field names the core reads from or injects into a finding.
const (
	FieldDetectorName = "DetectorName"
	FieldRaw          = "Raw"
	FieldVerified     = "Verified"
	FieldTimestamp    = "timestamp"
	FieldURL          = "url"
)

// Finding is one detector result. Its fields are whatever the detector
// emitted; the core only adds FieldTimestamp and FieldURL.
type Finding map[string]any

// WithReceipt returns a copy of f carrying the receipt time (epoch millis)
// and the URL of the scanned resource. f itself is not modified.
func (f Finding) WithReceipt(timestampMillis int64, url string) Finding {
	out := make(Finding, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	out[FieldTimestamp] = timestampMillis
	out[FieldURL] = url
	return out
}

// DetectorName returns the detector that produced the finding, or "".
func (f Finding) DetectorName() string {
	s, _ := f[FieldDetectorName].(string)
	return s
}

// Raw returns the matched secret value, or "".
func (f Finding) Raw() string {
	s, _ := f[FieldRaw].(string)
	return s
}

// Verified reports whether the detector confirmed the secret is live.
func (f Finding) Verified() bool {
	b, _ := f[FieldVerified].(bool)
	return b
}

// URL returns the injected resource URL, or "".
func (f Finding) URL() string {
	s, _ := f[FieldURL].(string)
	return s
}

// Timestamp returns the injected receipt time in epoch millis. Values that
// went through a JSON round trip come back as float64 or json.Number.
func (f Finding) Timestamp() int64 {
	switch v := f[FieldTimestamp].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// ErrTrailingData is returned by UnmarshalNumbers when data holds more than
// one JSON value.
var ErrTrailingData = errors.New("protocol: trailing data after JSON value")

// UnmarshalNumbers decodes one JSON value from data like json.Unmarshal, but
// numbers landing in untyped fields become json.Number so large integers in
// detector output keep every digit.
func UnmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return ErrTrailingData
	}
	return nil
}
