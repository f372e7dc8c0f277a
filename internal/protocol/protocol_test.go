package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseKind(t *testing.T) {
	zero, five := 0, 5
	tests := []struct {
		name string
		resp Response
		want Kind
	}{
		{"findings", Response{ID: "r1", Findings: []Finding{{"DetectorName": "AWS"}}}, KindFindings},
		{"status", Response{Status: &five}, KindStatus},
		{"zero status is a status", Response{Status: &zero}, KindStatus},
		{"empty findings falls through to status", Response{Findings: []Finding{}, Status: &five}, KindStatus},
		{"findings win over status", Response{Findings: []Finding{{}}, Status: &five}, KindFindings},
		{"empty", Response{}, KindUnknown},
		{"id only", Response{ID: "r1", URL: "http://x"}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Kind())
		})
	}
}

func TestResponse_UnmarshalDistinguishesZeroStatus(t *testing.T) {
	var withZero, without Response
	require.NoError(t, json.Unmarshal([]byte(`{"status":0}`), &withZero))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x"}`), &without))

	require.NotNil(t, withZero.Status)
	assert.Equal(t, 0, *withZero.Status)
	assert.Nil(t, without.Status)
}

func TestHostRequest(t *testing.T) {
	tests := []struct {
		raw        string
		wantScan   bool
		wantStatus bool
	}{
		{`{"id":"1","url":"http://a","type":"script"}`, true, false},
		{`{"status":"check"}`, false, true},
		{`{"url":"http://a","status":"check"}`, true, true},
		{`{}`, false, false},
	}
	for _, tt := range tests {
		var req HostRequest
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &req))
		assert.Equal(t, tt.wantScan, req.IsScan(), tt.raw)
		assert.Equal(t, tt.wantStatus, req.IsStatus(), tt.raw)
	}
}

func TestFinding_WithReceipt(t *testing.T) {
	orig := Finding{"DetectorName": "AWS", "Raw": "AKIA", "Verified": true}
	got := orig.WithReceipt(1700000000000, "http://x")

	assert.Equal(t, "AWS", got.DetectorName())
	assert.Equal(t, "AKIA", got.Raw())
	assert.True(t, got.Verified())
	assert.Equal(t, "http://x", got.URL())
	assert.Equal(t, int64(1700000000000), got.Timestamp())

	_, touched := orig[FieldTimestamp]
	assert.False(t, touched, "WithReceipt must copy, not modify, its receiver")
}

func TestFinding_TimestampAfterJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Finding{}.WithReceipt(1700000000123, "u"))
	require.NoError(t, err)

	var back Finding
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, int64(1700000000123), back.Timestamp())
}

func TestUnmarshalNumbers_KeepsLargeIntegers(t *testing.T) {
	data := []byte(`{"findings":[{"DetectorName":"Stripe","ExtraData":{"account":9007199254740993},"timestamp":1700000000123}]}`)

	var resp Response
	require.NoError(t, UnmarshalNumbers(data, &resp))
	require.Len(t, resp.Findings, 1)

	extra, ok := resp.Findings[0]["ExtraData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("9007199254740993"), extra["account"])
	assert.Equal(t, int64(1700000000123), resp.Findings[0].Timestamp())

	// Re-encoding writes the digits back unchanged.
	out, err := json.Marshal(resp.Findings[0])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"account":9007199254740993`)
}

func TestUnmarshalNumbers_TrailingData(t *testing.T) {
	var v map[string]any
	assert.ErrorIs(t, UnmarshalNumbers([]byte(`{"a":1} {"b":2}`), &v), ErrTrailingData)
	assert.ErrorIs(t, UnmarshalNumbers([]byte(`{"a":1} x`), &v), ErrTrailingData)
	assert.NoError(t, UnmarshalNumbers([]byte("{\"a\":1}\n"), &v))
	assert.Error(t, UnmarshalNumbers([]byte(`{"a":`), &v))
}

func TestFinding_MissingFields(t *testing.T) {
	f := Finding{"Verified": "yes"}
	assert.Equal(t, "", f.DetectorName())
	assert.Equal(t, "", f.Raw())
	assert.False(t, f.Verified())
	assert.Equal(t, int64(0), f.Timestamp())
}

func TestFrame_EncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(ScanRequest{ID: "42", URL: "http://a/b.bin", Type: "other"}))
	require.NoError(t, enc.Encode(NewStatusProbe()))

	raw := buf.Bytes()
	size := binary.LittleEndian.Uint32(raw[:4])
	assert.Equal(t, `{"id":"42","url":"http://a/b.bin","type":"other"}`, string(raw[4:4+size]))

	dec := NewDecoder(&buf, 0)
	var req HostRequest
	require.NoError(t, dec.Decode(&req))
	assert.Equal(t, "42", req.ID)
	assert.True(t, req.IsScan())

	req = HostRequest{}
	require.NoError(t, dec.Decode(&req))
	assert.True(t, req.IsStatus())
	assert.JSONEq(t, `"check"`, string(req.Status))

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]string{"k": "0123456789"}))

	_, err := NewDecoder(&buf, 8).Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrame_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]int{"status": 3}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	_, err := NewDecoder(truncated, 0).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrame_InvalidJSONKeepsStreamUsable(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 3)
	buf.Write(header)
	buf.WriteString("{x}")
	require.NoError(t, NewEncoder(&buf).Encode(StatusResponse(7)))

	dec := NewDecoder(&buf, 0)
	var resp Response
	err := dec.Decode(&resp)
	var syntaxErr *json.SyntaxError
	require.True(t, errors.As(err, &syntaxErr), "want syntax error, got %v", err)

	resp = Response{}
	require.NoError(t, dec.Decode(&resp))
	require.NotNil(t, resp.Status)
	assert.Equal(t, 7, *resp.Status)
}
