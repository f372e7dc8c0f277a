package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrameSize bounds a single host-to-core message, matching the
// limit browsers enforce on native messaging hosts.
const DefaultMaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when a frame header announces more bytes
// than the decoder accepts.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// Encoder writes length-prefixed JSON frames: a 4-byte little-endian
// length followed by that many bytes of UTF-8 JSON. It is safe for
// concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it as one frame.
func (e *Encoder) Encode(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}

	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed JSON frames.
type Decoder struct {
	r       io.Reader
	maxSize int
	header  [4]byte
}

// NewDecoder returns a Decoder reading from r. A maxSize of 0 or less
// selects DefaultMaxFrameSize.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{r: r, maxSize: maxSize}
}

// Next returns the payload of the next frame. It returns io.EOF when the
// stream ends cleanly between frames and io.ErrUnexpectedEOF when it ends
// mid-frame.
func (d *Decoder) Next() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(d.header[:])
	if uint64(size) > uint64(d.maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, size, d.maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Decode reads the next frame and unmarshals it into v. A frame that is
// read successfully but holds invalid JSON returns a *json.SyntaxError or
// *json.UnmarshalTypeError; the stream remains usable in that case.
func (d *Decoder) Decode(v any) error {
	payload, err := d.Next()
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
