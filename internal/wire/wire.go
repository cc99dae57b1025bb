// Package wire implements the inference RPC framing.
//
// All integers are big-endian. One request per connection:
//
//	request:  timestamp_ms u128 | width u32 | height u32 | len u64 | bytes[len]
//	response: n u64 | float32[n]
//
// A response with n=0 means the request was dropped by admission control.
package wire

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
)

const headerSize = 16 + 4 + 4 + 8

// MaxPayload bounds a request body; a raw 4K YUYV frame is ~17 MB, so this
// rejects corrupt length fields without constraining real frames.
const MaxPayload = 64 << 20

// MaxResponseLen bounds the element count of a response.
const MaxResponseLen = 1 << 20

// Timestamp is a 128-bit millisecond wall-clock timestamp, matching the
// request layout. Real timestamps fit the low word.
type Timestamp struct {
	Hi uint64
	Lo uint64
}

// Now returns the current wall clock in milliseconds.
func Now() Timestamp {
	return Timestamp{Lo: uint64(time.Now().UnixMilli())}
}

// Millis collapses the timestamp to 64-bit milliseconds, which the
// admission controller compares on.
func (t Timestamp) Millis() uint64 {
	return t.Lo
}

// Request is one inference submission: a raw YUYV frame and its geometry.
type Request struct {
	Timestamp Timestamp
	Width     uint32
	Height    uint32
	Data      []byte
}

// Marshal renders the request frame.
func (r *Request) Marshal() []byte {
	buf := make([]byte, headerSize+len(r.Data))
	binary.BigEndian.PutUint64(buf[0:], r.Timestamp.Hi)
	binary.BigEndian.PutUint64(buf[8:], r.Timestamp.Lo)
	binary.BigEndian.PutUint32(buf[16:], r.Width)
	binary.BigEndian.PutUint32(buf[20:], r.Height)
	binary.BigEndian.PutUint64(buf[24:], uint64(len(r.Data)))
	copy(buf[headerSize:], r.Data)
	return buf
}

// WriteRequest writes the framed request to w.
func WriteRequest(w io.Writer, r *Request) error {
	if _, err := w.Write(r.Marshal()); err != nil {
		return errors.Wrap(err, "write request")
	}
	return nil
}

// ReadRequest reads one framed request from r.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read request header")
	}

	req := &Request{
		Timestamp: Timestamp{
			Hi: binary.BigEndian.Uint64(hdr[0:]),
			Lo: binary.BigEndian.Uint64(hdr[8:]),
		},
		Width:  binary.BigEndian.Uint32(hdr[16:]),
		Height: binary.BigEndian.Uint32(hdr[20:]),
	}

	n := binary.BigEndian.Uint64(hdr[24:])
	if n > MaxPayload {
		return nil, errors.Errorf("request body of %d bytes exceeds limit", n)
	}
	req.Data = make([]byte, n)
	if _, err := io.ReadFull(r, req.Data); err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	return req, nil
}

// WriteResponse writes a keypoint vector. A nil or empty vector encodes the
// dropped-by-admission response (bare n=0).
func WriteResponse(w io.Writer, data []float32) error {
	buf := make([]byte, 8+4*len(data))
	binary.BigEndian.PutUint64(buf[0:], uint64(len(data)))
	for i, f := range data {
		binary.BigEndian.PutUint32(buf[8+4*i:], math.Float32bits(f))
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write response")
	}
	return nil
}

// ReadResponse reads a keypoint vector. Dropped requests come back as an
// empty, non-nil slice.
func ReadResponse(r io.Reader) ([]float32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read response length")
	}
	n := binary.BigEndian.Uint64(hdr[:])
	if n > MaxResponseLen {
		return nil, errors.Errorf("response of %d elements exceeds limit", n)
	}

	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:]))
	}
	return data, nil
}
