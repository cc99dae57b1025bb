package wire

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Timestamp: Timestamp{Lo: 42}, Width: 192, Height: 192, Data: []byte{1, 2, 3}},
		{Timestamp: Timestamp{Hi: 7, Lo: 0xdeadbeef}, Width: 320, Height: 240, Data: bytes.Repeat([]byte{0xaa}, 320*240*2)},
		{Timestamp: Timestamp{}, Width: 0, Height: 0, Data: []byte{}},
	}

	for _, c := range cases {
		c := c
		var buf bytes.Buffer
		require.NoError(t, WriteRequest(&buf, &c))

		got, err := ReadRequest(&buf)
		require.NoError(t, err)
		assert.Equal(t, c.Timestamp, got.Timestamp)
		assert.Equal(t, c.Width, got.Width)
		assert.Equal(t, c.Height, got.Height)
		assert.Equal(t, []byte(c.Data), got.Data)
		assert.Zero(t, buf.Len(), "no trailing bytes")
	}
}

func TestRequestEncoding(t *testing.T) {
	// ts=42, w=192, h=192, payload 01 02 03.
	r := Request{Timestamp: Timestamp{Lo: 42}, Width: 192, Height: 192, Data: []byte{1, 2, 3}}

	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 0, // ts hi
		0, 0, 0, 0, 0, 0, 0, 42, // ts lo
		0, 0, 0, 192, // width
		0, 0, 0, 192, // height
		0, 0, 0, 0, 0, 0, 0, 3, // len
		1, 2, 3,
	}
	assert.Equal(t, want, r.Marshal())
}

func TestResponseBitExact(t *testing.T) {
	in := []float32{
		0, 1, -1, 0.25,
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		math.Float32frombits(0x00000001), // subnormal
		math.MaxFloat32,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, in))

	out, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, math.Float32bits(in[i]), math.Float32bits(out[i]), "element %d", i)
	}
}

func TestDroppedResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())

	out, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestShortRequest(t *testing.T) {
	r := Request{Width: 1, Height: 1, Data: []byte{1, 2, 3, 4}}
	enc := r.Marshal()

	_, err := ReadRequest(bytes.NewReader(enc[:len(enc)-1]))
	assert.Error(t, err)
}
