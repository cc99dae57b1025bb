package server

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totoroyyb/movecam/internal/wire"
)

func startServer(t *testing.T, inf Inferer) *Server {
	t.Helper()
	s, err := New(Options{Addr: "127.0.0.1:0", Workers: 2}, inf)
	require.NoError(t, err)

	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

func roundTrip(t *testing.T, addr net.Addr, ts uint64) []float32 {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := &wire.Request{
		Timestamp: wire.Timestamp{Lo: ts},
		Width:     2,
		Height:    2,
		Data:      []byte{16, 128, 16, 128, 16, 128, 16, 128},
	}
	require.NoError(t, wire.WriteRequest(conn, req))

	kps, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	return kps
}

func TestServeAndInfer(t *testing.T) {
	var calls int64
	inf := InfererFunc(func(rgb []byte, w, h int) ([]float32, error) {
		atomic.AddInt64(&calls, 1)
		assert.Equal(t, InputSize, w)
		assert.Equal(t, InputSize, h)
		assert.Len(t, rgb, InputSize*InputSize*3)
		return []float32{0.5, 0.5, 0.99}, nil
	})
	s := startServer(t, inf)

	kps := roundTrip(t, s.Addr(), 1000)
	assert.Equal(t, []float32{0.5, 0.5, 0.99}, kps)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestStaleRequestDropped(t *testing.T) {
	inf := InfererFunc(func(rgb []byte, w, h int) ([]float32, error) {
		return []float32{1}, nil
	})
	s := startServer(t, inf)

	// First request pins latest_ts. The second is inside the admission
	// window whatever the interval has decayed to; the third is past it.
	assert.NotEmpty(t, roundTrip(t, s.Addr(), 10_000))
	assert.Empty(t, roundTrip(t, s.Addr(), 10_010), "stale frame must be dropped")
	assert.NotEmpty(t, roundTrip(t, s.Addr(), 11_000))
}

func TestMalformedRequestIsRequestScoped(t *testing.T) {
	inf := InfererFunc(func(rgb []byte, w, h int) ([]float32, error) {
		return []float32{1}, nil
	})
	s := startServer(t, inf)

	// A connection that dies mid-header only kills that request.
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	conn.Write([]byte{1, 2, 3})
	conn.Close()

	assert.NotEmpty(t, roundTrip(t, s.Addr(), 50_000))
}

func TestInferenceFailureYieldsEmptyVector(t *testing.T) {
	inf := InfererFunc(func(rgb []byte, w, h int) ([]float32, error) {
		return nil, assert.AnError
	})
	s := startServer(t, inf)

	assert.Empty(t, roundTrip(t, s.Addr(), 1000))
}

func TestMetricsHandler(t *testing.T) {
	inf := InfererFunc(func(rgb []byte, w, h int) ([]float32, error) {
		return []float32{1}, nil
	})
	s := startServer(t, inf)
	assert.NotNil(t, s.MetricsHandler())
}
