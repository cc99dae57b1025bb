package recognizer

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totoroyyb/movecam/internal/wire"
)

// serveOnce accepts a single connection and answers with reply.
func serveOnce(t *testing.T, reply []float32) (addr string, got chan *wire.Request) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got = make(chan *wire.Request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req, err := wire.ReadRequest(conn)
		if err != nil {
			return
		}
		got <- req
		wire.WriteResponse(conn, reply)
	}()
	return ln.Addr().String(), got
}

func TestDetect(t *testing.T) {
	reply := []float32{0.5, 0.25, 0.9}
	addr, got := serveOnce(t, reply)

	r, err := New(addr)
	require.NoError(t, err)

	frame := []byte{1, 2, 3, 4}
	kps, err := r.Detect(frame, 320, 240)
	require.NoError(t, err)
	assert.Equal(t, reply, kps)

	req := <-got
	assert.Equal(t, frame, req.Data)
	assert.EqualValues(t, 320, req.Width)
	assert.EqualValues(t, 240, req.Height)
	assert.NotZero(t, req.Timestamp.Millis())
}

func TestDetectDropped(t *testing.T) {
	addr, _ := serveOnce(t, nil)

	r, err := New(addr)
	require.NoError(t, err)

	kps, err := r.Detect([]byte{1}, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, kps, "admission drop is not an error")
}

func TestDetectConnectFailure(t *testing.T) {
	// Nothing listens here.
	r, err := New("127.0.0.1:1")
	require.NoError(t, err)

	_, err = r.Detect([]byte{1}, 1, 1)
	assert.Error(t, err)
}

func TestNewFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1:11111\n"), 0600))

	r, err := NewFromEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:11111", r.addr)
}

func TestNewFromEnvFileMissing(t *testing.T) {
	_, err := NewFromEnvFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestNewRejectsBareAddress(t *testing.T) {
	_, err := New("not-an-address")
	assert.Error(t, err)
}
