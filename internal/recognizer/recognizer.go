// Package recognizer is the client side of the inference RPC: one fresh
// connection per frame, Nagle disabled, big-endian framing from package
// wire. An empty response vector is the server's admission drop, not an
// error.
package recognizer

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/totoroyyb/movecam/internal/logging"
	"github.com/totoroyyb/movecam/internal/wire"
)

var log = logging.DefaultLogger.WithTag("recognizer")

// DefaultEnvPath is the address file the original SDK reads: a single
// line of IP:PORT.
const DefaultEnvPath = "moveneter_sdk/env"

// DefaultTimeout bounds each detect round trip.
const DefaultTimeout = 5 * time.Second

type Recognizer struct {
	addr    string
	timeout time.Duration
}

// New returns a recognizer talking to addr ("IP:PORT").
func New(addr string) (*Recognizer, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, errors.Wrapf(err, "server address %q", addr)
	}
	return &Recognizer{addr: addr, timeout: DefaultTimeout}, nil
}

// NewFromEnvFile reads the server address from the env file. An empty
// path uses DefaultEnvPath.
func NewFromEnvFile(path string) (*Recognizer, error) {
	if path == "" {
		path = DefaultEnvPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read server address file")
	}
	return New(strings.TrimSpace(string(raw)))
}

// SetTimeout overrides the per-request deadline. Zero disables it.
func (r *Recognizer) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Detect submits one raw YUYV frame and returns the keypoint vector. A
// request dropped by the server's admission control comes back as an
// empty vector with no error.
func (r *Recognizer) Detect(frame []byte, width, height uint32) ([]float32, error) {
	conn, err := net.DialTimeout("tcp", r.addr, r.timeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect inference server")
	}
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			log.Warn("disable nagle: %v", err)
		}
	}
	if r.timeout > 0 {
		conn.SetDeadline(time.Now().Add(r.timeout))
	}

	req := &wire.Request{
		Timestamp: wire.Now(),
		Width:     width,
		Height:    height,
		Data:      frame,
	}
	if err := wire.WriteRequest(conn, req); err != nil {
		return nil, err
	}

	kps, err := wire.ReadResponse(conn)
	if err != nil {
		return nil, err
	}
	if len(kps) == 0 {
		log.Debug("request dropped by server admission control")
	}
	return kps, nil
}
