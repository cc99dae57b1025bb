// Package server implements the inference RPC server: a paced accept
// loop feeding a fixed worker pool, with adaptive admission control
// dropping stale frames under load.
package server

import (
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/totoroyyb/movecam/internal/imaging"
	"github.com/totoroyyb/movecam/internal/logging"
	"github.com/totoroyyb/movecam/internal/pool"
	"github.com/totoroyyb/movecam/internal/throttle"
	"github.com/totoroyyb/movecam/internal/wire"
)

var log = logging.DefaultLogger.WithTag("server")

// Inferer runs pose inference over a packed RGB image and returns the
// flat keypoint vector. The runtime behind it is not this package's
// business.
type Inferer interface {
	Infer(rgb []byte, width, height int) ([]float32, error)
}

// InfererFunc adapts a function to Inferer.
type InfererFunc func(rgb []byte, width, height int) ([]float32, error)

func (f InfererFunc) Infer(rgb []byte, width, height int) ([]float32, error) {
	return f(rgb, width, height)
}

const (
	// DefaultWorkers matches the original server deployment.
	DefaultWorkers = 10

	// InputSize is the square model input edge.
	InputSize = 192

	// acceptPace bounds how long the accept loop sleeps between polls,
	// mirroring the original's WouldBlock/50 ms cycle.
	acceptPace = 50 * time.Millisecond
)

type Options struct {
	// Addr is the bind address, "IP:PORT".
	Addr string

	// Workers sizes the handler pool. Zero means DefaultWorkers.
	Workers int
}

type Server struct {
	ln      *net.TCPListener
	pool    *pool.Pool
	ctrl    *throttle.Controller
	inf     Inferer
	metrics *metrics

	done chan struct{}
}

// New binds the listening socket and starts the worker pool.
func New(opts Options, inf Inferer) (*Server, error) {
	if inf == nil {
		return nil, errors.New("server: inferer is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	addr, err := net.ResolveTCPAddr("tcp", opts.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind address %q", opts.Addr)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}

	ctrl := throttle.NewController()
	return &Server{
		ln:      ln,
		pool:    pool.New(workers),
		ctrl:    ctrl,
		inf:     inf,
		metrics: newMetrics(ctrl),
		done:    make(chan struct{}),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// MetricsHandler serves the server's Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// Serve accepts until Close. Accepts are paced by short deadlines so the
// loop re-polls every 50 ms, the same cadence as a non-blocking socket
// with a retry sleep.
func (s *Server) Serve() error {
	log.Info("listening on %s", s.ln.Addr())

	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		s.ln.SetDeadline(time.Now().Add(acceptPace))
		conn, err := s.ln.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return nil
			default:
				return errors.Wrap(err, "accept")
			}
		}

		s.ctrl.MarkReceived()
		s.metrics.requests.Inc()
		err = s.pool.Submit(func() {
			if err := s.handle(conn); err != nil {
				s.metrics.failures.Inc()
				log.Warn("handler: %v", err)
			}
			s.ctrl.MarkFinished()
		})
		if err != nil {
			// Pool already draining; the connection cannot be served.
			conn.Close()
			s.ctrl.MarkFinished()
		}
	}
}

// Close stops accepting and drains in-flight handlers.
func (s *Server) Close() error {
	close(s.done)
	err := s.ln.Close()
	s.pool.Close()
	return err
}

// handle runs one request: read, convert, admit, infer, respond. Failures
// are terminal for the request only.
func (s *Server) handle(conn *net.TCPConn) error {
	defer conn.Close()
	conn.SetNoDelay(true)

	req, err := wire.ReadRequest(conn)
	if err != nil {
		return err
	}

	rgb := imaging.YUYVToRGB(req.Data, int(req.Width), int(req.Height))
	imaging.FlipHorizontal(rgb, int(req.Width), int(req.Height))
	input := imaging.ResizeWithPad(rgb, int(req.Width), int(req.Height), InputSize, InputSize)

	if s.ctrl.ShouldDrop(req.Timestamp.Millis()) {
		s.metrics.dropped.Inc()
		log.Debug("dropped request stamped %d", req.Timestamp.Millis())
		return wire.WriteResponse(conn, nil)
	}

	kps, err := s.inf.Infer(input, InputSize, InputSize)
	if err != nil {
		// The client still gets a well-formed frame; an empty vector
		// reads as "nothing detected".
		log.Error("inference: %v", err)
		return wire.WriteResponse(conn, nil)
	}
	return wire.WriteResponse(conn, kps)
}
