//go:build linux

package movecam

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/totoroyyb/movecam/internal/camhelper"
	"github.com/totoroyyb/movecam/internal/capture"
	"github.com/totoroyyb/movecam/internal/imaging"
	"github.com/totoroyyb/movecam/internal/logging"
	"github.com/totoroyyb/movecam/internal/pool"
	"github.com/totoroyyb/movecam/internal/recognizer"
)

var log = logging.DefaultLogger.WithTag("pipeline")

// Pipeline ties the capture session to the inference client: frames come
// off the camera, a paced subset goes out for pose detection, and the
// latest keypoints ride on the preview.
type Pipeline struct {
	cfg Config

	cam     *capture.Capture
	recog   *recognizer.Recognizer
	pool    *pool.Pool
	preview *Preview

	helperCloser io.Closer

	// Detection results. The capture loop drains it non-blockingly and
	// keeps only the freshest vector; stale poses are dropped by design.
	results chan []float32

	dumped bool
}

// NewPipeline wires the pipeline but does not touch the device yet.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var (
		recog *recognizer.Recognizer
		err   error
	)
	switch {
	case cfg.ServerAddr != "":
		recog, err = recognizer.New(cfg.ServerAddr)
	case cfg.EnvFile != "":
		recog, err = recognizer.NewFromEnvFile(cfg.EnvFile)
	default:
		err = errNoServerAddress
	}
	if err != nil {
		return nil, err
	}

	helper, closer := openHelper(cfg)
	cam, err := capture.Open(cfg.Device, helper)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	p := &Pipeline{
		cfg:          cfg,
		cam:          cam,
		recog:        recog,
		pool:         pool.New(cfg.Workers),
		helperCloser: closer,
		results:      make(chan []float32, 32),
	}
	if cfg.PreviewAddr != "" {
		p.preview = NewPreview(cfg.PreviewAddr)
	}
	return p, nil
}

// openHelper picks the control-plane transport: the helper character
// device when present, the in-process engine when the process has the
// privileges for it, and direct device access as the last resort.
func openHelper(cfg Config) (io.ReadWriteSeeker, io.Closer) {
	if cfg.Helper != "" {
		if f, err := os.OpenFile(cfg.Helper, os.O_RDWR, 0); err == nil {
			log.Info("using helper device %s", cfg.Helper)
			return f, f
		} else {
			log.Warn("helper device %s unavailable: %v", cfg.Helper, err)
		}
	}

	if h, err := camhelper.Open(cfg.Device); err == nil {
		log.Info("using in-process helper")
		return h, h
	} else {
		log.Warn("in-process helper unavailable: %v", err)
	}

	log.Info("falling back to direct capture")
	return nil, nil
}

// Run brings the stream up and loops until the context is cancelled. Per
// frame: decode, overlay the freshest keypoints, publish; every submit
// interval, ship one frame to the inference server through the pool.
func (p *Pipeline) Run(ctx context.Context) error {
	width, height, err := p.cam.Prepare(p.cfg.Buffers, p.cfg.FPS)
	if err != nil {
		return errors.Wrap(err, "stream bring-up")
	}
	log.Info("streaming %dx%d @ %d fps (split=%v)", width, height, p.cfg.FPS, p.cam.Split())

	if p.preview != nil {
		go func() {
			if err := p.preview.Serve(); err != nil {
				log.Warn("preview server: %v", err)
			}
		}()
	}

	interval := time.Duration(p.cfg.SubmitIntervalMS) * time.Millisecond
	lastSubmit := time.Now().Add(-interval)
	var latest []float32

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := p.cam.Read()
		if err != nil {
			// A missed frame is acceptable; a dead session is not
			// distinguished here, so keep polling.
			log.Error("read frame: %v", err)
			continue
		}
		if len(frame) == 0 {
			continue
		}
		p.dumpOnce(frame)

		if time.Since(lastSubmit) >= interval {
			p.submit(frame, width, height)
			lastSubmit = time.Now()
		}

		// Keep only the most recent result.
	drain:
		for {
			select {
			case kps := <-p.results:
				latest = kps
			default:
				break drain
			}
		}

		rgb := imaging.YUYVToRGB(frame, int(width), int(height))
		imaging.FlipHorizontal(rgb, int(width), int(height))
		if len(latest) > 0 {
			imaging.DrawKeypoints(rgb, int(width), int(height), latest, p.cfg.Threshold)
		}
		if p.preview != nil {
			p.preview.Publish(rgb, int(width), int(height), latest)
		}
	}
}

// submit hands one frame to the pool. The frame slice is owned by the
// job; Read allocates a fresh one per call.
func (p *Pipeline) submit(frame []byte, width, height uint32) {
	err := p.pool.Submit(func() {
		kps, err := p.recog.Detect(frame, width, height)
		if err != nil {
			log.Warn("detect: %v", err)
			return
		}
		select {
		case p.results <- kps:
		default:
			// The capture loop is behind; this result is already stale.
		}
	})
	if err != nil {
		log.Warn("submit: %v", err)
	}
}

func (p *Pipeline) dumpOnce(frame []byte) {
	if p.cfg.Dump == "" || p.dumped {
		return
	}
	p.dumped = true
	if err := os.WriteFile(p.cfg.Dump, frame, 0644); err != nil {
		log.Warn("dump frame: %v", err)
	} else {
		log.Info("dumped raw frame to %s", p.cfg.Dump)
	}
}

// Close drains the pool, then tears the capture session down. The pool
// goes first: it must outlive the capture driver's last submission.
func (p *Pipeline) Close() error {
	p.pool.Close()

	err := p.cam.Close()
	if p.helperCloser != nil {
		if cerr := p.helperCloser.Close(); err == nil {
			err = cerr
		}
	}
	if p.preview != nil {
		p.preview.Close()
	}
	return err
}
