//go:build linux

// Package capture drives the V4L2 streaming state machine from userspace.
//
// In split mode the driver never issues a V4L2 ioctl itself: it allocates
// the argument structs, hands their addresses to the camera helper, and
// steps the bring-up sequence by writing control messages. Frames come
// back through the helper's read path. Without a helper it falls back to
// driving the device directly over the same structs.
package capture

import (
	stderrors "errors"
	"io"
	"os"
	"syscall"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/totoroyyb/movecam/internal/camproto"
	"github.com/totoroyyb/movecam/internal/logging"
	"github.com/totoroyyb/movecam/internal/pagemap"
	"github.com/totoroyyb/movecam/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("capture")

const (
	// DefaultFPS applies when the caller does not pick a rate.
	DefaultFPS = 30

	// DefaultBufferCount stands in for a non-positive buffer count passed
	// to Prepare. Prepare still asks the driver for a single buffer; see
	// Prepare.
	DefaultBufferCount = 10

	readTimeout = 2 * time.Second
)

// Capture owns one streaming session against a V4L2 device.
//
// The uAPI argument structs live inside this struct for the whole session:
// the helper holds their raw addresses, so they must stay put until
// streaming stops. Close tears the stream down before anything is
// released.
type Capture struct {
	video  *os.File
	helper io.ReadWriteSeeker

	cap       v4l2.Capability
	format    v4l2.Format
	parm      v4l2.StreamParm
	reqbufs   v4l2.RequestBuffers
	buf       v4l2.Buffer
	startType int32
	stopType  int32

	// The mmap mapping and the PFN list derived from it are pinned
	// together; unmapping invalidates the PFNs.
	mmap []byte
	pfns []uint64

	frameLen int
	width    uint32
	height   uint32
	prepared bool
}

// Open opens the video device and binds the session to helper. A nil
// helper selects direct mode: the driver issues every ioctl itself.
func Open(videoPath string, helper io.ReadWriteSeeker) (*Capture, error) {
	video, err := os.OpenFile(videoPath, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", videoPath)
	}
	return &Capture{
		video:     video,
		helper:    helper,
		startType: v4l2.BufTypeVideoCapture,
		stopType:  v4l2.BufTypeVideoCapture,
	}, nil
}

// Split reports whether the session runs through the helper.
func (c *Capture) Split() bool {
	return c.helper != nil
}

// Width and Height report the negotiated frame geometry after Prepare.
func (c *Capture) Width() uint32  { return c.width }
func (c *Capture) Height() uint32 { return c.height }

// FrameSize reports the byte length of one raw frame after Prepare.
func (c *Capture) FrameSize() int { return c.frameLen }

func (c *Capture) writeMsg(msg []byte) error {
	_, err := c.helper.Write(msg)
	return err
}

// setAddrs conveys the userspace addresses of the argument structs. The
// tokens stay valid because the structs are fields of c, which outlives
// the stream.
func (c *Capture) setAddrs() error {
	slots := []struct {
		slot uint64
		addr unsafe.Pointer
	}{
		{camproto.SlotCap, unsafe.Pointer(&c.cap)},
		{camproto.SlotFormat, unsafe.Pointer(&c.format)},
		{camproto.SlotStreamParm, unsafe.Pointer(&c.parm)},
		{camproto.SlotReqBufs, unsafe.Pointer(&c.reqbufs)},
		{camproto.SlotBuf, unsafe.Pointer(&c.buf)},
		{camproto.SlotStartType, unsafe.Pointer(&c.startType)},
		{camproto.SlotStopType, unsafe.Pointer(&c.stopType)},
	}
	for _, s := range slots {
		if err := c.writeMsg(camproto.SetAddr(s.slot, uint64(uintptr(s.addr)))); err != nil {
			return errors.Wrapf(err, "set-addr slot %d", s.slot)
		}
	}
	return nil
}

// do runs one step of the state machine: a control write in split mode, a
// local ioctl in direct mode. Either way the argument structs are the ones
// the addresses point at, so both modes observe identical state.
func (c *Capture) do(ioType uint64) error {
	if c.Split() {
		if err := c.writeMsg(camproto.DoIoctl(ioType)); err != nil {
			return errors.Wrapf(err, "ioctl message %d", ioType)
		}
		return nil
	}
	return c.directIoctl(ioType)
}

// Prepare runs the streaming bring-up sequence. It must be called exactly
// once per session. The granted buffer count is capped at one: both sides
// of the split driver index buffer 0 unconditionally.
func (c *Capture) Prepare(bufferCount int, fps uint32) (width, height uint32, err error) {
	if c.prepared {
		return 0, 0, errors.New("capture: already prepared")
	}
	if bufferCount <= 0 {
		bufferCount = DefaultBufferCount
	}
	if fps == 0 {
		fps = DefaultFPS
	}

	if c.Split() {
		if err := c.setAddrs(); err != nil {
			return 0, 0, err
		}
	}

	if err := c.do(camproto.IoQueryCap); err != nil {
		return 0, 0, err
	}
	log.Info("driver %q card %q", cstr(c.cap.Driver[:]), cstr(c.cap.Card[:]))

	c.format.Type = v4l2.BufTypeVideoCapture
	if err := c.do(camproto.IoGetFormat); err != nil {
		return 0, 0, err
	}
	c.width, c.height = c.format.Pix.Width, c.format.Pix.Height
	log.Info("format %dx%d", c.width, c.height)

	// Mutate the canonical struct the helper's address points at, so the
	// driver actually sees the YUYV fourcc.
	c.format.Pix.PixelFormat = v4l2.PixFmtYUYV
	if err := c.do(camproto.IoSetFormat); err != nil {
		return 0, 0, err
	}

	c.parm.Type = v4l2.BufTypeVideoCapture
	c.parm.TimePerFrame = v4l2.Fract{Numerator: 1, Denominator: fps}
	if err := c.do(camproto.IoSetParm); err != nil {
		return 0, 0, err
	}
	if err := c.do(camproto.IoGetParm); err != nil {
		return 0, 0, err
	}
	log.Info("rate %d/%d", c.parm.TimePerFrame.Denominator, c.parm.TimePerFrame.Numerator)

	if bufferCount > 1 {
		log.Warn("requested %d buffers, single-buffer contract grants 1", bufferCount)
	}
	c.reqbufs.Count = 1
	c.reqbufs.Type = v4l2.BufTypeVideoCapture
	c.reqbufs.Memory = v4l2.MemoryMmap
	if err := c.do(camproto.IoReqBufs); err != nil {
		return 0, 0, err
	}

	c.buf.Type = v4l2.BufTypeVideoCapture
	c.buf.Memory = v4l2.MemoryMmap
	c.buf.Index = 0
	if err := c.do(camproto.IoQueryBuf); err != nil {
		return 0, 0, err
	}
	log.Debug("buffer 0: length %d offset %d", c.buf.Length, c.buf.Offset)

	if err := c.mapBuffer(); err != nil {
		return 0, 0, err
	}

	if err := c.do(camproto.IoStreamOn); err != nil {
		return 0, 0, err
	}

	c.buf.Type = v4l2.BufTypeVideoCapture
	c.buf.Memory = v4l2.MemoryMmap
	c.buf.Index = 0
	if err := c.do(camproto.IoQBuf); err != nil {
		return 0, 0, err
	}

	c.prepared = true
	return c.width, c.height, nil
}

// mapBuffer maps buffer 0, resolves its PFNs, and in split mode hands the
// list to the helper at seek position 0.
func (c *Capture) mapBuffer() error {
	length := int(c.buf.Length)
	mmap, err := unix.Mmap(
		int(c.video.Fd()),
		int64(c.buf.Offset),
		length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return errors.Wrap(err, "mmap buffer 0")
	}
	c.mmap = mmap
	c.frameLen = length

	if !c.Split() {
		return nil
	}

	resolver, err := pagemap.Open("")
	if err != nil {
		return err
	}
	defer resolver.Close()

	addr := uint64(uintptr(unsafe.Pointer(&mmap[0])))
	pfns, err := resolver.Resolve(addr, uint64(length))
	if err != nil {
		return err
	}
	c.pfns = pfns
	log.Debug("buffer 0 spans %d pages", len(pfns))

	if _, err := c.helper.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek helper to buffer 0")
	}
	return errors.Wrap(c.writeMsg(camproto.SetPfns(pfns)), "set-pfns")
}

// Read blocks for the next frame. It returns an empty slice when the
// current cycle produced no data (dequeue failure); the stream stays
// usable. Waits are bounded by a 2 second timeout and simply restart, as
// does an interrupted select.
func (c *Capture) Read() ([]byte, error) {
	if !c.prepared {
		return nil, errors.New("capture: not prepared")
	}

	for {
		ready, err := c.waitReadable()
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}

		if c.Split() {
			frame := make([]byte, c.frameLen)
			n, err := c.helper.Read(frame)
			if err != nil {
				// os.File wraps errnos in a PathError.
				if stderrors.Is(err, syscall.EAGAIN) {
					continue
				}
				return nil, errors.Wrap(err, "read frame from helper")
			}
			return frame[:n], nil
		}
		return c.directRead()
	}
}

// waitReadable selects on the frame source with the read timeout. Returns
// false on timeout or interruption.
func (c *Capture) waitReadable() (bool, error) {
	fd := int(c.video.Fd())
	if c.Split() {
		f, ok := c.helper.(interface{ Fd() uintptr })
		if !ok {
			// In-process helper: its read blocks in DQBUF itself.
			return true, nil
		}
		fd = int(f.Fd())
	}

	var fds unix.FdSet
	fds.Zero()
	fds.Set(fd)
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())

	n, err := unix.Select(fd+1, &fds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, errors.Wrap(err, "select")
	}
	return n > 0, nil
}

// Close stops streaming and releases the session. Individual teardown
// failures are logged and do not stop the rest of the teardown.
func (c *Capture) Close() error {
	var first error
	keep := func(err error) {
		if err != nil {
			log.Error("teardown: %v", err)
			if first == nil {
				first = err
			}
		}
	}

	if c.prepared {
		keep(c.do(camproto.IoStreamOff))
	}
	if c.mmap != nil {
		keep(errors.Wrap(unix.Munmap(c.mmap), "munmap"))
		c.mmap = nil
		c.pfns = nil
	}
	keep(errors.Wrap(c.video.Close(), "close video device"))
	c.prepared = false
	return first
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
