//go:build linux

package capture

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/totoroyyb/movecam/internal/camproto"
	"github.com/totoroyyb/movecam/internal/v4l2"
)

// Direct mode: the same state machine with every step dispatched locally
// against the video fd instead of through the helper. Used when no helper
// device is available; frames are copied straight out of the retained
// mmap mapping.

func (c *Capture) directIoctl(ioType uint64) error {
	fd := int(c.video.Fd())

	var (
		req uintptr
		arg unsafe.Pointer
	)
	switch ioType {
	case camproto.IoQueryCap:
		req, arg = v4l2.VidiocQueryCap, unsafe.Pointer(&c.cap)
	case camproto.IoGetFormat:
		req, arg = v4l2.VidiocGetFormat, unsafe.Pointer(&c.format)
	case camproto.IoSetFormat:
		req, arg = v4l2.VidiocSetFormat, unsafe.Pointer(&c.format)
	case camproto.IoSetParm:
		req, arg = v4l2.VidiocSetParm, unsafe.Pointer(&c.parm)
	case camproto.IoGetParm:
		req, arg = v4l2.VidiocGetParm, unsafe.Pointer(&c.parm)
	case camproto.IoReqBufs:
		req, arg = v4l2.VidiocReqBufs, unsafe.Pointer(&c.reqbufs)
	case camproto.IoQueryBuf:
		req, arg = v4l2.VidiocQueryBuf, unsafe.Pointer(&c.buf)
	case camproto.IoQBuf:
		req, arg = v4l2.VidiocQBuf, unsafe.Pointer(&c.buf)
	case camproto.IoStreamOn:
		req, arg = v4l2.VidiocStreamOn, unsafe.Pointer(&c.startType)
	case camproto.IoStreamOff:
		req, arg = v4l2.VidiocStreamOff, unsafe.Pointer(&c.stopType)
	default:
		return errors.Errorf("unknown io_type %d", ioType)
	}

	return errors.Wrapf(v4l2.Ioctl(fd, req, arg), "ioctl %d", ioType)
}

// directRead dequeues buffer 0, copies the filled bytes out of the
// mapping, and requeues. A dequeue failure reads as an empty frame, same
// as the helper path.
func (c *Capture) directRead() ([]byte, error) {
	c.buf.Type = v4l2.BufTypeVideoCapture
	c.buf.Memory = v4l2.MemoryMmap
	c.buf.Index = 0

	// DQBUF is not part of the control-plane ioctl table; the helper
	// issues it inside its read path, so direct mode does the same here.
	if err := v4l2.Ioctl(int(c.video.Fd()), v4l2.VidiocDQBuf, unsafe.Pointer(&c.buf)); err != nil {
		log.Error("dqbuf: %v", err)
		return nil, nil
	}

	n := int(c.buf.BytesUsed)
	if n > len(c.mmap) {
		n = len(c.mmap)
	}
	frame := append([]byte(nil), c.mmap[:n]...)

	c.buf.Type = v4l2.BufTypeVideoCapture
	c.buf.Memory = v4l2.MemoryMmap
	c.buf.Index = 0
	if err := c.directIoctl(camproto.IoQBuf); err != nil {
		log.Error("qbuf: %v", err)
	}
	return frame, nil
}
