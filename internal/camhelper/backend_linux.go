//go:build linux

package camhelper

import (
	"math/bits"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/totoroyyb/movecam/internal/v4l2"
)

// DefaultVideoPath is the capture device the helper drives.
const DefaultVideoPath = "/dev/video0"

// DevicePath is where the helper is served as a character device
// (mode 0666; the ioctl path itself is privileged).
const DevicePath = "/dev/camhelper"

// Open builds the production helper: ioctls dispatched against the video
// device, page copies satisfied from physical memory. This is the
// in-process equivalent of loading the kernel helper; it needs the
// privileges the kernel module has by construction.
func Open(videoPath string) (*Helper, error) {
	if videoPath == "" {
		videoPath = DefaultVideoPath
	}

	fd, err := unix.Open(videoPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", videoPath)
	}

	pages, err := openDevMem()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	h := New(&fdDispatcher{fd: fd}, pages, unix.Getpagesize())
	h.closer = closerFunc(func() error {
		pages.Close()
		return unix.Close(fd)
	})
	return h, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// fdDispatcher issues ioctls against an open V4L2 fd. The stored address
// tokens come from the client's address space; in-process they are plain
// pointers, which is exactly the arrangement the kernel module gets from
// vfs_ioctl in task context.
type fdDispatcher struct {
	fd int
}

func (d *fdDispatcher) Ioctl(req uintptr, arg uintptr) error {
	return v4l2.IoctlRaw(d.fd, req, arg)
}

// devMem reads physical pages through /dev/mem, the userspace counterpart
// of pfn_to_kaddr on the kernel direct map.
type devMem struct {
	f         int
	pageShift uint
}

func openDevMem() (*devMem, error) {
	fd, err := unix.Open("/dev/mem", unix.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open /dev/mem")
	}
	return &devMem{
		f:         fd,
		pageShift: uint(bits.TrailingZeros(uint(unix.Getpagesize()))),
	}, nil
}

func (m *devMem) ReadPage(pfn uint64, p []byte) error {
	off := int64(pfn << m.pageShift)
	for read := 0; read < len(p); {
		n, err := unix.Pread(m.f, p[read:], off+int64(read))
		if err != nil {
			return errors.Wrapf(err, "pread pfn %#x", pfn)
		}
		if n == 0 {
			return errors.Errorf("short page read at pfn %#x", pfn)
		}
		read += n
	}
	return nil
}

func (m *devMem) Close() error {
	return unix.Close(m.f)
}
