// Package camhelper implements the camera helper device: the privileged
// half of the split capture driver.
//
// The helper owns an open handle to the V4L2 device. Userspace hands it the
// addresses of the V4L2 argument structs and a PFN list for the DMA-mapped
// capture buffer, then drives the ioctl sequence through control writes.
// Reads dequeue one filled buffer and copy its pages back out-of-band.
//
// The engine is the file-operations body of the kernel module rendered as
// an io.ReadWriteSeeker. Serving it from the real /dev/camhelper node or
// in-process makes no difference to the client: the byte protocol
// (package camproto) is the contract.
package camhelper

import (
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/totoroyyb/movecam/internal/camproto"
	"github.com/totoroyyb/movecam/internal/logging"
	"github.com/totoroyyb/movecam/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("camhelper")

// Dispatcher issues a V4L2 ioctl whose argument is held as a raw address
// token. Implemented by the device fd; faked in tests.
type Dispatcher interface {
	Ioctl(req uintptr, arg uintptr) error
}

// PageSource copies one physical page, addressed by PFN, into p.
// Implemented over the kernel direct map's userspace stand-in (/dev/mem);
// faked in tests.
type PageSource interface {
	ReadPage(pfn uint64, p []byte) error
}

// Helper is the device engine. Operations may be invoked from arbitrary
// goroutines; each piece of state is serialized by its own lock.
type Helper struct {
	dev      Dispatcher
	pages    PageSource
	pageSize int

	addrMu sync.Mutex
	addrs  [camproto.NumSlots]uint64

	bufMu   sync.Mutex
	buffers [][]uint64

	posMu sync.Mutex
	pos   int64

	// Serializes the DQBUF -> copy -> QBUF read cycle; two reads must
	// never interleave against the same buffer.
	readMu sync.Mutex

	closer io.Closer
}

// New builds a helper engine over the given backends. pageSize governs how
// many bytes each PFN contributes to a frame.
func New(dev Dispatcher, pages PageSource, pageSize int) *Helper {
	if pageSize <= 0 {
		pageSize = unix.Getpagesize()
	}
	return &Helper{dev: dev, pages: pages, pageSize: pageSize}
}

// Write handles one control message. The full payload is always consumed;
// only an unparseable frame is an error. Ioctl failures are logged and do
// not fail the write.
func (h *Helper) Write(p []byte) (int, error) {
	msg, err := camproto.Parse(p)
	if err != nil {
		return 0, err
	}

	switch msg.Cmd {
	case camproto.CmdSetAddr:
		h.setAddr(msg.SetType, msg.UAddr)
	case camproto.CmdSetPfns:
		h.setPfns(msg.PFNs)
	case camproto.CmdIoctl:
		h.doIoctl(msg.IoType)
	}
	return len(p), nil
}

func (h *Helper) setAddr(setType, uaddr uint64) {
	if setType >= camproto.NumSlots {
		log.Warn("set-addr: unknown slot %d, ignored", setType)
		return
	}
	h.addrMu.Lock()
	h.addrs[setType] = uaddr
	h.addrMu.Unlock()
	log.Debug("set-addr: slot %d = %#x", setType, uaddr)
}

func (h *Helper) setPfns(pfns []uint64) {
	h.posMu.Lock()
	pos := h.pos
	h.posMu.Unlock()

	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	if pos >= int64(len(h.buffers)) {
		h.buffers = append(h.buffers, pfns)
	} else {
		h.buffers[pos] = pfns
	}
	log.Debug("set-pfns: buffer %d holds %d pages", pos, len(pfns))
}

func (h *Helper) doIoctl(ioType uint64) {
	req, slot, ok := camproto.IoctlRequest(ioType)
	if !ok {
		log.Warn("ioctl: unknown io_type %d, ignored", ioType)
		return
	}

	h.addrMu.Lock()
	addr := h.addrs[slot]
	h.addrMu.Unlock()

	if err := h.dev.Ioctl(req, uintptr(addr)); err != nil {
		log.Error("ioctl %d (req %#x) failed: %v", ioType, req, err)
		return
	}
	log.Debug("ioctl %d ok", ioType)
}

// Read dequeues one filled capture buffer, copies its pages into p, and
// returns the buffer to the driver. A zero length result means the dequeue
// failed, no PFN list was set, or a page copy failed. The copy order is
// strict: DQBUF, page copy, QBUF.
func (h *Helper) Read(p []byte) (int, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	h.addrMu.Lock()
	bufAddr := h.addrs[camproto.SlotBuf]
	h.addrMu.Unlock()

	if err := h.dev.Ioctl(v4l2.VidiocDQBuf, uintptr(bufAddr)); err != nil {
		log.Error("dqbuf failed: %v", err)
		return 0, nil
	}

	// Single-buffer design: frame data always lives in buffer 0.
	h.bufMu.Lock()
	var pfns []uint64
	if len(h.buffers) > 0 {
		pfns = h.buffers[0]
	}
	h.bufMu.Unlock()

	n := 0
	if len(pfns) == 0 {
		log.Warn("read before any pfn list was set")
	} else {
		staging := make([]byte, len(pfns)*h.pageSize)
		ok := true
		for i, pfn := range pfns {
			chunk := staging[i*h.pageSize : (i+1)*h.pageSize]
			if err := h.pages.ReadPage(pfn, chunk); err != nil {
				log.Error("page copy of pfn %#x failed: %v", pfn, err)
				ok = false
				break
			}
		}
		if ok {
			n = copy(p, staging)
		}
	}

	if err := h.dev.Ioctl(v4l2.VidiocQBuf, uintptr(bufAddr)); err != nil {
		log.Error("qbuf failed: %v", err)
	}
	return n, nil
}

// Seek honours absolute positioning only. The new position selects the
// buffer index targeted by the next set-pfns write; seeking onto an
// existing index clears that buffer's PFN list.
func (h *Helper) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, unix.EINVAL
	}
	if offset < 0 {
		return 0, unix.EINVAL
	}

	h.posMu.Lock()
	h.pos = offset
	h.posMu.Unlock()

	h.bufMu.Lock()
	if offset < int64(len(h.buffers)) {
		h.buffers[offset] = nil
	}
	h.bufMu.Unlock()

	return offset, nil
}

// Close releases the V4L2 handle when the helper owns one.
func (h *Helper) Close() error {
	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}
