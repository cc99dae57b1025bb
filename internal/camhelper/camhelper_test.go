package camhelper

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totoroyyb/movecam/internal/camproto"
	"github.com/totoroyyb/movecam/internal/v4l2"
)

const testPageSize = 64

type ioctlCall struct {
	req uintptr
	arg uintptr
}

// fakeDispatcher records every ioctl and can be told to fail specific
// requests.
type fakeDispatcher struct {
	calls []ioctlCall
	fail  map[uintptr]error
}

func (d *fakeDispatcher) Ioctl(req uintptr, arg uintptr) error {
	d.calls = append(d.calls, ioctlCall{req, arg})
	if err, ok := d.fail[req]; ok {
		return err
	}
	return nil
}

// fakePages serves pages filled with a per-PFN byte pattern.
type fakePages struct {
	pages map[uint64][]byte
}

func (f *fakePages) ReadPage(pfn uint64, p []byte) error {
	page, ok := f.pages[pfn]
	if !ok {
		return io.ErrUnexpectedEOF
	}
	copy(p, page)
	return nil
}

func pageOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, testPageSize)
}

func newTestHelper() (*Helper, *fakeDispatcher, *fakePages) {
	d := &fakeDispatcher{fail: map[uintptr]error{}}
	p := &fakePages{pages: map[uint64][]byte{}}
	return New(d, p, testPageSize), d, p
}

func write(t *testing.T, h *Helper, msg []byte) {
	t.Helper()
	n, err := h.Write(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n, "write must consume the full payload")
}

func TestSetAddrRoutesToIoctl(t *testing.T) {
	h, d, _ := newTestHelper()

	// Each slot gets a distinct token; the matching ioctl must pass it
	// verbatim.
	addrs := map[uint64]uint64{
		camproto.SlotCap:        0x1000,
		camproto.SlotFormat:     0x2000,
		camproto.SlotStreamParm: 0x3000,
		camproto.SlotReqBufs:    0x4000,
		camproto.SlotBuf:        0x5000,
		camproto.SlotStartType:  0x6000,
		camproto.SlotStopType:   0x7000,
	}
	for slot, addr := range addrs {
		write(t, h, camproto.SetAddr(slot, addr))
	}

	cases := []struct {
		ioType uint64
		req    uintptr
		addr   uint64
	}{
		{camproto.IoQueryCap, v4l2.VidiocQueryCap, 0x1000},
		{camproto.IoGetFormat, v4l2.VidiocGetFormat, 0x2000},
		{camproto.IoSetFormat, v4l2.VidiocSetFormat, 0x2000},
		{camproto.IoSetParm, v4l2.VidiocSetParm, 0x3000},
		{camproto.IoGetParm, v4l2.VidiocGetParm, 0x3000},
		{camproto.IoReqBufs, v4l2.VidiocReqBufs, 0x4000},
		{camproto.IoQueryBuf, v4l2.VidiocQueryBuf, 0x5000},
		{camproto.IoQBuf, v4l2.VidiocQBuf, 0x5000},
		{camproto.IoStreamOn, v4l2.VidiocStreamOn, 0x6000},
		{camproto.IoStreamOff, v4l2.VidiocStreamOff, 0x7000},
	}
	for _, c := range cases {
		d.calls = nil
		write(t, h, camproto.DoIoctl(c.ioType))
		require.Len(t, d.calls, 1, "io_type %d", c.ioType)
		assert.Equal(t, c.req, d.calls[0].req)
		assert.EqualValues(t, c.addr, d.calls[0].arg)
	}
}

func TestUnknownSlotIgnored(t *testing.T) {
	h, d, _ := newTestHelper()

	write(t, h, camproto.SetAddr(99, 0xbad))
	write(t, h, camproto.DoIoctl(camproto.IoQueryCap))

	require.Len(t, d.calls, 1)
	assert.Zero(t, d.calls[0].arg, "bogus slot must not land anywhere")
}

func TestUnknownIoctlIgnored(t *testing.T) {
	h, d, _ := newTestHelper()
	write(t, h, camproto.DoIoctl(42))
	assert.Empty(t, d.calls)
}

func TestSetPfnsAtSeekPosition(t *testing.T) {
	h, _, _ := newTestHelper()

	// Appends at the end, replaces in place, and leaves neighbours alone.
	write(t, h, camproto.SetPfns([]uint64{1, 2}))

	_, err := h.Seek(1, io.SeekStart)
	require.NoError(t, err)
	write(t, h, camproto.SetPfns([]uint64{3}))

	_, err = h.Seek(0, io.SeekStart)
	require.NoError(t, err)
	write(t, h, camproto.SetPfns([]uint64{7, 8, 9}))

	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	require.Len(t, h.buffers, 2)
	assert.Equal(t, []uint64{7, 8, 9}, h.buffers[0])
	assert.Equal(t, []uint64{3}, h.buffers[1])
}

func TestSeekClearsExistingIndex(t *testing.T) {
	h, _, _ := newTestHelper()

	write(t, h, camproto.SetPfns([]uint64{1, 2}))
	_, err := h.Seek(0, io.SeekStart)
	require.NoError(t, err)

	h.bufMu.Lock()
	assert.Empty(t, h.buffers[0])
	h.bufMu.Unlock()
}

func TestRelativeSeekRejected(t *testing.T) {
	h, _, _ := newTestHelper()
	_, err := h.Seek(4, io.SeekCurrent)
	assert.Error(t, err)
	_, err = h.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestReadCopiesPagesInOrder(t *testing.T) {
	h, d, pages := newTestHelper()

	const p0, p1 = uint64(0xaa), uint64(0xbb)
	pages.pages[p0] = pageOf(0x11)
	pages.pages[p1] = pageOf(0x22)

	write(t, h, camproto.SetAddr(camproto.SlotBuf, 0x5000))
	write(t, h, camproto.SetPfns([]uint64{p0, p1}))

	dst := make([]byte, 2*testPageSize)
	n, err := h.Read(dst)
	require.NoError(t, err)
	require.Equal(t, 2*testPageSize, n)
	assert.Equal(t, append(pageOf(0x11), pageOf(0x22)...), dst)

	// Strict order: DQBUF before QBUF, both against the stored address.
	require.Len(t, d.calls, 2)
	assert.Equal(t, uintptr(v4l2.VidiocDQBuf), d.calls[0].req)
	assert.Equal(t, uintptr(v4l2.VidiocQBuf), d.calls[1].req)
	assert.EqualValues(t, 0x5000, d.calls[0].arg)
	assert.EqualValues(t, 0x5000, d.calls[1].arg)
}

func TestReadDequeueFailure(t *testing.T) {
	h, d, pages := newTestHelper()
	pages.pages[1] = pageOf(0x33)

	write(t, h, camproto.SetPfns([]uint64{1}))
	d.fail[v4l2.VidiocDQBuf] = io.ErrClosedPipe

	n, err := h.Read(make([]byte, testPageSize))
	require.NoError(t, err)
	assert.Zero(t, n, "dequeue failure reads as zero length")
	require.Len(t, d.calls, 1, "no copy, no requeue after failed dequeue")
}

func TestWriteRejectsTruncatedFrame(t *testing.T) {
	h, _, _ := newTestHelper()

	_, err := h.Write([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = h.Write(camproto.SetAddr(0, 0)[:12])
	assert.Error(t, err)
}
