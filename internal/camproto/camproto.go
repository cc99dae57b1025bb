// Package camproto defines the control-plane protocol spoken over the
// camera helper character device.
//
// Every write to the helper is one message, opened by an 8-byte
// native-endian command word:
//
//	SetAddr: u64 cmd=0 | u64 set_type | u64 uaddr
//	SetPfns: u64 cmd=1 | u64 pfn0 | u64 pfn1 | ...
//	DoIoctl: u64 cmd=2 | u64 io_type
//
// SetPfns targets the buffer index given by the helper's current seek
// position. Reads from the helper yield one raw captured frame; a zero
// length read means no frame was delivered (the dequeue or the page copy
// failed).
package camproto

import (
	"github.com/pkg/errors"

	"github.com/totoroyyb/movecam/internal/v4l2"
)

// Command words.
const (
	CmdSetAddr = 0
	CmdSetPfns = 1
	CmdIoctl   = 2
)

// Address slots named by SetAddr's set_type.
const (
	SlotCap = iota
	SlotFormat
	SlotStreamParm
	SlotReqBufs
	SlotBuf
	SlotStartType
	SlotStopType

	NumSlots
)

// Ioctl selectors named by DoIoctl's io_type.
const (
	IoQueryCap = iota
	IoGetFormat
	IoSetFormat
	IoSetParm
	IoGetParm
	IoReqBufs
	IoQueryBuf
	IoQBuf
	IoStreamOn
	IoStreamOff

	NumIoctls
)

// IoctlRequest maps an io_type to the V4L2 request value and the address
// slot carrying its argument struct.
func IoctlRequest(ioType uint64) (req uintptr, slot int, ok bool) {
	switch ioType {
	case IoQueryCap:
		return v4l2.VidiocQueryCap, SlotCap, true
	case IoGetFormat:
		return v4l2.VidiocGetFormat, SlotFormat, true
	case IoSetFormat:
		return v4l2.VidiocSetFormat, SlotFormat, true
	case IoSetParm:
		return v4l2.VidiocSetParm, SlotStreamParm, true
	case IoGetParm:
		return v4l2.VidiocGetParm, SlotStreamParm, true
	case IoReqBufs:
		return v4l2.VidiocReqBufs, SlotReqBufs, true
	case IoQueryBuf:
		return v4l2.VidiocQueryBuf, SlotBuf, true
	case IoQBuf:
		return v4l2.VidiocQBuf, SlotBuf, true
	case IoStreamOn:
		return v4l2.VidiocStreamOn, SlotStartType, true
	case IoStreamOff:
		return v4l2.VidiocStreamOff, SlotStopType, true
	}
	return 0, 0, false
}

const wordSize = 8

func putWords(words ...uint64) []byte {
	buf := make([]byte, wordSize*len(words))
	for i, w := range words {
		v4l2.NativeEndian.PutUint64(buf[wordSize*i:], w)
	}
	return buf
}

// SetAddr frames a set-address message.
func SetAddr(setType, uaddr uint64) []byte {
	return putWords(CmdSetAddr, setType, uaddr)
}

// SetPfns frames a set-pfns message.
func SetPfns(pfns []uint64) []byte {
	buf := putWords(CmdSetPfns)
	for _, pfn := range pfns {
		buf = append(buf, putWords(pfn)...)
	}
	return buf
}

// DoIoctl frames an ioctl message.
func DoIoctl(ioType uint64) []byte {
	return putWords(CmdIoctl, ioType)
}

// Message is one parsed control-plane write.
type Message struct {
	Cmd uint64

	// SetAddr
	SetType uint64
	UAddr   uint64

	// SetPfns
	PFNs []uint64

	// DoIoctl
	IoType uint64
}

// Parse decodes one message frame. The payload of a SetPfns message is as
// many whole words as the write carried; a trailing partial word is a
// framing error.
func Parse(p []byte) (*Message, error) {
	if len(p) < wordSize {
		return nil, errors.Errorf("message of %d bytes is shorter than the command word", len(p))
	}
	m := &Message{Cmd: v4l2.NativeEndian.Uint64(p)}
	body := p[wordSize:]

	switch m.Cmd {
	case CmdSetAddr:
		if len(body) < 2*wordSize {
			return nil, errors.Errorf("set-addr message truncated at %d bytes", len(p))
		}
		m.SetType = v4l2.NativeEndian.Uint64(body)
		m.UAddr = v4l2.NativeEndian.Uint64(body[wordSize:])
	case CmdSetPfns:
		if len(body)%wordSize != 0 {
			return nil, errors.Errorf("set-pfns payload of %d bytes is not word-aligned", len(body))
		}
		m.PFNs = make([]uint64, 0, len(body)/wordSize)
		for off := 0; off < len(body); off += wordSize {
			m.PFNs = append(m.PFNs, v4l2.NativeEndian.Uint64(body[off:]))
		}
	case CmdIoctl:
		if len(body) < wordSize {
			return nil, errors.Errorf("ioctl message truncated at %d bytes", len(p))
		}
		m.IoType = v4l2.NativeEndian.Uint64(body)
	default:
		return nil, errors.Errorf("unknown command word %d", m.Cmd)
	}
	return m, nil
}
