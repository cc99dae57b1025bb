package v4l2

import "unsafe"

// ioctl request values use the asm-generic encoding: command number in the
// low 8 bits, then the magic type, the argument size, and the direction in
// the top 2 bits.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/asm-generic/ioctl.h

const (
	iocOpNone  = 0
	iocOpWrite = 1
	iocOpRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	numberPos = 0
	typePos   = numberPos + iocNumberBits
	sizePos   = typePos + iocTypeBits
	opPos     = sizePos + iocSizeBits
)

func iocEnc(op, typ, number, size uintptr) uintptr {
	return op<<opPos | typ<<typePos | number<<numberPos | size<<sizePos
}

func iocEncR(typ, number, size uintptr) uintptr {
	return iocEnc(iocOpRead, typ, number, size)
}

func iocEncW(typ, number, size uintptr) uintptr {
	return iocEnc(iocOpWrite, typ, number, size)
}

func iocEncRW(typ, number, size uintptr) uintptr {
	return iocEnc(iocOpRead|iocOpWrite, typ, number, size)
}

// V4L2 command request values, magic 'V'.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h
var (
	VidiocQueryCap  = iocEncR('V', 0, unsafe.Sizeof(Capability{}))
	VidiocGetFormat = iocEncRW('V', 4, unsafe.Sizeof(Format{}))
	VidiocSetFormat = iocEncRW('V', 5, unsafe.Sizeof(Format{}))
	VidiocReqBufs   = iocEncRW('V', 8, unsafe.Sizeof(RequestBuffers{}))
	VidiocQueryBuf  = iocEncRW('V', 9, unsafe.Sizeof(Buffer{}))
	VidiocQBuf      = iocEncRW('V', 15, unsafe.Sizeof(Buffer{}))
	VidiocDQBuf     = iocEncRW('V', 17, unsafe.Sizeof(Buffer{}))
	VidiocStreamOn  = iocEncW('V', 18, unsafe.Sizeof(int32(0)))
	VidiocStreamOff = iocEncW('V', 19, unsafe.Sizeof(int32(0)))
	VidiocGetParm   = iocEncRW('V', 21, unsafe.Sizeof(StreamParm{}))
	VidiocSetParm   = iocEncRW('V', 22, unsafe.Sizeof(StreamParm{}))
)
