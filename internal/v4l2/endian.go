package v4l2

import (
	"encoding/binary"
	"unsafe"
)

// NativeEndian is the host byte order. The helper control protocol and the
// uAPI unions are native-endian.
var NativeEndian binary.ByteOrder = func() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()
