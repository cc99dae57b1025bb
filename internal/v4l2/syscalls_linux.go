//go:build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ioctl issues a V4L2 request against fd with arg pointing at the argument
// struct. The caller keeps arg alive across the call.
func Ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// IoctlRaw is Ioctl for callers that hold the argument as an opaque
// address token rather than a Go pointer.
func IoctlRaw(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}
