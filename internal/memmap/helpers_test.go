package memmap

import "unsafe"

func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}
