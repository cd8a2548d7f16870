package blockcache

import "unsafe"

func sizeOf[T any](v T) int {
	return int(unsafe.Sizeof(v))
}

func ptrAt(buf *[512]byte, offset int) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(buf), offset)
}
