package internal

import "sync"

// MaxPooledBuffer is the largest capacity that is returned to the
// pool. Larger buffers are left to the garbage collector.
const MaxPooledBuffer = 1 << 16

var bufPool = sync.Pool{New: func() interface{} {
	return []byte(nil)
}}

/*
ReserveByteBuffer uses a sync.Pool to either reuse or make a slice of
bytes of length 0 and of capacity at least minCap.

Use ReleaseByteBuffer to return slices of bytes to the internal pool.
*/
func ReserveByteBuffer(minCap int) []byte {
	buf := bufPool.Get().([]byte)[:0]
	if cap(buf) < minCap {
		bufPool.Put(buf)
		return make([]byte, 0, minCap)
	}
	return buf
}

/*
ReleaseByteBuffer returns the given slice of bytes to the internal
sync.Pool from which ReserveByteBuffer can fetch it again.
*/
func ReleaseByteBuffer(buf []byte) {
	if buf == nil || cap(buf) > MaxPooledBuffer {
		return
	}
	bufPool.Put(buf[:0])
}
