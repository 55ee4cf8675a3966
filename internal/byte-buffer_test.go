package internal

import "testing"

func TestByteBuffer(t *testing.T) {
	buf := ReserveByteBuffer(96)
	if len(buf) != 0 || cap(buf) < 96 {
		t.Errorf("ReserveByteBuffer failed: len %v cap %v", len(buf), cap(buf))
	}
	buf = append(buf, "some bytes"...)
	ReleaseByteBuffer(buf)
	buf = ReserveByteBuffer(8)
	if len(buf) != 0 {
		t.Error("reused buffer not empty")
	}
	ReleaseByteBuffer(buf)
	ReleaseByteBuffer(make([]byte, 0, MaxPooledBuffer+1))
	ReleaseByteBuffer(nil)
}
