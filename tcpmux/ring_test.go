package tcpmux

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBufferAppendPop(t *testing.T) {
	r := newRingBuffer(8)
	if n := r.Append([]byte("hello")); n != 5 {
		t.Fatalf("Append: got %d, want 5", n)
	}
	if r.Len() != 5 || r.Free() != 3 {
		t.Fatalf("Len/Free after append: %d/%d", r.Len(), r.Free())
	}
	dst := make([]byte, 3)
	if _, err := r.Pop(dst); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if string(dst) != "hel" {
		t.Fatalf("Pop content: got %q", dst)
	}
	if r.Len() != 2 {
		t.Fatalf("Len after pop: got %d, want 2", r.Len())
	}
}

func TestRingBufferWraparound(t *testing.T) {
	r := newRingBuffer(4)
	r.Append([]byte("ab"))
	dst := make([]byte, 2)
	r.Pop(dst) // tail now at 2, head at 2, empty
	n := r.Append([]byte("cdef"))
	if n != 4 {
		t.Fatalf("wraparound append: got %d, want 4", n)
	}
	if !r.Full() {
		t.Fatal("expected ring to be full")
	}
	out := make([]byte, 4)
	r.Pop(out)
	if string(out) != "cdef" {
		t.Fatalf("wraparound pop: got %q, want cdef", out)
	}
	if !r.Empty() {
		t.Fatal("expected ring to be empty")
	}
}

func TestRingBufferAppendClampsToFreeSpace(t *testing.T) {
	r := newRingBuffer(4)
	n := r.Append([]byte("abcdef"))
	if n != 4 {
		t.Fatalf("Append over capacity: got %d, want 4", n)
	}
	if !r.Full() {
		t.Fatal("expected full ring")
	}
}

func TestRingBufferPopExceedsSizeErrors(t *testing.T) {
	r := newRingBuffer(4)
	r.Append([]byte("a"))
	if _, err := r.Pop(make([]byte, 2)); err == nil {
		t.Fatal("expected error popping more than held")
	}
}

func TestRingBufferDrainToTransportWraparound(t *testing.T) {
	r := newRingBuffer(4)
	r.Append([]byte("ab"))
	r.Pop(make([]byte, 2))
	r.Append([]byte("cdef")) // wraps: head=2, tail=2, full
	var buf bytes.Buffer
	n, err := r.DrainToTransport(&buf, 4)
	if err != nil {
		t.Fatalf("DrainToTransport: %v", err)
	}
	if n != 4 || buf.String() != "cdef" {
		t.Fatalf("got n=%d buf=%q, want 4/cdef", n, buf.String())
	}
	if !r.Empty() {
		t.Fatal("expected empty after full drain")
	}
}

func TestRingBufferFillFromTransportWraparound(t *testing.T) {
	r := newRingBuffer(4)
	r.Append([]byte("ab"))
	r.Pop(make([]byte, 2)) // head=2, tail=2, empty, room for 4 wrapping
	src := bytes.NewReader([]byte("cdef"))
	n, err := r.FillFromTransport(src, 4)
	if err != nil {
		t.Fatalf("FillFromTransport: %v", err)
	}
	if n != 4 {
		t.Fatalf("got n=%d, want 4", n)
	}
	out := make([]byte, 4)
	r.Pop(out)
	if string(out) != "cdef" {
		t.Fatalf("got %q, want cdef", out)
	}
}

func TestRingBufferFillFromTransportShortRead(t *testing.T) {
	r := newRingBuffer(8)
	src := bytes.NewReader([]byte("ab"))
	_, err := r.FillFromTransport(src, 4)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("got err=%v, want io.ErrUnexpectedEOF", err)
	}
}
