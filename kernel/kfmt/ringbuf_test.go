package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf    bytes.Buffer
		expStr = "the big brown fox jumped over the lazy dog"
		rb     ringBuffer
	)

	t.Run("read/write", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		n, err := rb.Write([]byte(expStr))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(expStr) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(expStr), n)
		}

		if got := rb.Len(); got != len(expStr) {
			t.Fatalf("expected Len to return %d; got %d", len(expStr), got)
		}

		if got := readAll(&buf, &rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("write moves read pointer", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-1, 0
		if _, err := rb.Write([]byte{'!'}); err != nil {
			t.Fatal(err)
		}

		if exp := 1; rb.rIndex != exp {
			t.Fatalf("expected write to push rIndex to %d; got %d", exp, rb.rIndex)
		}
	})

	t.Run("wIndex < rIndex", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-2, ringBufferSize-2
		if _, err := rb.Write([]byte(expStr)); err != nil {
			t.Fatal(err)
		}

		if got := readAll(&buf, &rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("overflow keeps newest bytes", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		for i := 0; i < ringBufferSize; i++ {
			rb.Write([]byte{'x'})
		}
		rb.Write([]byte(expStr))

		got := readAll(&buf, &rb)
		if len(got) != ringBufferSize-1 {
			t.Fatalf("expected to read %d bytes; got %d", ringBufferSize-1, len(got))
		}

		if got[len(got)-len(expStr):] != expStr {
			t.Fatalf("expected the newest bytes to be preserved")
		}
	})

	t.Run("read from empty buffer", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		if _, err := rb.Read(make([]byte, 1)); err != io.EOF {
			t.Fatalf("expected io.EOF; got %v", err)
		}
	})
}

// readAll drains rb using a small buffer so that wrap-around reads are
// exercised.
func readAll(buf *bytes.Buffer, rb *ringBuffer) string {
	buf.Reset()
	var b = make([]byte, 3)
	for {
		n, err := rb.Read(b)
		buf.Write(b[:n])
		if err == io.EOF {
			break
		}
	}

	return buf.String()
}
