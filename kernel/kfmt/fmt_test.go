package kfmt

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer SetOutputSink(nil)

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{
			func() { printfn("no args") },
			"no args",
		},
		// bool values
		{
			func() { printfn("%t", true) },
			"true",
		},
		{
			func() { printfn("%41t", false) },
			"false",
		},
		// strings and byte slices
		{
			func() { printfn("%s arg", "STRING") },
			"STRING arg",
		},
		{
			func() { printfn("%s arg", []byte("BYTE SLICE")) },
			"BYTE SLICE arg",
		},
		{
			func() { printfn("'%4s' arg with padding", "ABC") },
			"' ABC' arg with padding",
		},
		{
			func() { printfn("'%4s' arg longer than padding", "ABCDE") },
			"'ABCDE' arg longer than padding",
		},
		// uints
		{
			func() { printfn("uint arg: %d", uint8(10)) },
			"uint arg: 10",
		},
		{
			func() { printfn("uint arg: %o", uint16(0777)) },
			"uint arg: 777",
		},
		{
			func() { printfn("uint arg: 0x%x", uint32(0xbadf00d)) },
			"uint arg: 0xbadf00d",
		},
		{
			func() { printfn("uint arg with padding: '%10d'", uint64(123)) },
			"uint arg with padding: '       123'",
		},
		{
			func() { printfn("uint arg with padding: '%4o'", uint64(0777)) },
			"uint arg with padding: '0777'",
		},
		{
			func() { printfn("uint arg with padding: '0x%16x'", uint64(0xffff800000000000)) },
			"uint arg with padding: '0xffff800000000000'",
		},
		{
			func() { printfn("frame: 0x%16x", uintptr(0x200000)) },
			"frame: 0x0000000000200000",
		},
		{
			func() { printfn("uint arg longer than padding: '0x%5x'", int64(0xbadf00d)) },
			"uint arg longer than padding: '0xbadf00d'",
		},
		{
			func() { printfn("zero: %d", uint(0)) },
			"zero: 0",
		},
		// ints
		{
			func() { printfn("int arg: %d", int8(-10)) },
			"int arg: -10",
		},
		{
			func() { printfn("int arg: %o", int16(0777)) },
			"int arg: 777",
		},
		{
			func() { printfn("int arg: %x", int32(-0xbadf00d)) },
			"int arg: -badf00d",
		},
		{
			func() { printfn("int arg with padding: '%10d'", int64(-12345678)) },
			"int arg with padding: ' -12345678'",
		},
		{
			func() { printfn("int arg with padding: '%10d'", int64(-123456789)) },
			"int arg with padding: '-123456789'",
		},
		{
			func() { printfn("int arg with padding: '%10d'", int64(-1234567890)) },
			"int arg with padding: '-1234567890'",
		},
		{
			func() { printfn("int arg longer than padding: '%5x'", int(-0xbadf00d)) },
			"int arg longer than padding: '-badf00d'",
		},
		{
			func() { printfn("padding longer than maxBufSize '%128x'", int(-0xbadf00d)) },
			fmt.Sprintf("padding longer than maxBufSize '-%sbadf00d'", strings.Repeat("0", maxBufSize-8)),
		},
		// multiple arguments
		{
			func() { printfn("%%%s%d%t", "foo", 123, true) },
			`%foo123true`,
		},
		{
			func() { printfn("[%s] region 0x%x - 0x%x", "pmm", uint64(0x1000), uint64(0x9f000)) },
			"[pmm] region 0x1000 - 0x9f000",
		},
		// errors
		{
			func() { printfn("missing args %s") },
			"missing args (MISSING)",
		},
		{
			func() { printfn("bad verb %Q") },
			"bad verb %!(NOVERB)",
		},
		{
			func() { printfn("not bool %t", "foo") },
			"not bool %!(WRONGTYPE)",
		},
		{
			func() { printfn("not int %d", "foo") },
			"not int %!(WRONGTYPE)",
		},
		{
			func() { printfn("not string %s", 123) },
			"not string %!(WRONGTYPE)",
		},
		{
			func() { printfn("no verb %") },
			"no verb %!(NOVERB)",
		},
		{
			func() { printfn("extra args", 123, true) },
			"extra args%!(EXTRA)%!(EXTRA)",
		},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		spec.fn()

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get %q; got %q", specIndex, spec.expOutput, got)
		}
	}
}

func TestPrintfToRingBuffer(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(nil)

	earlyPrintBuffer.rIndex = earlyPrintBuffer.wIndex

	exp := "hello world"
	Printf("%s", exp)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	if got := buf.String(); got != exp {
		t.Fatalf("expected buffered output %q to be flushed to the new sink; got %q", exp, got)
	}

	if earlyPrintBuffer.Len() != 0 {
		t.Fatal("expected early print buffer to be drained")
	}
}

func TestAddOutputSink(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(nil)
	earlyPrintBuffer.rIndex = earlyPrintBuffer.wIndex

	Printf("early ")

	var serial, fb bytes.Buffer
	if !AddOutputSink(&serial) {
		t.Fatal("expected first sink to be attached")
	}

	Printf("boot ")

	if !AddOutputSink(&fb) {
		t.Fatal("expected second sink to be attached")
	}

	Printf("runtime")

	if exp, got := "early boot runtime", serial.String(); got != exp {
		t.Errorf("expected first sink to receive %q; got %q", exp, got)
	}

	if exp, got := "runtime", fb.String(); got != exp {
		t.Errorf("expected second sink to receive %q; got %q", exp, got)
	}

	if AddOutputSink(nil) {
		t.Error("expected nil sink to be rejected")
	}

	for console.sinkCount < maxSinks {
		AddOutputSink(&fb)
	}

	if AddOutputSink(&fb) {
		t.Error("expected AddOutputSink to fail when the sink set is full")
	}
}

func TestFprintfNilWriter(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(nil)
	earlyPrintBuffer.rIndex = earlyPrintBuffer.wIndex

	Fprintf(nil, "to %s", "ring")

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if exp, got := "to ring", buf.String(); got != exp {
		t.Fatalf("expected nil writer output to land in the ring buffer; got %q", got)
	}
}
