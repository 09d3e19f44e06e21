// Package kfmt implements the kernel console: an allocation-free Printf whose
// output is broadcast to every attached sink, or buffered in a ring buffer
// while no sink is attached yet.
package kfmt

import (
	"io"
	"unsafe"
)

const (
	// maxBufSize defines the buffer size for formatting numbers.
	maxBufSize = 32

	// maxSinks is the number of output sinks that can be attached at the
	// same time (e.g. the serial port and a framebuffer writer).
	maxSinks = 4
)

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	digits          = []byte("0123456789abcdef")

	numFmtBuf [maxBufSize + 1]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer captures Printf output until the first sink is
	// attached.
	earlyPrintBuffer ringBuffer

	// console fans out every write to the attached sinks.
	console broadcastWriter
)

// broadcastWriter is an io.Writer that copies every write to a fixed set of
// sinks. With no sinks attached, writes go to the earlyPrintBuffer.
type broadcastWriter struct {
	sinks     [maxSinks]io.Writer
	sinkCount int
}

func (bw *broadcastWriter) Write(p []byte) (int, error) {
	if bw.sinkCount == 0 {
		return earlyPrintBuffer.Write(p)
	}

	for i := 0; i < bw.sinkCount; i++ {
		bw.sinks[i].Write(p)
	}
	return len(p), nil
}

// AddOutputSink attaches w to the set of writers that receive Printf output.
// The first sink to be attached also receives any output accumulated in the
// early print buffer. AddOutputSink returns false if w is nil or the sink set
// is full.
func AddOutputSink(w io.Writer) bool {
	if w == nil || console.sinkCount == maxSinks {
		return false
	}

	console.sinks[console.sinkCount] = w
	console.sinkCount++
	if console.sinkCount == 1 {
		io.Copy(w, &earlyPrintBuffer)
	}

	return true
}

// SetOutputSink detaches all sinks and makes w the only target for calls to
// Printf, copying any buffered early output to it. Passing nil routes Printf
// output back to the early print buffer.
func SetOutputSink(w io.Writer) {
	for i := 0; i < console.sinkCount; i++ {
		console.sinks[i] = nil
	}
	console.sinkCount = 0

	AddOutputSink(w)
}

// Printf provides a minimal Printf implementation that can be safely used
// before the memory subsystem has been initialized. This implementation
// does not allocate any memory.
//
// Similar to fmt.Printf, this version of printf supports the following subset
// of formatting verbs:
//
// Strings:
//		%s the uninterpreted bytes of the string or byte slice
//
// Integers:
//		%o base 8
//		%d base 10
//		%x base 16, with lower-case letters for a-f
//
// Booleans:
//		%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. Strings and base-10 integers are left-padded with spaces; base-8 and
// base-16 integers are left-padded with zeroes.
//
// Arguments are never checked for io.Stringer or error implementations and
// %p is not supported; both would require reflection which in turn makes the
// compiler allocate while assembling the argument slice.
func Printf(format string, args ...interface{}) {
	Fprintf(&console, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex   int
		padLen     int
		blockStart int
		fmtLen     = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[blockStart:i])

		for padLen, i = 0, i+1; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = (padLen * 10) + int(format[i]-'0')
		}

		if i == fmtLen {
			doWrite(w, errNoVerb)
			blockStart = fmtLen
			break
		}

		switch verb := format[i]; verb {
		case '%':
			singleByte[0] = '%'
			doWrite(w, singleByte)
		case 'd', 'x', 'o', 's', 't':
			if argIndex >= len(args) {
				doWrite(w, errMissingArg)
				break
			}

			switch verb {
			case 'o':
				fmtInt(w, args[argIndex], 8, padLen)
			case 'd':
				fmtInt(w, args[argIndex], 10, padLen)
			case 'x':
				fmtInt(w, args[argIndex], 16, padLen)
			case 's':
				fmtString(w, args[argIndex], padLen)
			case 't':
				fmtBool(w, args[argIndex])
			}
			argIndex++
		default:
			doWrite(w, errNoVerb)
		}

		blockStart = i + 1
	}

	writeString(w, format[blockStart:])

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// writeString emits s one byte at a time; converting s to a byte slice would
// trigger an allocation.
func writeString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		singleByte[0] = s[i]
		doWrite(w, singleByte)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		writeString(w, castedVal)
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	singleByte[0] = ch
	for i := 0; i < count; i++ {
		doWrite(w, singleByte)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. All built-in signed and unsigned integer
// types are supported.
func fmtInt(w io.Writer, v interface{}, base uint64, padLen int) {
	var (
		uval     uint64
		negative bool
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, negative = absInt(int64(t))
	case int16:
		uval, negative = absInt(int64(t))
	case int32:
		uval, negative = absInt(int64(t))
	case int64:
		uval, negative = absInt(t)
	case int:
		uval, negative = absInt(int64(t))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Digits are generated right-to-left so no reversal is needed.
	end := len(numFmtBuf)
	pos := end
	for {
		pos--
		numFmtBuf[pos] = digits[uval%base]
		uval /= base
		if uval == 0 {
			break
		}
	}

	// With space padding the sign sits right before the digits; with zero
	// padding it goes in front of the padding.
	if negative && padCh == ' ' {
		pos--
		numFmtBuf[pos] = '-'
	}

	for end-pos < padLen {
		pos--
		numFmtBuf[pos] = padCh
	}

	if negative && padCh == '0' {
		pos--
		numFmtBuf[pos] = '-'
	}

	doWrite(w, numFmtBuf[pos:end])
}

func absInt(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack, the compiler cannot detect
// that p does not escape through the io.Writer interface call and flags it as
// escaping, making every Printf call allocate.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
