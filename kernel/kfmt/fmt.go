// Package kfmt implements allocation-free formatted output for code that runs
// before (or without) the Go runtime allocator, together with the kernel
// panic handler.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

const digits = "0123456789abcdef"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf [maxBufSize]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output until an output sink is
	// attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized. It does not allocate
// any memory.
//
// Supported verbs:
//
//	%s  string or []byte
//	%d  integer in base 10
//	%x  integer in base 16, lower-case
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces, base-16 integers with zeroes.
//
// Only built-in integer types are accepted; named types (e.g. mm.Size) must
// be converted by the caller since Printf cannot rely on itables or
// reflection this early.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			// passing a substring of format to doWrite triggers a memory
			// allocation so we need to do this one byte at a time.
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		switch verb := format[i]; verb {
		case '%':
			writeByte(w, '%')
		case 'd', 'x', 's', 't':
			if argIndex >= len(args) {
				doWrite(w, errMissingArg)
				continue
			}

			switch verb {
			case 'd':
				fmtInt(w, args[argIndex], 10, width)
			case 'x':
				fmtInt(w, args[argIndex], 16, width)
			case 's':
				fmtString(w, args[argIndex], width)
			case 't':
				fmtBool(w, args[argIndex])
			}
			argIndex++
		default:
			doWrite(w, errNoVerb)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func writeByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

func fmtBool(w io.Writer, v interface{}) {
	switch bVal, ok := v.(bool); {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch str := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(str))
		for i := 0; i < len(str); i++ {
			writeByte(w, str[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(str))
		doWrite(w, str)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt formats v in the requested base. Digits are generated right to left
// into numFmtBuf so no reversal pass is needed.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	uval, negative, ok := toUint64(v)
	if !ok {
		doWrite(w, errWrongArgType)
		return
	}

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	pos := maxBufSize
	for {
		pos--
		numFmtBuf[pos] = digits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	padLen := width - (maxBufSize - pos)
	if negative {
		padLen--
	}

	if base == 16 {
		for ; padLen > 0; padLen-- {
			pos--
			numFmtBuf[pos] = '0'
		}
	}

	if negative {
		pos--
		numFmtBuf[pos] = '-'
	}

	for ; padLen > 0; padLen-- {
		pos--
		numFmtBuf[pos] = ' '
	}

	doWrite(w, numFmtBuf[pos:])
}

// toUint64 returns the magnitude of any built-in integer value and whether
// it was negative.
func toUint64(v interface{}) (uint64, bool, bool) {
	var sval int64

	switch t := v.(type) {
	case uint8:
		return uint64(t), false, true
	case uint16:
		return uint64(t), false, true
	case uint32:
		return uint64(t), false, true
	case uint64:
		return t, false, true
	case uint:
		return uint64(t), false, true
	case uintptr:
		return uint64(t), false, true
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		return 0, false, false
	}

	if sval < 0 {
		return uint64(-sval), true, true
	}
	return uint64(sval), false, true
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without it, the call through the io.Writer
// interface flags p as escaping and every Printf call would allocate,
// crashing the kernel before the Go allocator is up.
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
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
