// Package serial implements a polled driver for 16550-compatible UARTs. The
// COM1 port is the first console sink attached during boot since it needs no
// memory mappings to operate.
package serial

import (
	"io"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/cpu"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
)

// COM1 is the I/O port base of the first serial port.
const COM1 uint16 = 0x3f8

// Register offsets relative to the port base.
const (
	regData        = 0 // data / divisor low byte when DLAB is set
	regIntEnable   = 1 // interrupt enable / divisor high byte when DLAB is set
	regFIFOControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5
)

const (
	lineControlDLAB       = 0x80
	lineControl8N1        = 0x03
	fifoEnableClear14     = 0xc7
	modemCtrlNormal       = 0x0f
	modemCtrlLoopback     = 0x1e
	lineStatusTxEmpty     = 0x20
	loopbackTestByte      = 0xae
	baseBaudRate          = 115200
	DefaultBaudRate       = 38400
	maxTxEmptyPollRetries = 1 << 16
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errFaultyPort   = &kernel.Error{Module: "serial", Message: "loopback test failed"}
	errInvalidBaud  = &kernel.Error{Module: "serial", Message: "unsupported baud rate"}
	crlf            = []byte{'\r', '\n'}
	singleByteWrite = []byte{0}
)

// Port is a polled 16550 UART. It implements io.Writer so it can be attached
// as a kfmt output sink.
type Port struct {
	base     uint16
	baudRate uint32
	ready    bool
}

// NewPort returns a Port driver for the UART at the supplied I/O base. The
// port must be initialized with DriverInit before use.
func NewPort(base uint16, baudRate uint32) Port {
	return Port{base: base, baudRate: baudRate}
}

// DriverName returns the name of the driver.
func (p *Port) DriverName() string {
	return "serial_16550"
}

// DriverVersion returns the driver version.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the line settings (8N1 at the configured baud rate),
// enables the FIFOs and verifies the chip through a loopback round-trip.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	if p.baudRate == 0 || p.baudRate > baseBaudRate || baseBaudRate%p.baudRate != 0 {
		return errInvalidBaud
	}
	divisor := uint16(baseBaudRate / p.baudRate)

	p.out(regIntEnable, 0x00)
	p.out(regLineControl, lineControlDLAB)
	p.out(regData, uint8(divisor))
	p.out(regIntEnable, uint8(divisor>>8))
	p.out(regLineControl, lineControl8N1)
	p.out(regFIFOControl, fifoEnableClear14)

	p.out(regModemCtrl, modemCtrlLoopback)
	p.out(regData, loopbackTestByte)
	if got := portReadByteFn(p.base + regData); got != loopbackTestByte {
		return errFaultyPort
	}
	p.out(regModemCtrl, modemCtrlNormal)

	p.ready = true
	if w != nil {
		kfmt.Fprintf(w, "[serial] port 0x%x initialized at %d baud\n", p.base, p.baudRate)
	}
	return nil
}

// Write transmits p, translating line feeds into CR-LF pairs. Writes to an
// uninitialized port are dropped.
func (p *Port) Write(b []byte) (int, error) {
	if !p.ready {
		return len(b), nil
	}

	for _, ch := range b {
		if ch == '\n' {
			p.writeRaw(crlf)
			continue
		}

		singleByteWrite[0] = ch
		p.writeRaw(singleByteWrite)
	}

	return len(b), nil
}

func (p *Port) writeRaw(b []byte) {
	for _, ch := range b {
		// A UART that stops draining its FIFO must not wedge the
		// kernel console, so the poll loop is bounded.
		for retries := 0; retries < maxTxEmptyPollRetries; retries++ {
			if portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty != 0 {
				break
			}
		}
		portWriteByteFn(p.base+regData, ch)
	}
}

func (p *Port) out(reg uint16, val uint8) {
	portWriteByteFn(p.base+reg, val)
}
