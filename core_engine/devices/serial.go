package devices

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// SerialPortDevice implements a 16550A UART.
//
// Transmission is instant: bytes written to THR go straight to the output
// writer and THR is always empty. Received bytes come from the host through
// Receive. The IRQ line is the pending interrupt gated by MCR OUT2.
type SerialPortDevice struct {
	outputWriter io.Writer       // Where to write serial output (e.g., os.Stdout)
	irqRaiser    InterruptRaiser // To signal interrupts to the PIC
	irq          uint8
	lock         sync.Mutex

	// Internal registers state
	dll byte // Divisor Latch Low (DLAB=1)
	dlh byte // Divisor Latch High (DLAB=1)
	ier byte // Interrupt Enable Register
	fcr byte // FIFO Control Register (write)
	lcr byte // Line Control Register
	mcr byte // Modem Control Register
	lsr byte // Line Status Register
	scr byte // Scratch Pad Register

	rx          []byte
	thrPending  bool // THR empty interrupt not yet acknowledged
	irqAsserted bool

	logger *slog.Logger
}

// NewSerialPortDevice creates and initializes a new SerialPortDevice on irq.
// It takes an io.Writer for its output and an InterruptRaiser for interrupt signaling.
func NewSerialPortDevice(writer io.Writer, irqRaiser InterruptRaiser, irq uint8, logger *slog.Logger) *SerialPortDevice {
	s := &SerialPortDevice{
		outputWriter: writer,
		irqRaiser:    irqRaiser,
		irq:          irq,
		logger:       loggerOrDefault(logger, "uart"),
	}
	s.Reset()
	return s
}

// Reset restores the power on register values and empties the receive FIFO.
func (s *SerialPortDevice) Reset() {
	s.lock.Lock()
	s.dll, s.dlh = 0x0C, 0x00 // 9600 baud
	s.ier = 0
	s.fcr = 0
	s.lcr = 0x03 // 8N1
	s.mcr = 0
	s.lsr = LSR_THRE | LSR_TEMT
	s.scr = 0
	s.rx = s.rx[:0]
	s.thrPending = false
	change, level := s.updateIRQ()
	s.lock.Unlock()
	s.signal(change, level)
}

// SetOutput replaces the writer transmitted bytes go to.
func (s *SerialPortDevice) SetOutput(w io.Writer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.outputWriter = w
}

func (s *SerialPortDevice) dlab() bool {
	return s.lcr&LCR_DLAB != 0
}

func (s *SerialPortDevice) fifoEnabled() bool {
	return s.fcr&FCR_ENABLE != 0
}

// HandleIO processes I/O operations for the serial port.
func (s *SerialPortDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	if size != 1 {
		wideAccess(s.logger, port, direction, size, data)
		return nil
	}
	if port < COM1_PORT_BASE || port > COM1_PORT_END {
		return fmt.Errorf("SerialPortDevice: port %s: %w", hex16(port), ErrUnknownPort)
	}

	s.lock.Lock()
	var err error
	if direction == IODirectionOut {
		err = s.write(port-COM1_PORT_BASE, data[0])
	} else {
		data[0] = s.read(port - COM1_PORT_BASE)
	}
	change, level := s.updateIRQ()
	s.lock.Unlock()

	s.signal(change, level)
	return err
}

func (s *SerialPortDevice) write(offset uint16, val byte) error {
	switch offset {
	case RHR_THR_DLL:
		if s.dlab() {
			s.dll = val
			s.logBaud()
			return nil
		}
		s.thrPending = true
		if s.mcr&MCR_LOOPBACK != 0 {
			s.receiveByte(val)
			return nil
		}
		if s.outputWriter == nil {
			return nil
		}
		if _, err := s.outputWriter.Write([]byte{val}); err != nil {
			s.logger.Error("transmit failed", slog.Any("err", err))
			return fmt.Errorf("SerialPortDevice: transmit: %w", err)
		}
	case IER_DLH:
		if s.dlab() {
			s.dlh = val
			s.logBaud()
			return nil
		}
		if val&IER_THRE_ENABLE != 0 && s.ier&IER_THRE_ENABLE == 0 {
			// enabling the interrupt with THR already empty fires it
			s.thrPending = true
		}
		s.ier = val & 0x0F
	case IIR_FCR:
		if val&FCR_CLEAR_RX != 0 {
			s.rx = s.rx[:0]
			s.lsr &^= LSR_DR
		}
		s.fcr = val &^ (FCR_CLEAR_RX | FCR_CLEAR_TX)
		if !s.fifoEnabled() && len(s.rx) > 1 {
			s.rx = s.rx[:1]
		}
	case LCR:
		s.lcr = val
	case MCR:
		s.mcr = val & 0x1F
	case LSR, MSR:
		s.logger.Debug("write to status register ignored", slog.Int("offset", int(offset)), slog.String("value", hex8(val)))
	case SCR:
		s.scr = val
	}
	return nil
}

func (s *SerialPortDevice) read(offset uint16) byte {
	switch offset {
	case RHR_THR_DLL:
		if s.dlab() {
			return s.dll
		}
		if len(s.rx) == 0 {
			return 0
		}
		b := s.rx[0]
		s.rx = s.rx[1:]
		if len(s.rx) == 0 {
			s.lsr &^= LSR_DR
		}
		return b
	case IER_DLH:
		if s.dlab() {
			return s.dlh
		}
		return s.ier
	case IIR_FCR:
		id := s.pendingInterrupt()
		if id == IIR_THRE {
			s.thrPending = false
		}
		if s.fifoEnabled() {
			id |= IIR_FIFO_ENABLED
		}
		return id
	case LCR:
		return s.lcr
	case MCR:
		return s.mcr
	case LSR:
		val := s.lsr
		s.lsr &^= lsrErrorBits
		return val
	case MSR:
		return s.modemStatus()
	case SCR:
		return s.scr
	}
	return 0xFF
}

// modemStatus reports a connected peer (CTS, DSR, DCD). In loopback the
// modem outputs feed back into the inputs.
func (s *SerialPortDevice) modemStatus() byte {
	if s.mcr&MCR_LOOPBACK == 0 {
		return MSR_CTS | MSR_DSR | MSR_DCD
	}
	var val byte
	if s.mcr&MCR_RTS != 0 {
		val |= MSR_CTS
	}
	if s.mcr&MCR_DTR != 0 {
		val |= MSR_DSR
	}
	if s.mcr&MCR_OUT1 != 0 {
		val |= MSR_RI
	}
	if s.mcr&MCR_OUT2 != 0 {
		val |= MSR_DCD
	}
	return val
}

func (s *SerialPortDevice) logBaud() {
	divisor := int(s.dlh)<<8 | int(s.dll)
	if divisor == 0 {
		return
	}
	s.logger.Debug("baud rate set", slog.Int("baud", UART_BASE_BAUD/divisor))
}

func (s *SerialPortDevice) receiveByte(b byte) {
	capacity := 1
	if s.fifoEnabled() {
		capacity = uartFIFOSize
	}
	if len(s.rx) >= capacity {
		s.lsr |= LSR_OE
		s.logger.Warn("receive overrun, byte dropped", slog.String("value", hex8(b)))
		return
	}
	s.rx = append(s.rx, b)
	s.lsr |= LSR_DR
}

// Receive delivers bytes from the host side of the line. Bytes that do not
// fit the receive FIFO are dropped with an overrun.
func (s *SerialPortDevice) Receive(data []byte) {
	s.lock.Lock()
	for _, b := range data {
		s.receiveByte(b)
	}
	change, level := s.updateIRQ()
	s.lock.Unlock()
	s.signal(change, level)
}

// Write makes the device an io.Writer for host input.
func (s *SerialPortDevice) Write(p []byte) (int, error) {
	s.Receive(p)
	return len(p), nil
}

// pendingInterrupt returns the IIR identification of the highest priority
// enabled source.
func (s *SerialPortDevice) pendingInterrupt() byte {
	switch {
	case s.ier&IER_RX_LINE_STATUS != 0 && s.lsr&lsrErrorBits != 0:
		return IIR_RLS
	case s.ier&IER_RX_DATA_AVAILABLE != 0 && s.lsr&LSR_DR != 0:
		return IIR_RDA
	case s.ier&IER_THRE_ENABLE != 0 && s.thrPending:
		return IIR_THRE
	}
	return IIR_NO_INT_PENDING
}

func (s *SerialPortDevice) updateIRQ() (bool, bool) {
	level := s.mcr&MCR_OUT2 != 0 && s.pendingInterrupt() != IIR_NO_INT_PENDING
	if level == s.irqAsserted {
		return false, level
	}
	s.irqAsserted = level
	return true, level
}

func (s *SerialPortDevice) signal(change, level bool) {
	if !change || s.irqRaiser == nil {
		return
	}
	if level {
		s.irqRaiser.SetIRQ(s.irq)
	} else {
		s.irqRaiser.ClearIRQ(s.irq)
	}
}

// SerialState is a snapshot of the UART registers.
type SerialState struct {
	Divisor  uint16
	IER      byte
	LCR      byte
	MCR      byte
	LSR      byte
	FIFO     bool
	RxBuffer []byte
	IRQ      bool
}

// State returns a copy of the UART registers.
func (s *SerialPortDevice) State() SerialState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return SerialState{
		Divisor:  uint16(s.dlh)<<8 | uint16(s.dll),
		IER:      s.ier,
		LCR:      s.lcr,
		MCR:      s.mcr,
		LSR:      s.lsr,
		FIFO:     s.fifoEnabled(),
		RxBuffer: append([]byte(nil), s.rx...),
		IRQ:      s.irqAsserted,
	}
}

// Ports returns the eight UART registers.
func (s *SerialPortDevice) Ports() []uint16 {
	ports := make([]uint16, 0, 8)
	for p := COM1_PORT_BASE; p <= COM1_PORT_END; p++ {
		ports = append(ports, p)
	}
	return ports
}
