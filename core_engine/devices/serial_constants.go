package devices

// Serial Port Constants
const (
	COM1_PORT_BASE uint16 = 0x3F8 // Base address for COM1
	COM1_PORT_END  uint16 = 0x3FF // End address for COM1 (8 registers)

	// Offsets from base port
	RHR_THR_DLL uint16 = 0 // Receiver Holding Reg (R), Transmitter Holding Reg (W), Divisor Latch LSB (DLAB=1)
	IER_DLH     uint16 = 1 // Interrupt Enable Reg, Divisor Latch MSB (DLAB=1)
	IIR_FCR     uint16 = 2 // Interrupt ID Reg (R), FIFO Control Reg (W)
	LCR         uint16 = 3 // Line Control Register
	MCR         uint16 = 4 // Modem Control Register
	LSR         uint16 = 5 // Line Status Register
	MSR         uint16 = 6 // Modem Status Register
	SCR         uint16 = 7 // Scratch Register
)

// UART input clock divided by 16, the baud rate for divisor 1.
const UART_BASE_BAUD = 115200

// Depth of the receive FIFO when FIFOs are enabled.
const uartFIFOSize = 16

// Line Control Register (LCR) bits
const (
	LCR_DLAB byte = 0x80 // Divisor Latch Access Bit
)

// Line Status Register (LSR) bits
const (
	LSR_DR   byte = 0x01 // Data Ready
	LSR_OE   byte = 0x02 // Overrun Error
	LSR_PE   byte = 0x04 // Parity Error
	LSR_FE   byte = 0x08 // Framing Error
	LSR_BI   byte = 0x10 // Break Interrupt
	LSR_THRE byte = 0x20 // Transmitter Holding Register Empty
	LSR_TEMT byte = 0x40 // Transmitter Empty
	LSR_ERF  byte = 0x80 // Error in RCVR FIFO

	lsrErrorBits = LSR_OE | LSR_PE | LSR_FE | LSR_BI
)

// Interrupt Identification Register (IIR) bits (when read)
const (
	IIR_NO_INT_PENDING byte = 0x01 // No interrupt pending
	IIR_INT_ID_MASK    byte = 0x0E // Mask for interrupt ID bits
	IIR_RLS            byte = 0x06 // Receiver Line Status interrupt
	IIR_RDA            byte = 0x04 // Received Data Available interrupt
	IIR_THRE           byte = 0x02 // Transmitter Holding Register Empty interrupt
	IIR_MS             byte = 0x00 // Modem Status interrupt
	IIR_FIFO_ENABLED   byte = 0xC0 // Both bits set if FIFO enabled (16550+)
)

// Interrupt Enable Register (IER) bits
const (
	IER_RX_DATA_AVAILABLE byte = 0x01 // Enable Received Data Available Interrupt
	IER_THRE_ENABLE       byte = 0x02 // Enable Transmitter Holding Register Empty Interrupt
	IER_RX_LINE_STATUS    byte = 0x04 // Enable Receiver Line Status Interrupt
	IER_MODEM_STATUS      byte = 0x08 // Enable Modem Status Interrupt
)

// FIFO Control Register (FCR) bits
const (
	FCR_ENABLE   byte = 0x01
	FCR_CLEAR_RX byte = 0x02
	FCR_CLEAR_TX byte = 0x04
)

// Modem Control Register (MCR) bits
const (
	MCR_DTR      byte = 0x01
	MCR_RTS      byte = 0x02
	MCR_OUT1     byte = 0x04
	MCR_OUT2     byte = 0x08 // gates the IRQ line on PCs
	MCR_LOOPBACK byte = 0x10
)

// Modem Status Register (MSR) bits
const (
	MSR_CTS byte = 0x10
	MSR_DSR byte = 0x20
	MSR_RI  byte = 0x40
	MSR_DCD byte = 0x80
)
