package devices

// PIT Port Constants
const (
	PIT_PORT_COUNTER0 uint16 = 0x40
	PIT_PORT_COUNTER1 uint16 = 0x41
	PIT_PORT_COUNTER2 uint16 = 0x42
	PIT_PORT_COMMAND  uint16 = 0x43
	PIT_PORT_STATUS   uint16 = 0x61 // Port B of the 8255 PPI: speaker gate, refresh toggle
)

// Input clock of every counter, in Hz.
const PIT_CLOCK_HZ = 1193182

// Read/Write modes for PIT counter control word
const (
	PIT_RW_LATCH byte = 0x00 // Latch count value command
	PIT_RW_LSB   byte = 0x01 // Read/Write LSB only
	PIT_RW_MSB   byte = 0x02 // Read/Write MSB only
	PIT_RW_LOHI  byte = 0x03 // Read/Write LSB then MSB
)

// Operating modes (control word bits 3-1). Modes 6 and 7 alias 2 and 3.
const (
	PIT_MODE_INTERRUPT_ON_TC byte = 0
	PIT_MODE_ONE_SHOT        byte = 1
	PIT_MODE_RATE_GENERATOR  byte = 2
	PIT_MODE_SQUARE_WAVE     byte = 3
	PIT_MODE_SW_STROBE       byte = 4
	PIT_MODE_HW_STROBE       byte = 5
)

// Read-back command (counter select 11)
const (
	PIT_READBACK_SELECT     byte = 0xC0
	PIT_READBACK_NO_COUNT   byte = 0x20 // active low
	PIT_READBACK_NO_STATUS  byte = 0x10 // active low
	PIT_READBACK_COUNTER0   byte = 0x02
	PIT_READBACK_NULL_COUNT byte = 0x40 // status byte: count not yet loaded
	PIT_READBACK_OUTPUT     byte = 0x80 // status byte: OUT pin
)

// Port 0x61 bits
const (
	PIT_STATUS_GATE2   byte = 0x01 // counter 2 gate
	PIT_STATUS_SPEAKER byte = 0x02 // speaker data enable
	PIT_STATUS_REFRESH byte = 0x10 // toggles on every read
	PIT_STATUS_OUT2    byte = 0x20 // counter 2 output
)
