package devices

// 8259A PIC I/O Port Addresses (uint16 for compatibility with port argument)
const (
	PIC_MASTER_CMD_PORT  uint16 = 0x20  // Master PIC Command Port
	PIC_MASTER_DATA_PORT uint16 = 0x21  // Master PIC Data (IMR) Port
	PIC_SLAVE_CMD_PORT   uint16 = 0xA0  // Slave PIC Command Port
	PIC_SLAVE_DATA_PORT  uint16 = 0xA1  // Slave PIC Data (IMR) Port
	PIC_MASTER_ELCR_PORT uint16 = 0x4D0 // Master edge/level control
	PIC_SLAVE_ELCR_PORT  uint16 = 0x4D1 // Slave edge/level control
)

// IRQ lines with a fixed owner on a PC/AT.
const (
	PIT_IRQ              uint8 = 0  // Programmable Interval Timer
	KEYBOARD_IRQ         uint8 = 1  // Keyboard
	PIC_MASTER_SLAVE_IRQ uint8 = 2  // Master PIC IRQ line connected to Slave PIC
	SERIAL_IRQ           uint8 = 4  // Serial Port 1
	FLOPPY_IRQ           uint8 = 6  // Floppy Disk Controller
	RTC_IRQ              uint8 = 8  // Real-Time Clock (Slave IRQ0)
	ATA3_IRQ             uint8 = 9  // Fourth ATA channel
	ATA2_IRQ             uint8 = 11 // Third ATA channel
	MOUSE_IRQ            uint8 = 12 // PS/2 mouse
	ATA0_IRQ             uint8 = 14 // Primary ATA channel
	ATA1_IRQ             uint8 = 15 // Secondary ATA channel
)

// Vector offsets after power on, before the BIOS programs ICW2.
const (
	PIC_MASTER_DEFAULT_OFFSET uint8 = 0x08
	PIC_SLAVE_DEFAULT_OFFSET  uint8 = 0x70
)

// ICW1 (Initialization Command Word 1) bits
const (
	PIC_ICW1_IC4  byte = 0x01 // ICW4 needed
	PIC_ICW1_SNGL byte = 0x02 // Single PIC, no ICW3
	PIC_ICW1_LTIM byte = 0x08 // Level (1) or Edge (0) triggered mode
	PIC_ICW1_INIT byte = 0x10 // Initialization bit (must be 1 for ICW1)
)

// ICW4 (Initialization Command Word 4) bits
const (
	PIC_ICW4_UPM  byte = 0x01 // 8086/8088 mode
	PIC_ICW4_AEOI byte = 0x02 // Auto EOI
)

// OCW2 (Operational Command Word 2) commands
const (
	PIC_OCW2_CLEAR_ROTATE_AEOI byte = 0x00
	PIC_OCW2_SINGLE_MODE       byte = 0x02 // stray single mode bit, ignored
	PIC_OCW2_NONSPECIFIC_EOI   byte = 0x20
	PIC_OCW2_NOP               byte = 0x40
	PIC_OCW2_SPECIFIC_EOI      byte = 0x60 // + IRQ level
	PIC_OCW2_SET_ROTATE_AEOI   byte = 0x80
	PIC_OCW2_ROTATE_EOI        byte = 0xA0
	PIC_OCW2_SET_PRIORITY      byte = 0xC0 // + IRQ level
	PIC_OCW2_ROTATE_SPECIFIC   byte = 0xE0 // + IRQ level
)

// OCW3 (Operational Command Word 3) bits
const (
	PIC_OCW3_MASK      byte = 0x18 // bits that identify an OCW3
	PIC_OCW3_ID        byte = 0x08 // value of those bits for an OCW3
	PIC_OCW3_POLL_CMD  byte = 0x04 // Poll command bit
	PIC_OCW3_READ_IRR  byte = 0x02
	PIC_OCW3_READ_ISR  byte = 0x03
	PIC_OCW3_SMM_RESET byte = 0x02 // special mask field, disable
	PIC_OCW3_SMM_SET   byte = 0x03 // special mask field, enable
)
