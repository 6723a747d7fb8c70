package devices

// 8042 keyboard controller I/O ports
const (
	KEYBOARD_PORT_DATA   uint16 = 0x60 // Output buffer (R), input buffer (W)
	KEYBOARD_PORT_STATUS uint16 = 0x64 // Status (R), command (W)
)

// Status register bits (port 0x64)
const (
	KBC_STATUS_OUTB byte = 0x01 // Output buffer full
	KBC_STATUS_INPB byte = 0x02 // Input buffer full
	KBC_STATUS_SYSF byte = 0x04 // System flag, set after self test
	KBC_STATUS_CD   byte = 0x08 // Last write was a command (1) or data (0)
	KBC_STATUS_KEYL byte = 0x10 // Keyboard not locked
	KBC_STATUS_AUXB byte = 0x20 // Output buffer holds mouse data
	KBC_STATUS_TIM  byte = 0x40 // Timeout
	KBC_STATUS_PARE byte = 0x80 // Parity error
)

// Controller commands written to port 0x64
const (
	KBC_CMD_READ_COMMAND_BYTE  byte = 0x20
	KBC_CMD_WRITE_COMMAND_BYTE byte = 0x60
	KBC_CMD_READ_COPYRIGHT     byte = 0xA0
	KBC_CMD_READ_VERSION       byte = 0xA1
	KBC_CMD_DISABLE_AUX        byte = 0xA7
	KBC_CMD_ENABLE_AUX         byte = 0xA8
	KBC_CMD_TEST_AUX           byte = 0xA9
	KBC_CMD_SELF_TEST          byte = 0xAA
	KBC_CMD_TEST_KEYBOARD      byte = 0xAB
	KBC_CMD_DISABLE_KEYBOARD   byte = 0xAD
	KBC_CMD_ENABLE_KEYBOARD    byte = 0xAE
	KBC_CMD_READ_KBD_VERSION   byte = 0xAF
	KBC_CMD_READ_INPUT_PORT    byte = 0xC0
	KBC_CMD_READ_MODE          byte = 0xCA
	KBC_CMD_WRITE_MODE         byte = 0xCB
	KBC_CMD_READ_OUTPUT_PORT   byte = 0xD0
	KBC_CMD_WRITE_OUTPUT_PORT  byte = 0xD1
	KBC_CMD_WRITE_KBD_BUFFER   byte = 0xD2
	KBC_CMD_WRITE_AUX_BUFFER   byte = 0xD3
	KBC_CMD_WRITE_TO_AUX       byte = 0xD4
	KBC_CMD_DISABLE_A20        byte = 0xDD
	KBC_CMD_ENABLE_A20         byte = 0xDF
	KBC_CMD_PULSE_RESET        byte = 0xFE
)

// Commands understood by the keyboard itself (written to port 0x60)
const (
	KBD_CMD_SET_LEDS       byte = 0xED
	KBD_CMD_ECHO           byte = 0xEE
	KBD_CMD_SCANCODE_SET   byte = 0xF0
	KBD_CMD_IDENTIFY       byte = 0xF2
	KBD_CMD_TYPEMATIC      byte = 0xF3
	KBD_CMD_ENABLE         byte = 0xF4
	KBD_CMD_RESET_DISABLE  byte = 0xF5
	KBD_CMD_RESET_ENABLE   byte = 0xF6
	KBD_CMD_RESEND         byte = 0xFE
	KBD_CMD_RESET          byte = 0xFF
)

// Keyboard and mouse replies
const (
	KBD_REPLY_ACK        byte = 0xFA
	KBD_REPLY_RESEND     byte = 0xFE
	KBD_REPLY_ERROR      byte = 0xFF
	KBD_REPLY_BAT_OK     byte = 0xAA
	KBD_REPLY_ECHO       byte = 0xEE
	KBD_REPLY_ID_FIRST   byte = 0xAB
	KBD_REPLY_ID_XLATE   byte = 0x41
	KBD_REPLY_ID_NOXLATE byte = 0x83
	KBC_REPLY_SELF_TEST  byte = 0x55
)

// LED bits in the argument of KBD_CMD_SET_LEDS
const (
	KBD_LED_SCROLL byte = 0x01
	KBD_LED_NUM    byte = 0x02
	KBD_LED_CAPS   byte = 0x04
)

const (
	kbcControllerQueueSize = 5  // nominal depth of the 8042 output queue
	kbdInternalBufferSize  = 16 // keyboard's own FIFO
	mouseBufferSize        = 48
)
