package devices

// 8237 DMA I/O port addresses. The 8-bit controller decodes 0x00-0x0F, the
// 16-bit controller decodes the even ports 0xC0-0xDE.
const (
	DMA_MASTER_BASE_PORT uint16 = 0x00
	DMA_MASTER_LAST_PORT uint16 = 0x0F
	DMA_SLAVE_BASE_PORT  uint16 = 0xC0
	DMA_SLAVE_LAST_PORT  uint16 = 0xDE
	DMA_PAGE_BASE_PORT   uint16 = 0x80
	DMA_PAGE_LAST_PORT   uint16 = 0x8F
)

// Control register offsets, relative to the controller base. The slave uses
// the same registers at twice the distance (0xD0 + 2*n).
const (
	DMA_REG_STATUS_COMMAND byte = 0x08 // R: status, W: command
	DMA_REG_REQUEST        byte = 0x09 // W: request register
	DMA_REG_SINGLE_MASK    byte = 0x0A // W: single channel mask
	DMA_REG_MODE           byte = 0x0B // W: mode register
	DMA_REG_CLEAR_FLIPFLOP byte = 0x0C // W: clear byte pointer flip-flop
	DMA_REG_MASTER_CLEAR   byte = 0x0D // R: temporary register, W: master clear
	DMA_REG_CLEAR_MASK     byte = 0x0E // W: clear all mask bits
	DMA_REG_ALL_MASK       byte = 0x0F // R/W: all mask bits
)

// Mode register: transfer types (bits 2-3).
const (
	DMA_TRANSFER_VERIFY    uint8 = 0
	DMA_TRANSFER_WRITE     uint8 = 1 // device to memory
	DMA_TRANSFER_READ      uint8 = 2 // memory to device
	DMA_TRANSFER_UNDEFINED uint8 = 3
)

// Mode register: mode selection (bits 6-7).
const (
	DMA_MODE_DEMAND  uint8 = 0
	DMA_MODE_SINGLE  uint8 = 1
	DMA_MODE_BLOCK   uint8 = 2
	DMA_MODE_CASCADE uint8 = 3
)

// Command register bits. Only the controller disable bit is acted on.
const (
	DMA_CMD_MEM_TO_MEM byte = 0x01
	DMA_CMD_DISABLE    byte = 0x04
)

// DMA_CASCADE_CHANNEL is the 16-bit controller's channel 0, wired to the 8-bit
// controller's HRQ output.
const DMA_CASCADE_CHANNEL uint8 = 4

// dmaPageChannel maps page register ports to the channel they serve. Ports not
// listed are spare page registers with no channel behind them.
var dmaPageChannel = map[uint16]uint8{
	0x81: 2,
	0x82: 3,
	0x83: 1,
	0x87: 0,
	0x89: 6,
	0x8A: 7,
	0x8B: 5,
	0x8F: 4,
}

