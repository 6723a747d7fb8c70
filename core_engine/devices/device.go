package devices

import (
	"fmt"
	"log/slog"
)

// I/O directions as seen from the guest.
const (
	IODirectionIn  uint8 = 0 // read from device
	IODirectionOut uint8 = 1 // write to device
)

// PioDevice defines the interface for a port I/O device.
// `data` holds `size` bytes: for IN the device fills it, for OUT it reads from it.
type PioDevice interface {
	HandleIO(port uint16, direction uint8, size uint8, data []byte) error
}

// Updateable is implemented by devices that need periodic attention from the
// scheduler. elapsedMicros is the time since the previous call.
type Updateable interface {
	Update(elapsedMicros int)
}

// InterruptRaiser is an interface for devices to signal interrupts to the PIC.
type InterruptRaiser interface {
	SetIRQ(irqLine uint8)
	ClearIRQ(irqLine uint8)
}

// BusMaster is anything that asks the CPU for the bus and gets called back
// once the CPU grants it.
type BusMaster interface {
	AcknowledgeBusHold()
}

// CPU is the part of the processor the chipset talks to.
type CPU interface {
	SetHoldRequest(asserted bool, requester BusMaster)
	InterruptRequest(asserted bool)
}

// MemoryBus gives DMA physical access to guest memory.
type MemoryBus interface {
	GetByte(addr uint32) byte
	SetByte(addr uint32, value byte)
	GetWord(addr uint32) uint16
	SetWord(addr uint32, value uint16)
}

// Motherboard exposes the board level signals the keyboard controller drives.
type Motherboard interface {
	SetA20(enabled bool)
	A20() bool
	RequestReset()
}

func loggerOrDefault(logger *slog.Logger, device string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("device", device))
}

// wideAccess handles word and doubleword accesses to byte-only devices. Reads
// see 0xFF in every byte, writes are dropped.
func wideAccess(logger *slog.Logger, port uint16, direction uint8, size uint8, data []byte) {
	if direction == IODirectionIn {
		for i := range data {
			data[i] = 0xFF
		}
		logger.Warn("wide read not supported, returning dummy data",
			slog.String("port", hex16(port)), slog.Int("size", int(size)))
		return
	}
	logger.Warn("wide write not supported, ignored",
		slog.String("port", hex16(port)), slog.Int("size", int(size)))
}

func hex8(v byte) string {
	return fmt.Sprintf("0x%02X", v)
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04X", v)
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}
