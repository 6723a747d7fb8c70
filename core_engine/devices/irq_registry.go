package devices

import (
	"fmt"
	"log/slog"
)

// DeviceID identifies a device asking the PIC for its interrupt line.
type DeviceID int

const (
	DevicePIT DeviceID = iota
	DeviceKeyboard
	DeviceMouse
	DeviceSerial
	DeviceFDC
	DeviceRTC
	DeviceATA0
	DeviceATA1
	DeviceATA2
	DeviceATA3
	DeviceVGA
	DeviceParallel
)

var deviceNames = map[DeviceID]string{
	DevicePIT:      "pit",
	DeviceKeyboard: "keyboard",
	DeviceMouse:    "mouse",
	DeviceSerial:   "serial",
	DeviceFDC:      "fdc",
	DeviceRTC:      "rtc",
	DeviceATA0:     "ata0",
	DeviceATA1:     "ata1",
	DeviceATA2:     "ata2",
	DeviceATA3:     "ata3",
	DeviceVGA:      "vga",
	DeviceParallel: "parallel",
}

func (id DeviceID) String() string {
	if name, ok := deviceNames[id]; ok {
		return name
	}
	return fmt.Sprintf("device(%d)", int(id))
}

// fixedIRQs holds the lines hard wired on a PC/AT board.
var fixedIRQs = map[DeviceID]uint8{
	DevicePIT:      PIT_IRQ,
	DeviceKeyboard: KEYBOARD_IRQ,
	DeviceSerial:   SERIAL_IRQ,
	DeviceFDC:      FLOPPY_IRQ,
	DeviceRTC:      RTC_IRQ,
	DeviceMouse:    MOUSE_IRQ,
	DeviceATA0:     ATA0_IRQ,
	DeviceATA1:     ATA1_IRQ,
	DeviceATA2:     ATA2_IRQ,
	DeviceATA3:     ATA3_IRQ,
}

// RequestIRQNumber returns the IRQ line wired to a device and records the
// device as its owner. Devices without a fixed line get ErrIRQUnsupported.
func (p *PICDevice) RequestIRQNumber(id DeviceID) (uint8, error) {
	irq, ok := fixedIRQs[id]
	if !ok {
		p.logger.Error("no fixed IRQ", slog.String("owner", id.String()))
		return 0, fmt.Errorf("PICDevice: %s: %w", id, ErrIRQUnsupported)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.owners[irq] = id
	return irq, nil
}

// IRQOwner reports which device requested an IRQ line.
func (p *PICDevice) IRQOwner(irq uint8) (DeviceID, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	id, ok := p.owners[irq]
	return id, ok
}

// ReleaseIRQ forgets the owner of an IRQ line.
func (p *PICDevice) ReleaseIRQ(irq uint8) error {
	if irq > 15 {
		return fmt.Errorf("PICDevice: IRQ %d: %w", irq, ErrInvalidIRQ)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.owners, irq)
	return nil
}
