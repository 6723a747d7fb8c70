package devices

import (
	"fmt"
	"log/slog"
	"sync"
)

// PICController represents a single 8259A PIC (Master or Slave).
type PICController struct {
	isMaster bool  // True if this is the Master PIC
	offset   uint8 // Base interrupt vector offset (ICW2)
	imr      uint8 // Interrupt Mask Register (masking IRQ lines)
	irr      uint8 // Interrupt Request Register (pending IRQs)
	isr      uint8 // In-Service Register (IRQs being serviced)
	irqIn    uint8 // Current level of the input pins
	elcr     uint8 // Edge/level control, 1 = level triggered

	lowestPriority uint8
	irq            uint8 // IRQ currently presented to the CPU
	intRequestPin  bool  // INT output, waiting for an acknowledge

	// Initialization sequence
	inInit       bool
	requires4    bool
	single       bool
	expectedICW  int
	autoEOI      bool // Auto End Of Interrupt
	rotateOnAEOI bool

	specialMask bool
	polled      bool
	readISR     bool // OCW3 read register select, false reads IRR
}

// PICDevice manages a pair of Master and Slave 8259A PICs.
type PICDevice struct {
	master PICController
	slave  PICController
	lock   sync.Mutex

	cpu    CPU
	owners map[uint8]DeviceID
	logger *slog.Logger
}

// NewPICDevice creates and initializes a new PICDevice (Master and Slave).
// The master's INT output drives cpu.InterruptRequest.
func NewPICDevice(cpu CPU, logger *slog.Logger) *PICDevice {
	p := &PICDevice{
		cpu:    cpu,
		owners: make(map[uint8]DeviceID),
		logger: loggerOrDefault(logger, "pic"),
	}
	p.Reset()
	return p
}

// Reset puts both controllers into their power on state. IRQ ownership is kept.
func (p *PICDevice) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.master = PICController{isMaster: true, offset: PIC_MASTER_DEFAULT_OFFSET}
	p.slave = PICController{isMaster: false, offset: PIC_SLAVE_DEFAULT_OFFSET}
	for _, pc := range []*PICController{&p.master, &p.slave} {
		pc.imr = 0xFF
		pc.lowestPriority = 7
	}
	if p.cpu != nil {
		p.cpu.InterruptRequest(false)
	}
}

// HandleIO processes I/O operations for the PIC device.
// `port`: The I/O port address.
// `direction`: 0 for IN (read from device), 1 for OUT (write to device).
// `size`: The size of the data transfer (1, 2, or 4 bytes).
// `data`: For IN, write to this slice. For OUT, read from this slice.
func (p *PICDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if size != 1 {
		wideAccess(p.logger, port, direction, size, data)
		return nil
	}

	var pc *PICController
	switch port {
	case PIC_MASTER_CMD_PORT, PIC_MASTER_DATA_PORT:
		pc = &p.master
	case PIC_SLAVE_CMD_PORT, PIC_SLAVE_DATA_PORT:
		pc = &p.slave
	case PIC_MASTER_ELCR_PORT, PIC_SLAVE_ELCR_PORT:
		p.handleELCR(port, direction, data)
		return nil
	default:
		return fmt.Errorf("PICDevice: port %s: %w", hex16(port), ErrUnknownPort)
	}

	isCommand := port == PIC_MASTER_CMD_PORT || port == PIC_SLAVE_CMD_PORT
	if direction == IODirectionIn {
		data[0] = p.read(pc, isCommand)
		return nil
	}
	if isCommand {
		p.writeCommandPort(pc, data[0])
	} else {
		p.writeDataPort(pc, data[0])
	}
	return nil
}

func (p *PICDevice) handleELCR(port uint16, direction uint8, data []byte) {
	pc, writable := &p.master, byte(0xF8) // IRQ0-2 are always edge triggered
	if port == PIC_SLAVE_ELCR_PORT {
		pc, writable = &p.slave, 0xDE // IRQ8 and IRQ13 too
	}
	if direction == IODirectionIn {
		data[0] = pc.elcr
		return
	}
	pc.elcr = data[0] & writable
}

// read handles reads from a PIC's command or data port.
func (p *PICDevice) read(pc *PICController, isCommand bool) byte {
	if pc.polled {
		// A poll read acts as an interrupt acknowledge.
		p.clearHighestInterrupt(pc)
		pc.polled = false
		p.service(pc)
		return pc.irq
	}
	if !isCommand {
		return pc.imr
	}
	if pc.readISR {
		return pc.isr
	}
	return pc.irr
}

// writeCommandPort processes ICW1, OCW2 and OCW3.
func (p *PICDevice) writeCommandPort(pc *PICController, val byte) {
	if val&PIC_ICW1_INIT != 0 {
		pc.inInit = true
		pc.requires4 = val&PIC_ICW1_IC4 != 0
		pc.single = val&PIC_ICW1_SNGL != 0
		pc.expectedICW = 2
		pc.imr = 0x00
		pc.isr = 0x00
		pc.irr = 0x00
		pc.lowestPriority = 7
		pc.intRequestPin = false
		pc.autoEOI = false
		pc.rotateOnAEOI = false
		if val&PIC_ICW1_LTIM != 0 {
			pc.elcr = 0xFF
		}
		p.logger.Debug("ICW1", slog.String("pic", pc.name()), slog.String("value", hex8(val)),
			slog.Bool("single", pc.single), slog.Bool("icw4", pc.requires4))
		if pc.isMaster {
			if p.cpu != nil {
				p.cpu.InterruptRequest(false)
			}
		} else {
			p.clearIRQ(PIC_MASTER_SLAVE_IRQ)
		}
		return
	}

	if val&PIC_OCW3_MASK == PIC_OCW3_ID {
		p.processOCW3(pc, val)
		return
	}
	p.processOCW2(pc, val)
}

// writeDataPort processes data written to the PIC (IMR or ICW2-4).
func (p *PICDevice) writeDataPort(pc *PICController, val byte) {
	if !pc.inInit {
		pc.imr = val
		p.service(pc)
		return
	}

	switch pc.expectedICW {
	case 2:
		pc.offset = val & 0xF8
		p.logger.Debug("ICW2", slog.String("pic", pc.name()), slog.String("offset", hex8(pc.offset)))
		switch {
		case !pc.single:
			pc.expectedICW = 3
		case pc.requires4:
			pc.expectedICW = 4
		default:
			pc.inInit = false
		}
	case 3:
		if pc.requires4 {
			pc.expectedICW = 4
		} else {
			pc.inInit = false
		}
	case 4:
		pc.autoEOI = val&PIC_ICW4_AEOI != 0
		if val&PIC_ICW4_UPM == 0 {
			p.logger.Error("ICW4: only 8086 mode is supported",
				slog.String("pic", pc.name()), slog.String("value", hex8(val)))
		}
		pc.inInit = false
	}
}

// processOCW2 handles Operational Command Word 2, which includes EOI.
func (p *PICDevice) processOCW2(pc *PICController, val byte) {
	switch {
	case val == PIC_OCW2_CLEAR_ROTATE_AEOI || val == PIC_OCW2_SET_ROTATE_AEOI:
		pc.rotateOnAEOI = val != 0
	case val == PIC_OCW2_NONSPECIFIC_EOI || val == PIC_OCW2_ROTATE_EOI:
		p.clearHighestInterrupt(pc)
		if val == PIC_OCW2_ROTATE_EOI {
			pc.lowestPriority = (pc.lowestPriority + 1) & 7
		}
		p.service(pc)
	case val == PIC_OCW2_NOP:
	case val&0xF8 == PIC_OCW2_SPECIFIC_EOI:
		pc.isr &^= 1 << (val & 7)
		p.service(pc)
	case val&0xF8 == PIC_OCW2_SET_PRIORITY:
		// No service pass: a newly favoured request waits for the next IRQ, EOI or mask change.
		pc.lowestPriority = val & 7
	case val&0xF8 == PIC_OCW2_ROTATE_SPECIFIC:
		pc.isr &^= 1 << (val & 7)
		pc.lowestPriority = val & 7
		p.service(pc)
	case val == PIC_OCW2_SINGLE_MODE:
	default:
		p.logger.Warn("OCW2 not supported", slog.String("pic", pc.name()), slog.String("value", hex8(val)))
	}
}

// processOCW3 handles Operational Command Word 3.
func (p *PICDevice) processOCW3(pc *PICController, val byte) {
	if val&PIC_OCW3_POLL_CMD != 0 {
		pc.polled = true
		return
	}
	switch val & 0x03 {
	case PIC_OCW3_READ_IRR:
		pc.readISR = false
	case PIC_OCW3_READ_ISR:
		pc.readISR = true
	}
	switch (val & 0x60) >> 5 {
	case PIC_OCW3_SMM_RESET:
		pc.specialMask = false
	case PIC_OCW3_SMM_SET:
		pc.specialMask = true
		p.service(pc)
	}
}

// clearHighestInterrupt drops the highest priority in-service bit.
func (p *PICDevice) clearHighestInterrupt(pc *PICController) {
	highest := (pc.lowestPriority + 1) & 7
	irq := highest
	for {
		if pc.isr&(1<<irq) != 0 {
			pc.isr &^= 1 << irq
			return
		}
		irq = (irq + 1) & 7
		if irq == highest {
			return
		}
	}
}

// service presents the highest priority unmasked request to the next stage,
// unless an equal or higher priority interrupt is in service.
func (p *PICDevice) service(pc *PICController) {
	if pc.intRequestPin {
		return
	}
	highest := (pc.lowestPriority + 1) & 7
	maxIRQ := highest
	if !pc.specialMask && pc.isr != 0 {
		for pc.isr&(1<<maxIRQ) == 0 {
			maxIRQ = (maxIRQ + 1) & 7
		}
		if maxIRQ == highest {
			return
		}
	}

	unmasked := pc.irr &^ pc.imr
	if unmasked == 0 {
		return
	}
	irq := highest
	for {
		inService := pc.isr&(1<<irq) != 0
		if !(pc.specialMask && inService) && unmasked&(1<<irq) != 0 {
			pc.intRequestPin = true
			pc.irq = irq
			if pc.isMaster {
				if p.cpu != nil {
					p.cpu.InterruptRequest(true)
				}
			} else {
				p.setIRQ(PIC_MASTER_SLAVE_IRQ)
			}
			return
		}
		irq = (irq + 1) & 7
		if irq == maxIRQ {
			return
		}
	}
}

// SetIRQ raises an IRQ input line (0-15). Only a rising edge registers.
func (p *PICDevice) SetIRQ(irqLine uint8) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.setIRQ(irqLine)
}

func (p *PICDevice) setIRQ(irqLine uint8) {
	pc, mask, ok := p.line(irqLine)
	if !ok {
		return
	}
	if pc.irqIn&mask != 0 {
		return
	}
	pc.irqIn |= mask
	pc.irr |= mask
	p.service(pc)
}

// ClearIRQ lowers an IRQ input line and withdraws the pending request.
func (p *PICDevice) ClearIRQ(irqLine uint8) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.clearIRQ(irqLine)
}

func (p *PICDevice) clearIRQ(irqLine uint8) {
	pc, mask, ok := p.line(irqLine)
	if !ok {
		return
	}
	if pc.irqIn&mask == 0 {
		return
	}
	pc.irqIn &^= mask
	pc.irr &^= mask
}

func (p *PICDevice) line(irqLine uint8) (*PICController, uint8, bool) {
	switch {
	case irqLine < 8:
		return &p.master, 1 << irqLine, true
	case irqLine < 16:
		return &p.slave, 1 << (irqLine - 8), true
	}
	p.logger.Error("invalid IRQ line", slog.Int("irq", int(irqLine)))
	return nil, 0, false
}

// InterruptAcknowledge runs the INTA cycle and returns the vector for the
// CPU. With nothing pending it returns the spurious vector offset+7.
func (p *PICDevice) InterruptAcknowledge() uint8 {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cpu != nil {
		p.cpu.InterruptRequest(false)
	}
	m := &p.master
	m.intRequestPin = false
	if m.irr == 0 {
		return m.offset + 7
	}
	p.accept(m)

	irq := m.irq
	vector := m.offset + irq
	if irq == PIC_MASTER_SLAVE_IRQ {
		s := &p.slave
		s.intRequestPin = false
		m.irqIn &^= 1 << PIC_MASTER_SLAVE_IRQ
		if s.irr == 0 {
			return s.offset + 7
		}
		p.accept(s)
		vector = s.offset + s.irq
		p.service(s)
		irq = s.irq + 8
	}
	p.service(m)
	p.logger.Debug("interrupt acknowledged", slog.Int("irq", int(irq)), slog.String("vector", hex8(vector)))
	return vector
}

// accept moves the current IRQ from IRR to ISR.
func (p *PICDevice) accept(pc *PICController) {
	bit := uint8(1) << pc.irq
	if pc.elcr&bit == 0 {
		pc.irr &^= bit
	}
	if !pc.autoEOI {
		pc.isr |= bit
	} else if pc.rotateOnAEOI {
		pc.lowestPriority = pc.irq
	}
}

// HasPendingInterrupts reports whether the master is asserting INT.
func (p *PICDevice) HasPendingInterrupts() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.master.intRequestPin
}

func (pc *PICController) name() string {
	if pc.isMaster {
		return "Master"
	}
	return "Slave"
}

// PICControllerState is a snapshot of one 8259A.
type PICControllerState struct {
	IRR, ISR, IMR  uint8
	IRQIn          uint8
	ELCR           uint8
	Offset         uint8
	LowestPriority uint8
	IRQ            uint8
	INT            bool
	InInit         bool
	AutoEOI        bool
	RotateOnAEOI   bool
	SpecialMask    bool
	Polled         bool
	ReadISR        bool
}

// PICState is a snapshot of the pair.
type PICState struct {
	Master PICControllerState
	Slave  PICControllerState
}

// State returns a copy of both controllers' registers.
func (p *PICDevice) State() PICState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return PICState{Master: p.master.state(), Slave: p.slave.state()}
}

func (pc *PICController) state() PICControllerState {
	return PICControllerState{
		IRR:            pc.irr,
		ISR:            pc.isr,
		IMR:            pc.imr,
		IRQIn:          pc.irqIn,
		ELCR:           pc.elcr,
		Offset:         pc.offset,
		LowestPriority: pc.lowestPriority,
		IRQ:            pc.irq,
		INT:            pc.intRequestPin,
		InInit:         pc.inInit,
		AutoEOI:        pc.autoEOI,
		RotateOnAEOI:   pc.rotateOnAEOI,
		SpecialMask:    pc.specialMask,
		Polled:         pc.polled,
		ReadISR:        pc.readISR,
	}
}

// Ports lists every I/O port the PIC pair decodes.
func (p *PICDevice) Ports() []uint16 {
	return []uint16{
		PIC_MASTER_CMD_PORT, PIC_MASTER_DATA_PORT,
		PIC_SLAVE_CMD_PORT, PIC_SLAVE_DATA_PORT,
		PIC_MASTER_ELCR_PORT, PIC_SLAVE_ELCR_PORT,
	}
}
