package core_engine

import (
	"log/slog"
	"sync"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

// InterruptHandler runs the guest's service routine for an acknowledged
// interrupt vector.
type InterruptHandler func(vector uint8)

// interruptController is the INTA side of the PIC.
type interruptController interface {
	InterruptAcknowledge() uint8
}

// VCPU models the processor pins the chipset drives: HOLD/HLDA for bus
// masters and INTR/INTA for the PIC. Instruction execution is out of scope;
// an InterruptHandler stands in for the guest's interrupt service routines.
type VCPU struct {
	id   int
	lock sync.Mutex

	hold      bool
	requester devices.BusMaster
	intr      bool
	ifFlag    bool // interrupts enabled (EFLAGS.IF)

	pic     interruptController
	handler InterruptHandler
	wake    chan struct{}

	busGrants  uint64
	interrupts uint64

	logger *slog.Logger
}

// NewVCPU creates a processor with interrupts enabled.
func NewVCPU(id int, logger *slog.Logger) *VCPU {
	if logger == nil {
		logger = slog.Default()
	}
	return &VCPU{
		id:     id,
		ifFlag: true,
		wake:   make(chan struct{}, 1),
		logger: logger.With(slog.String("device", "cpu"), slog.Int("vcpu", id)),
	}
}

func (vcpu *VCPU) attachPIC(pic interruptController) {
	vcpu.lock.Lock()
	defer vcpu.lock.Unlock()
	vcpu.pic = pic
}

// SetInterruptHandler installs the routine that receives acknowledged vectors.
func (vcpu *VCPU) SetInterruptHandler(h InterruptHandler) {
	vcpu.lock.Lock()
	defer vcpu.lock.Unlock()
	vcpu.handler = h
}

// SetInterruptFlag is STI/CLI.
func (vcpu *VCPU) SetInterruptFlag(enabled bool) {
	vcpu.lock.Lock()
	vcpu.ifFlag = enabled
	vcpu.lock.Unlock()
	vcpu.signal()
}

// SetHoldRequest drives the HOLD pin on behalf of a bus master.
func (vcpu *VCPU) SetHoldRequest(asserted bool, requester devices.BusMaster) {
	vcpu.lock.Lock()
	vcpu.hold = asserted
	vcpu.requester = requester
	vcpu.lock.Unlock()
	if asserted {
		vcpu.signal()
	}
}

// InterruptRequest drives the INTR pin.
func (vcpu *VCPU) InterruptRequest(asserted bool) {
	vcpu.lock.Lock()
	vcpu.intr = asserted
	vcpu.lock.Unlock()
	if asserted {
		vcpu.signal()
	}
}

func (vcpu *VCPU) signal() {
	select {
	case vcpu.wake <- struct{}{}:
	default:
	}
}

// Step services one pending pin at an instruction boundary: a bus hold first,
// then a maskable interrupt. It reports whether anything was serviced.
// No lock is held while calling back into the chipset.
func (vcpu *VCPU) Step() bool {
	vcpu.lock.Lock()
	if vcpu.hold && vcpu.requester != nil {
		requester := vcpu.requester
		vcpu.busGrants++
		vcpu.lock.Unlock()
		requester.AcknowledgeBusHold()
		return true
	}
	if vcpu.intr && vcpu.ifFlag && vcpu.pic != nil {
		pic, handler := vcpu.pic, vcpu.handler
		vcpu.interrupts++
		vcpu.lock.Unlock()
		vector := pic.InterruptAcknowledge()
		vcpu.logger.Debug("interrupt acknowledged", slog.Int("vector", int(vector)))
		if handler != nil {
			handler(vector)
		}
		return true
	}
	vcpu.lock.Unlock()
	return false
}

// Wake is signalled whenever a pin is asserted.
func (vcpu *VCPU) Wake() <-chan struct{} {
	return vcpu.wake
}

// VCPUState is a snapshot of the processor pins.
type VCPUState struct {
	Hold       bool
	INTR       bool
	IF         bool
	BusGrants  uint64
	Interrupts uint64
}

// State returns the pin levels and service counters.
func (vcpu *VCPU) State() VCPUState {
	vcpu.lock.Lock()
	defer vcpu.lock.Unlock()
	return VCPUState{
		Hold:       vcpu.hold,
		INTR:       vcpu.intr,
		IF:         vcpu.ifFlag,
		BusGrants:  vcpu.busGrants,
		Interrupts: vcpu.interrupts,
	}
}
