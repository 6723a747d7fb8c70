package core_engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

// maxServicePerStep bounds how many pins the CPU services per step, so a
// guest that never acknowledges cannot stall the scheduler.
const maxServicePerStep = 64

// VirtualMachine is the motherboard: guest RAM, the CPU pins, the port bus
// and the chipset devices, driven by one scheduler.
//
// Port I/O, interrupt service, DMA and device updates all happen on the
// goroutine calling Step or Run. Host input (KeyEvent, MouseEvent,
// SerialReceive) may arrive from any goroutine.
type VirtualMachine struct {
	config Config

	memory         *Memory
	vcpu           *VCPU
	clock          *Clock
	ioBus          *devices.IOBus
	picDevice      *devices.PICDevice
	dmaDevice      *devices.DMADevice
	pitDevice      *devices.PITDevice
	rtcDevice      *devices.RTCDevice
	serialDevice   *devices.SerialPortDevice
	keyboardDevice *devices.KeyboardDevice
	mouseDevice    *devices.PS2Mouse

	resetPending atomic.Bool
	resets       atomic.Int64
	stopChan     chan struct{}
	stopOnce     sync.Once
	logger       *slog.Logger
}

// NewVirtualMachine creates and initializes a new machine in its power on state.
func NewVirtualMachine(cfg Config) (*VirtualMachine, error) {
	cfg = cfg.withDefaults()
	logger := cfg.logger()

	memory, err := NewMemory(cfg.MemorySize, logger)
	if err != nil {
		return nil, err
	}

	vm := &VirtualMachine{
		config:   cfg,
		memory:   memory,
		vcpu:     NewVCPU(0, logger),
		clock:    NewClock(logger),
		ioBus:    devices.NewIOBus(logger),
		stopChan: make(chan struct{}),
		logger:   logger.With(slog.String("device", "vm")),
	}

	// Initialize I/O Bus and Devices
	vm.picDevice = devices.NewPICDevice(vm.vcpu, logger)
	vm.vcpu.attachPIC(vm.picDevice)
	vm.dmaDevice = devices.NewDMADevice(vm.vcpu, memory, logger)
	vm.pitDevice = devices.NewPITDevice(vm.picDevice, logger)
	vm.rtcDevice = devices.NewRTCDevice(vm.picDevice, logger)
	vm.rtcDevice.SetMemorySize(int(cfg.MemorySize / 1024))

	serialIRQ, err := vm.picDevice.RequestIRQNumber(devices.DeviceSerial)
	if err != nil {
		memory.Close()
		return nil, err
	}
	vm.serialDevice = devices.NewSerialPortDevice(cfg.SerialOutput, vm.picDevice, serialIRQ, logger)

	vm.keyboardDevice = devices.NewKeyboardDevice(vm.picDevice, vm, cfg.Notifier, logger)
	vm.mouseDevice = devices.NewPS2Mouse(logger)
	vm.keyboardDevice.AttachMouse(vm.mouseDevice)
	vm.mouseDevice.SetDataHook(vm.keyboardDevice.ActivateTimer)

	for _, id := range []devices.DeviceID{devices.DevicePIT, devices.DeviceKeyboard, devices.DeviceMouse, devices.DeviceRTC} {
		if _, err := vm.picDevice.RequestIRQNumber(id); err != nil {
			memory.Close()
			return nil, err
		}
	}

	if err := vm.registerDevices(); err != nil {
		memory.Close()
		return nil, err
	}
	timers := []struct {
		name     string
		device   devices.Updateable
		interval int
	}{
		{"pit", vm.pitDevice, cfg.PITIntervalMicros},
		{"keyboard", vm.keyboardDevice, cfg.KeyboardIntervalMicros},
		{"rtc", vm.rtcDevice, cfg.RTCIntervalMicros},
	}
	for _, t := range timers {
		if err := vm.clock.Register(t.name, t.device, t.interval); err != nil {
			memory.Close()
			return nil, err
		}
	}

	memory.SetA20(cfg.A20Enabled)
	vm.logger.Debug("machine created", slog.Uint64("memory", cfg.MemorySize))
	return vm, nil
}

type portDevice interface {
	devices.PioDevice
	Ports() []uint16
}

// registerDevices claims every device's ports. Registering again after a
// reset is a no-op since the owners are unchanged.
func (vm *VirtualMachine) registerDevices() error {
	for _, dev := range []portDevice{
		vm.picDevice, vm.dmaDevice, vm.pitDevice, vm.rtcDevice, vm.serialDevice, vm.keyboardDevice,
	} {
		if err := vm.ioBus.RegisterPorts(dev, dev.Ports()...); err != nil {
			return fmt.Errorf("register %T: %w", dev, err)
		}
	}
	return nil
}

// Reset puts every device back into its power on state. RAM is kept.
func (vm *VirtualMachine) Reset() error {
	vm.picDevice.Reset()
	vm.dmaDevice.Reset()
	vm.pitDevice.Reset()
	vm.rtcDevice.Reset()
	vm.serialDevice.Reset()
	vm.mouseDevice.Reset()
	vm.keyboardDevice.Reset()
	vm.memory.SetA20(vm.config.A20Enabled)
	vm.resets.Add(1)
	vm.logger.Info("machine reset")
	return vm.registerDevices()
}

// SetA20 opens or closes the A20 gate.
func (vm *VirtualMachine) SetA20(enabled bool) {
	vm.memory.SetA20(enabled)
}

// A20 reports the A20 gate.
func (vm *VirtualMachine) A20() bool {
	return vm.memory.A20()
}

// RequestReset schedules a reset for the end of the current step. Devices
// call it with their own locks held, so the reset cannot run inline.
func (vm *VirtualMachine) RequestReset() {
	vm.resetPending.Store(true)
	vm.vcpu.signal()
}

// Step advances guest time by elapsedMicros, then lets the CPU service
// pending bus holds and interrupts.
func (vm *VirtualMachine) Step(elapsedMicros int) {
	vm.clock.Advance(elapsedMicros)
	vm.serviceCPU()
}

func (vm *VirtualMachine) serviceCPU() {
	for i := 0; i < maxServicePerStep && vm.vcpu.Step(); i++ {
	}
	if vm.resetPending.Swap(false) {
		if err := vm.Reset(); err != nil {
			vm.logger.Error("reset failed", slog.Any("err", err))
		}
	}
}

// Run drives the machine in real time until ctx is done or Stop is called.
func (vm *VirtualMachine) Run(ctx context.Context) error {
	vm.logger.Debug("starting run loop")
	ticker := time.NewTicker(time.Duration(vm.config.TickMicros) * time.Microsecond)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-vm.stopChan:
			vm.logger.Debug("run loop stopped")
			return nil
		case now := <-ticker.C:
			vm.Step(int(now.Sub(last).Microseconds()))
			last = now
		case <-vm.vcpu.Wake():
			vm.serviceCPU()
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (vm *VirtualMachine) Stop() {
	vm.stopOnce.Do(func() { close(vm.stopChan) })
}

// Close stops the machine and releases guest memory.
func (vm *VirtualMachine) Close() error {
	vm.Stop()
	return vm.memory.Close()
}

// HandleIO dispatches a port access from the CPU. data holds count
// consecutive transfers of size bytes (string I/O).
func (vm *VirtualMachine) HandleIO(port uint16, data []byte, direction uint8, size uint8, count uint32) error {
	if len(data) < int(size)*int(count) {
		return fmt.Errorf("HandleIO: data buffer too small for I/O operation (size %d, count %d, buffer %d)", size, count, len(data))
	}
	for i := uint32(0); i < count; i++ {
		chunk := data[int(i)*int(size) : int(i+1)*int(size)]
		if err := vm.ioBus.HandleIO(port, direction, size, chunk); err != nil {
			vm.logger.Warn("I/O error", slog.String("port", fmt.Sprintf("0x%04X", port)), slog.Any("err", err))
			return err
		}
	}
	return nil
}

// InByte reads a port as the guest would.
func (vm *VirtualMachine) InByte(port uint16) (byte, error) {
	data := []byte{0}
	err := vm.HandleIO(port, data, devices.IODirectionIn, 1, 1)
	return data[0], err
}

// OutByte writes a port as the guest would.
func (vm *VirtualMachine) OutByte(port uint16, value byte) error {
	return vm.HandleIO(port, []byte{value}, devices.IODirectionOut, 1, 1)
}

// KeyEvent feeds a host key press or release to the keyboard.
func (vm *VirtualMachine) KeyEvent(key devices.Key, pressed bool) {
	vm.keyboardDevice.KeyEvent(key, pressed)
}

// MouseEvent feeds host motion and buttons to the PS/2 mouse.
func (vm *VirtualMachine) MouseEvent(dx, dy int, buttons byte) {
	vm.mouseDevice.Move(dx, dy, buttons)
}

// SerialReceive delivers host bytes to COM1.
func (vm *VirtualMachine) SerialReceive(data []byte) {
	vm.serialDevice.Receive(data)
}

// SetInterruptHandler installs the guest's interrupt service routine.
func (vm *VirtualMachine) SetInterruptHandler(h InterruptHandler) {
	vm.vcpu.SetInterruptHandler(h)
}

func (vm *VirtualMachine) IOBus() *devices.IOBus             { return vm.ioBus }
func (vm *VirtualMachine) PIC() *devices.PICDevice           { return vm.picDevice }
func (vm *VirtualMachine) DMA() *devices.DMADevice           { return vm.dmaDevice }
func (vm *VirtualMachine) PIT() *devices.PITDevice           { return vm.pitDevice }
func (vm *VirtualMachine) RTC() *devices.RTCDevice           { return vm.rtcDevice }
func (vm *VirtualMachine) Serial() *devices.SerialPortDevice { return vm.serialDevice }
func (vm *VirtualMachine) Keyboard() *devices.KeyboardDevice { return vm.keyboardDevice }
func (vm *VirtualMachine) Mouse() *devices.PS2Mouse          { return vm.mouseDevice }
func (vm *VirtualMachine) Memory() *Memory                   { return vm.memory }
func (vm *VirtualMachine) CPU() *VCPU                        { return vm.vcpu }
func (vm *VirtualMachine) Clock() *Clock                     { return vm.clock }

// MachineState is a snapshot of every device, for debugging.
type MachineState struct {
	Uptime   time.Duration
	Resets   int64
	A20      bool
	CPU      VCPUState
	PIC      devices.PICState
	DMA      devices.DMAState
	PIT      devices.PITState
	RTC      devices.RTCState
	Serial   devices.SerialState
	Keyboard devices.KeyboardState
	Mouse    devices.MouseState
}

// State collects every device snapshot.
func (vm *VirtualMachine) State() MachineState {
	return MachineState{
		Uptime:   vm.clock.Now(),
		Resets:   vm.resets.Load(),
		A20:      vm.memory.A20(),
		CPU:      vm.vcpu.State(),
		PIC:      vm.picDevice.State(),
		DMA:      vm.dmaDevice.State(),
		PIT:      vm.pitDevice.State(),
		RTC:      vm.rtcDevice.State(),
		Serial:   vm.serialDevice.State(),
		Keyboard: vm.keyboardDevice.State(),
		Mouse:    vm.mouseDevice.State(),
	}
}
