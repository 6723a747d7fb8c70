package devices

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Mouse is the auxiliary device behind the 8042's second port.
type Mouse interface {
	IsBufferEmpty() bool
	GetDataFromBuffer() byte
	ControlMouse(value byte)
}

// StatusNotifier is told when the guest switches keyboard LEDs.
type StatusNotifier interface {
	SetNumLock(on bool)
	SetCapsLock(on bool)
	SetScrollLock(on bool)
}

type kbcQueueEntry struct {
	data byte
	aux  bool
}

// kbcState is the 8042 itself: status bits, output buffers and the small
// queue of controller generated bytes.
type kbcState struct {
	pare, tim, auxb, keyl, cd, sysf, inpb, outb bool

	kbdOutput byte
	auxOutput byte
	queue     []kbcQueueEntry

	kbdClockEnabled bool
	auxClockEnabled bool
	allowIRQ1       bool
	allowIRQ12      bool
	translate       bool

	lastCommand     byte
	expectingPort60 bool
	irq1Requested   bool
	irq12Requested  bool
	batInProgress   bool
	initialized     bool
}

// KeyboardDevice emulates the 8042 keyboard controller with an MF2 keyboard
// attached to its first port and a mouse on the auxiliary port.
//
// Lock order: lock (controller state), then the keyboard buffer lock, then
// the mouse's own lock.
type KeyboardDevice struct {
	lock     sync.Mutex
	ctrl     kbcState
	keyboard internalKeyboard

	timerPending atomic.Bool

	irqRaiser InterruptRaiser
	board     Motherboard
	mouse     Mouse
	notifier  StatusNotifier
	logger    *slog.Logger
}

// NewKeyboardDevice creates the controller in its power on state.
func NewKeyboardDevice(irqRaiser InterruptRaiser, board Motherboard, notifier StatusNotifier, logger *slog.Logger) *KeyboardDevice {
	k := &KeyboardDevice{
		irqRaiser: irqRaiser,
		board:     board,
		notifier:  notifier,
		logger:    loggerOrDefault(logger, "kbc"),
	}
	k.Reset()
	return k
}

// AttachMouse connects the auxiliary device.
func (k *KeyboardDevice) AttachMouse(mouse Mouse) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.mouse = mouse
}

// Reset returns controller and keyboard to their power on state.
func (k *KeyboardDevice) Reset() {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.ctrl = kbcState{
		keyl:            true,
		cd:              true,
		kbdClockEnabled: true,
		allowIRQ1:       true,
		allowIRQ12:      true,
	}
	k.resetInternals(true)
	k.keyboard.reset()
	k.timerPending.Store(false)
}

// ActivateTimer makes the next Update look for data to move into the
// output buffer.
func (k *KeyboardDevice) ActivateTimer() {
	k.timerPending.Store(true)
}

// HandleIO processes I/O operations for the keyboard controller.
func (k *KeyboardDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	if size != 1 {
		wideAccess(k.logger, port, direction, size, data)
		return nil
	}

	switch port {
	case KEYBOARD_PORT_DATA:
		if direction == IODirectionIn {
			data[0] = k.readData()
			return nil
		}
		return k.writeData(data[0])
	case KEYBOARD_PORT_STATUS:
		if direction == IODirectionIn {
			data[0] = k.readStatus()
			return nil
		}
		k.writeCommand(data[0])
		return nil
	}
	return fmt.Errorf("KeyboardDevice: port %s: %w", hex16(port), ErrUnknownPort)
}

func (k *KeyboardDevice) readData() byte {
	c := &k.ctrl
	switch {
	case c.auxb:
		val := c.auxOutput
		c.auxOutput = 0
		c.outb = false
		c.auxb = false
		c.irq12Requested = false
		k.refillFromQueue()
		k.lowerIRQ(MOUSE_IRQ)
		k.ActivateTimer()
		return val
	case c.outb:
		val := c.kbdOutput
		c.outb = false
		c.irq1Requested = false
		c.batInProgress = false
		k.refillFromQueue()
		k.lowerIRQ(KEYBOARD_IRQ)
		k.ActivateTimer()
		return val
	}
	k.logger.Warn("read from port 0x60 with output buffer empty",
		slog.Int("pending", k.keyboard.len()))
	return c.kbdOutput
}

// refillFromQueue moves the next controller queued byte into the output buffer.
func (k *KeyboardDevice) refillFromQueue() {
	c := &k.ctrl
	if len(c.queue) == 0 {
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	k.loadOutput(next.data, next.aux)
}

func (k *KeyboardDevice) loadOutput(data byte, aux bool) {
	c := &k.ctrl
	c.outb = true
	c.auxb = aux
	c.inpb = false
	if aux {
		c.auxOutput = data
		if c.allowIRQ12 {
			c.irq12Requested = true
		}
		return
	}
	c.kbdOutput = data
	if c.allowIRQ1 {
		c.irq1Requested = true
	}
}

func (k *KeyboardDevice) readStatus() byte {
	c := &k.ctrl
	val := boolBit(c.pare)<<7 | boolBit(c.tim)<<6 | boolBit(c.auxb)<<5 | boolBit(c.keyl)<<4 |
		boolBit(c.cd)<<3 | boolBit(c.sysf)<<2 | boolBit(c.inpb)<<1 | boolBit(c.outb)
	c.tim = false
	return val
}

func (k *KeyboardDevice) writeData(val byte) error {
	c := &k.ctrl
	if !c.expectingPort60 {
		c.cd = false
		if !c.kbdClockEnabled {
			k.logger.Debug("keyboard clock enabled by data write", slog.String("value", hex8(val)))
			k.setKbdClock(true)
		}
		k.controlKeyboard(val)
		return nil
	}

	c.expectingPort60 = false
	c.cd = false
	switch c.lastCommand {
	case KBC_CMD_WRITE_COMMAND_BYTE:
		c.translate = val&0x40 != 0
		disableAux := val&0x20 != 0
		disableKbd := val&0x10 != 0
		c.sysf = val&0x04 != 0
		c.allowIRQ12 = val&0x02 != 0
		c.allowIRQ1 = val&0x01 != 0
		k.setKbdClock(!disableKbd)
		k.setAuxClock(!disableAux)
		if c.allowIRQ12 && c.auxb {
			c.irq12Requested = true
		} else if c.allowIRQ1 && c.outb {
			c.irq1Requested = true
		}
	case KBC_CMD_WRITE_MODE:
		k.logger.Debug("write controller mode", slog.String("value", hex8(val)))
	case KBC_CMD_WRITE_OUTPUT_PORT:
		if k.board != nil {
			k.board.SetA20(val&0x02 != 0)
			if val&0x01 == 0 {
				k.logger.Info("processor reset through output port")
				k.board.RequestReset()
			}
		}
	case KBC_CMD_WRITE_KBD_BUFFER:
		k.enqueueController(val, false)
	case KBC_CMD_WRITE_AUX_BUFFER:
		k.enqueueController(val, true)
	case KBC_CMD_WRITE_TO_AUX:
		if k.mouse == nil {
			k.logger.Warn("write to absent mouse", slog.String("value", hex8(val)))
			return nil
		}
		k.mouse.ControlMouse(val)
		k.ActivateTimer()
	default:
		k.logger.Error("unsupported data write",
			slog.String("lastCommand", hex8(c.lastCommand)), slog.String("value", hex8(val)))
		return fmt.Errorf("KeyboardDevice: data %s after command %s: %w",
			hex8(val), hex8(c.lastCommand), ErrUnknownPort)
	}
	return nil
}

func (k *KeyboardDevice) writeCommand(val byte) {
	c := &k.ctrl
	c.cd = true
	c.lastCommand = val
	c.expectingPort60 = false

	switch val {
	case KBC_CMD_READ_COMMAND_BYTE:
		if c.outb {
			k.logger.Warn("output buffer full, command refused", slog.String("command", hex8(val)))
			return
		}
		cmd := boolBit(c.translate)<<6 | boolBit(!c.auxClockEnabled)<<5 | boolBit(!c.kbdClockEnabled)<<4 |
			boolBit(c.sysf)<<2 | boolBit(c.allowIRQ12)<<1 | boolBit(c.allowIRQ1)
		k.enqueueController(cmd, false)
	case KBC_CMD_WRITE_COMMAND_BYTE, KBC_CMD_WRITE_MODE, KBC_CMD_WRITE_OUTPUT_PORT,
		KBC_CMD_WRITE_KBD_BUFFER, KBC_CMD_WRITE_AUX_BUFFER, KBC_CMD_WRITE_TO_AUX:
		c.expectingPort60 = true
	case KBC_CMD_READ_COPYRIGHT, KBC_CMD_READ_VERSION, KBC_CMD_READ_KBD_VERSION:
		k.logger.Warn("controller command not supported", slog.String("command", hex8(val)))
	case KBC_CMD_DISABLE_AUX:
		k.setAuxClock(false)
	case KBC_CMD_ENABLE_AUX:
		k.setAuxClock(true)
	case KBC_CMD_TEST_AUX:
		k.enqueueController(0xFF, false)
	case KBC_CMD_SELF_TEST:
		if !c.initialized {
			c.queue = c.queue[:0]
			c.outb = false
			c.initialized = true
		}
		if c.outb {
			k.logger.Warn("output buffer full, self test refused")
			return
		}
		c.sysf = true
		k.enqueueController(KBC_REPLY_SELF_TEST, false)
	case KBC_CMD_TEST_KEYBOARD:
		k.enqueueController(0x00, false)
	case KBC_CMD_DISABLE_KEYBOARD:
		k.setKbdClock(false)
	case KBC_CMD_ENABLE_KEYBOARD:
		k.setKbdClock(true)
	case KBC_CMD_READ_INPUT_PORT:
		k.enqueueController(0x80, false)
	case KBC_CMD_READ_MODE:
		k.enqueueController(0x01, false)
	case KBC_CMD_READ_OUTPUT_PORT:
		a20 := false
		if k.board != nil {
			a20 = k.board.A20()
		}
		port := boolBit(c.irq12Requested)<<5 | boolBit(c.irq1Requested)<<4 | boolBit(a20)<<1 | 0x01
		k.enqueueController(port, false)
	case KBC_CMD_DISABLE_A20:
		if k.board != nil {
			k.board.SetA20(false)
		}
	case KBC_CMD_ENABLE_A20:
		if k.board != nil {
			k.board.SetA20(true)
		}
	case KBC_CMD_PULSE_RESET:
		k.logger.Info("system reset pulse requested, ignored")
	default:
		if val >= 0xF0 {
			// pulse output lines, nothing is wired to them
			return
		}
		k.logger.Warn("unsupported controller command", slog.String("command", hex8(val)))
	}
}

func (k *KeyboardDevice) setKbdClock(enabled bool) {
	c := &k.ctrl
	prev := c.kbdClockEnabled
	c.kbdClockEnabled = enabled
	if enabled && !prev && !c.outb {
		k.ActivateTimer()
	}
}

func (k *KeyboardDevice) setAuxClock(enabled bool) {
	c := &k.ctrl
	prev := c.auxClockEnabled
	c.auxClockEnabled = enabled
	if enabled && !prev && !c.outb {
		k.ActivateTimer()
	}
}

// enqueueController places a controller generated byte in the output buffer,
// or behind it when the buffer is still full.
func (k *KeyboardDevice) enqueueController(data byte, aux bool) {
	c := &k.ctrl
	if c.outb {
		if len(c.queue) >= kbcControllerQueueSize {
			k.logger.Warn("controller queue over capacity",
				slog.Int("size", len(c.queue)), slog.String("data", hex8(data)))
		}
		c.queue = append(c.queue, kbcQueueEntry{data: data, aux: aux})
		return
	}
	k.loadOutput(data, aux)
}

// Update is the controller's periodic poll. Pending IRQ requests from the
// previous cycle are raised, then one byte from the keyboard or mouse is
// moved into an empty output buffer.
func (k *KeyboardDevice) Update(elapsedMicros int) {
	irqs := k.Poll()
	if k.irqRaiser == nil {
		return
	}
	if irqs&0x01 != 0 {
		k.irqRaiser.SetIRQ(KEYBOARD_IRQ)
	}
	if irqs&0x02 != 0 {
		k.irqRaiser.SetIRQ(MOUSE_IRQ)
	}
}

// Poll runs one controller cycle and returns the IRQs requested by the
// previous one: bit 0 for IRQ1, bit 1 for IRQ12.
func (k *KeyboardDevice) Poll() uint8 {
	k.lock.Lock()
	defer k.lock.Unlock()
	c := &k.ctrl

	ret := boolBit(c.irq1Requested) | boolBit(c.irq12Requested)<<1
	c.irq1Requested = false
	c.irq12Requested = false

	if !k.timerPending.Swap(false) {
		return ret
	}
	if c.outb {
		return ret
	}

	if k.keyboard.len() > 0 && (c.kbdClockEnabled || c.batInProgress) {
		data, _ := k.keyboard.dequeue()
		c.kbdOutput = data
		c.outb = true
		if c.allowIRQ1 {
			c.irq1Requested = true
		}
		return ret
	}
	if c.auxClockEnabled && k.mouse != nil && !k.mouse.IsBufferEmpty() {
		c.auxOutput = k.mouse.GetDataFromBuffer()
		c.outb = true
		c.auxb = true
		if c.allowIRQ12 {
			c.irq12Requested = true
		}
	}
	return ret
}

func (k *KeyboardDevice) lowerIRQ(irq uint8) {
	if k.irqRaiser != nil {
		k.irqRaiser.ClearIRQ(irq)
	}
}

// KeyEvent feeds a host key press or release into the keyboard.
func (k *KeyboardDevice) KeyEvent(key Key, pressed bool) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.generateScancode(key, pressed)
}

// KeyboardState is a snapshot of controller and keyboard.
type KeyboardState struct {
	Status          byte
	KbdOutput       byte
	AuxOutput       byte
	ControllerQueue []byte
	KbdClock        bool
	AuxClock        bool
	AllowIRQ1       bool
	AllowIRQ12      bool
	Translate       bool
	LastCommand     byte
	ExpectingPort60 bool
	IRQ1Requested   bool
	IRQ12Requested  bool
	BATInProgress   bool
	TimerPending    bool

	InternalBuffer       []byte
	ScancodeSet          uint8
	ExpectingTypematic   bool
	ExpectingLED         bool
	ExpectingScancodeSet bool
	TypematicDelay       byte
	TypematicRate        byte
	LEDs                 byte
	ScanningEnabled      bool
}

// State returns a snapshot without side effects on the status register.
func (k *KeyboardDevice) State() KeyboardState {
	k.lock.Lock()
	defer k.lock.Unlock()
	c := &k.ctrl
	s := KeyboardState{
		Status: boolBit(c.pare)<<7 | boolBit(c.tim)<<6 | boolBit(c.auxb)<<5 | boolBit(c.keyl)<<4 |
			boolBit(c.cd)<<3 | boolBit(c.sysf)<<2 | boolBit(c.inpb)<<1 | boolBit(c.outb),
		KbdOutput:       c.kbdOutput,
		AuxOutput:       c.auxOutput,
		KbdClock:        c.kbdClockEnabled,
		AuxClock:        c.auxClockEnabled,
		AllowIRQ1:       c.allowIRQ1,
		AllowIRQ12:      c.allowIRQ12,
		Translate:       c.translate,
		LastCommand:     c.lastCommand,
		ExpectingPort60: c.expectingPort60,
		IRQ1Requested:   c.irq1Requested,
		IRQ12Requested:  c.irq12Requested,
		BATInProgress:   c.batInProgress,
		TimerPending:    k.timerPending.Load(),
	}
	for _, e := range c.queue {
		s.ControllerQueue = append(s.ControllerQueue, e.data)
	}
	k.keyboard.snapshot(&s)
	return s
}

// Ports lists the controller's I/O ports.
func (k *KeyboardDevice) Ports() []uint16 {
	return []uint16{KEYBOARD_PORT_DATA, KEYBOARD_PORT_STATUS}
}
