package devices

import (
	"log/slog"
	"sync"
)

// internalKeyboard is the MF2 keyboard on the controller's first port: its
// FIFO towards the controller and the state of its command interpreter.
type internalKeyboard struct {
	lock   sync.Mutex
	buffer []byte

	expectingTypematic   bool
	expectingLED         bool
	expectingScancodeSet bool

	delay           byte // typematic delay, 0-3 (250ms steps)
	rate            byte // typematic repeat rate code, 0-0x1F
	leds            byte
	scanningEnabled bool
	scancodeSet     uint8 // 1, 2 or 3
}

func (kb *internalKeyboard) reset() {
	kb.lock.Lock()
	defer kb.lock.Unlock()
	kb.leds = 0
	kb.scanningEnabled = true
}

func (kb *internalKeyboard) len() int {
	kb.lock.Lock()
	defer kb.lock.Unlock()
	return len(kb.buffer)
}

func (kb *internalKeyboard) enqueue(data byte) bool {
	kb.lock.Lock()
	defer kb.lock.Unlock()
	if len(kb.buffer) >= kbdInternalBufferSize {
		return false
	}
	kb.buffer = append(kb.buffer, data)
	return true
}

func (kb *internalKeyboard) dequeue() (byte, bool) {
	kb.lock.Lock()
	defer kb.lock.Unlock()
	if len(kb.buffer) == 0 {
		return 0, false
	}
	data := kb.buffer[0]
	kb.buffer = kb.buffer[1:]
	return data, true
}

func (kb *internalKeyboard) snapshot(s *KeyboardState) {
	kb.lock.Lock()
	defer kb.lock.Unlock()
	s.InternalBuffer = append([]byte(nil), kb.buffer...)
	s.ScancodeSet = kb.scancodeSet
	s.ExpectingTypematic = kb.expectingTypematic
	s.ExpectingLED = kb.expectingLED
	s.ExpectingScancodeSet = kb.expectingScancodeSet
	s.TypematicDelay = kb.delay
	s.TypematicRate = kb.rate
	s.LEDs = kb.leds
	s.ScanningEnabled = kb.scanningEnabled
}

// resetInternals clears the keyboard's FIFO and restores scancode set 2
// with controller translation. powerup also restores LED and typematic state.
// Caller holds k.lock.
func (k *KeyboardDevice) resetInternals(powerup bool) {
	kb := &k.keyboard
	kb.lock.Lock()
	kb.buffer = kb.buffer[:0]
	kb.expectingTypematic = false
	kb.expectingScancodeSet = false
	kb.scancodeSet = 2
	if powerup {
		kb.expectingLED = false
		kb.delay = 1
		kb.rate = 0x0B
	}
	kb.lock.Unlock()
	k.ctrl.translate = true
}

// enqueueKeyboard puts a byte in the keyboard's FIFO. A full FIFO drops it.
// Caller holds k.lock.
func (k *KeyboardDevice) enqueueKeyboard(data byte) {
	if !k.keyboard.enqueue(data) {
		k.logger.Warn("internal keyboard buffer full, byte dropped", slog.String("data", hex8(data)))
		return
	}
	if !k.ctrl.outb && k.ctrl.kbdClockEnabled {
		k.ActivateTimer()
	}
}

// controlKeyboard interprets a byte the guest sent to the keyboard.
// Caller holds k.lock.
func (k *KeyboardDevice) controlKeyboard(val byte) {
	kb := &k.keyboard

	kb.lock.Lock()
	switch {
	case kb.expectingTypematic:
		kb.expectingTypematic = false
		kb.delay = (val >> 5) & 0x03
		kb.rate = val & 0x1F
		kb.lock.Unlock()
		k.logger.Debug("typematic set", slog.Int("delay", int((val>>5)&0x03)), slog.Int("rate", int(val&0x1F)))
		k.enqueueKeyboard(KBD_REPLY_ACK)
		return
	case kb.expectingLED:
		kb.expectingLED = false
		kb.leds = val
		kb.lock.Unlock()
		k.notifyLEDs(val)
		k.enqueueKeyboard(KBD_REPLY_ACK)
		return
	case kb.expectingScancodeSet:
		kb.expectingScancodeSet = false
		current := kb.scancodeSet
		if val >= 1 && val <= 3 {
			kb.scancodeSet = val
		}
		kb.lock.Unlock()
		switch {
		case val == 0:
			k.enqueueKeyboard(KBD_REPLY_ACK)
			k.enqueueKeyboard(current)
		case val <= 3:
			k.logger.Debug("scancode set selected", slog.Int("set", int(val)))
			k.enqueueKeyboard(KBD_REPLY_ACK)
		default:
			k.logger.Warn("scancode set out of range", slog.Int("set", int(val)))
			k.enqueueKeyboard(KBD_REPLY_ERROR)
		}
		return
	}
	kb.lock.Unlock()

	switch val {
	case KBD_CMD_SET_LEDS:
		k.setExpecting(func(kb *internalKeyboard) { kb.expectingLED = true })
		k.enqueueKeyboard(KBD_REPLY_ACK)
	case KBD_CMD_ECHO:
		k.enqueueKeyboard(KBD_REPLY_ECHO)
	case KBD_CMD_SCANCODE_SET:
		k.setExpecting(func(kb *internalKeyboard) { kb.expectingScancodeSet = true })
		k.enqueueKeyboard(KBD_REPLY_ACK)
	case KBD_CMD_IDENTIFY:
		k.enqueueKeyboard(KBD_REPLY_ACK)
		k.enqueueKeyboard(KBD_REPLY_ID_FIRST)
		if k.ctrl.translate {
			k.enqueueKeyboard(KBD_REPLY_ID_XLATE)
		} else {
			k.enqueueKeyboard(KBD_REPLY_ID_NOXLATE)
		}
	case KBD_CMD_TYPEMATIC:
		k.setExpecting(func(kb *internalKeyboard) { kb.expectingTypematic = true })
		k.enqueueKeyboard(KBD_REPLY_ACK)
	case KBD_CMD_ENABLE:
		k.setScanning(true)
		k.enqueueKeyboard(KBD_REPLY_ACK)
	case KBD_CMD_RESET_DISABLE:
		k.resetInternals(true)
		k.enqueueKeyboard(KBD_REPLY_ACK)
		k.setScanning(false)
	case KBD_CMD_RESET_ENABLE:
		k.resetInternals(true)
		k.enqueueKeyboard(KBD_REPLY_ACK)
		k.setScanning(true)
	case KBD_CMD_RESEND:
		k.logger.Warn("keyboard resend requested, nothing to resend")
	case KBD_CMD_RESET:
		k.logger.Debug("keyboard reset")
		k.resetInternals(true)
		k.enqueueKeyboard(KBD_REPLY_ACK)
		k.ctrl.batInProgress = true
		k.enqueueKeyboard(KBD_REPLY_BAT_OK)
	default:
		k.logger.Warn("unsupported keyboard command", slog.String("value", hex8(val)))
		k.enqueueKeyboard(KBD_REPLY_RESEND)
	}
}

func (k *KeyboardDevice) setExpecting(set func(kb *internalKeyboard)) {
	k.keyboard.lock.Lock()
	defer k.keyboard.lock.Unlock()
	set(&k.keyboard)
}

func (k *KeyboardDevice) setScanning(enabled bool) {
	k.keyboard.lock.Lock()
	defer k.keyboard.lock.Unlock()
	k.keyboard.scanningEnabled = enabled
}

func (k *KeyboardDevice) notifyLEDs(leds byte) {
	if k.notifier == nil {
		return
	}
	k.notifier.SetScrollLock(leds&KBD_LED_SCROLL != 0)
	k.notifier.SetNumLock(leds&KBD_LED_NUM != 0)
	k.notifier.SetCapsLock(leds&KBD_LED_CAPS != 0)
}
