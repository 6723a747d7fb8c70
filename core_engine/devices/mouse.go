package devices

import (
	"log/slog"
	"sync"
)

// PS/2 mouse commands (sent through controller command 0xD4)
const (
	MOUSE_CMD_SCALING_1_1    byte = 0xE6
	MOUSE_CMD_SCALING_2_1    byte = 0xE7
	MOUSE_CMD_SET_RESOLUTION byte = 0xE8
	MOUSE_CMD_STATUS_REQUEST byte = 0xE9
	MOUSE_CMD_STREAM_MODE    byte = 0xEA
	MOUSE_CMD_READ_DATA      byte = 0xEB
	MOUSE_CMD_REMOTE_MODE    byte = 0xF0
	MOUSE_CMD_GET_ID         byte = 0xF2
	MOUSE_CMD_SAMPLE_RATE    byte = 0xF3
	MOUSE_CMD_ENABLE         byte = 0xF4
	MOUSE_CMD_DISABLE        byte = 0xF5
	MOUSE_CMD_SET_DEFAULTS   byte = 0xF6
	MOUSE_CMD_RESET          byte = 0xFF
)

// Mouse buttons as reported in the first packet byte.
const (
	MouseButtonLeft   byte = 0x01
	MouseButtonRight  byte = 0x02
	MouseButtonMiddle byte = 0x04
)

// PS2Mouse is a standard three button PS/2 mouse (device ID 0x00).
type PS2Mouse struct {
	lock   sync.Mutex
	buffer []byte

	sampleRate   byte
	resolution   byte // 0-3, 1/2/4/8 counts per mm
	scaling2to1  bool
	enabled      bool
	remoteMode   bool
	buttons      byte
	dx, dy       int
	lastCommand  byte
	expectingArg bool

	onData func()
	logger *slog.Logger
}

// NewPS2Mouse creates a mouse in its power on state.
func NewPS2Mouse(logger *slog.Logger) *PS2Mouse {
	m := &PS2Mouse{logger: loggerOrDefault(logger, "mouse")}
	m.Reset()
	return m
}

// SetDataHook registers a function called after host motion put bytes in the
// buffer. It is called without the mouse lock held.
func (m *PS2Mouse) SetDataHook(fn func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.onData = fn
}

// Reset restores power on defaults and empties the buffer.
func (m *PS2Mouse) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.buffer = m.buffer[:0]
	m.setDefaults()
	m.buttons = 0
	m.dx, m.dy = 0, 0
	m.expectingArg = false
}

func (m *PS2Mouse) setDefaults() {
	m.sampleRate = 100
	m.resolution = 2
	m.scaling2to1 = false
	m.enabled = false
	m.remoteMode = false
}

// IsBufferEmpty reports whether the mouse has bytes for the controller.
func (m *PS2Mouse) IsBufferEmpty() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.buffer) == 0
}

// GetDataFromBuffer pops the next byte for the controller.
func (m *PS2Mouse) GetDataFromBuffer() byte {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.buffer) == 0 {
		m.logger.Warn("read from empty mouse buffer")
		return 0
	}
	b := m.buffer[0]
	m.buffer = m.buffer[1:]
	return b
}

func (m *PS2Mouse) enqueue(data ...byte) bool {
	if len(m.buffer)+len(data) > mouseBufferSize {
		m.logger.Warn("mouse buffer full, bytes dropped", slog.Int("count", len(data)))
		return false
	}
	m.buffer = append(m.buffer, data...)
	return true
}

// ControlMouse handles a byte the guest sent to the mouse. Replies land in the
// mouse buffer; the controller polls them.
func (m *PS2Mouse) ControlMouse(value byte) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.expectingArg {
		m.expectingArg = false
		switch m.lastCommand {
		case MOUSE_CMD_SAMPLE_RATE:
			m.sampleRate = value
			m.enqueue(KBD_REPLY_ACK)
		case MOUSE_CMD_SET_RESOLUTION:
			if value > 3 {
				m.logger.Warn("invalid resolution", slog.Int("value", int(value)))
				m.enqueue(KBD_REPLY_ERROR)
				return
			}
			m.resolution = value
			m.enqueue(KBD_REPLY_ACK)
		}
		return
	}

	m.lastCommand = value
	switch value {
	case MOUSE_CMD_SCALING_1_1:
		m.scaling2to1 = false
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_SCALING_2_1:
		m.scaling2to1 = true
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_SET_RESOLUTION, MOUSE_CMD_SAMPLE_RATE:
		m.expectingArg = true
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_STATUS_REQUEST:
		status := boolBit(m.remoteMode)<<6 | boolBit(m.enabled)<<5 | boolBit(m.scaling2to1)<<4 |
			boolBit(m.buttons&MouseButtonLeft != 0)<<2 |
			boolBit(m.buttons&MouseButtonMiddle != 0)<<1 |
			boolBit(m.buttons&MouseButtonRight != 0)
		m.enqueue(KBD_REPLY_ACK, status, m.resolution, m.sampleRate)
	case MOUSE_CMD_STREAM_MODE:
		m.remoteMode = false
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_READ_DATA:
		m.enqueue(KBD_REPLY_ACK)
		m.enqueuePacket()
	case MOUSE_CMD_REMOTE_MODE:
		m.remoteMode = true
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_GET_ID:
		m.enqueue(KBD_REPLY_ACK, 0x00)
	case MOUSE_CMD_ENABLE:
		m.enabled = true
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_DISABLE:
		m.enabled = false
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_SET_DEFAULTS:
		m.setDefaults()
		m.enqueue(KBD_REPLY_ACK)
	case MOUSE_CMD_RESET:
		m.buffer = m.buffer[:0]
		m.setDefaults()
		m.buttons = 0
		m.dx, m.dy = 0, 0
		m.enqueue(KBD_REPLY_ACK, KBD_REPLY_BAT_OK, 0x00)
	default:
		m.logger.Warn("unsupported mouse command", slog.String("value", hex8(value)))
		m.enqueue(KBD_REPLY_RESEND)
	}
}

// Move reports host motion and button state. dy is positive upwards.
// In stream mode with reporting enabled a packet is queued at once.
func (m *PS2Mouse) Move(dx, dy int, buttons byte) {
	m.lock.Lock()
	m.dx += dx
	m.dy += dy
	m.buttons = buttons & 0x07
	queued := false
	if m.enabled && !m.remoteMode {
		queued = m.enqueuePacket()
	}
	hook := m.onData
	m.lock.Unlock()

	if queued && hook != nil {
		hook()
	}
}

// enqueuePacket turns the accumulated motion into a 3 byte packet.
func (m *PS2Mouse) enqueuePacket() bool {
	dx, xOverflow := clampDelta(m.dx)
	dy, yOverflow := clampDelta(m.dy)

	b0 := m.buttons | 0x08
	if dx < 0 {
		b0 |= 0x10
	}
	if dy < 0 {
		b0 |= 0x20
	}
	if xOverflow {
		b0 |= 0x40
	}
	if yOverflow {
		b0 |= 0x80
	}
	if !m.enqueue(b0, byte(dx), byte(dy)) {
		return false
	}
	m.dx, m.dy = 0, 0
	return true
}

func clampDelta(d int) (int, bool) {
	switch {
	case d > 255:
		return 255, true
	case d < -256:
		return -256, true
	}
	return d, false
}

// MouseState is a snapshot of the mouse.
type MouseState struct {
	Buffer      []byte
	SampleRate  byte
	Resolution  byte
	Scaling2to1 bool
	Enabled     bool
	RemoteMode  bool
	Buttons     byte
}

// State returns a copy of the mouse registers and buffer.
func (m *PS2Mouse) State() MouseState {
	m.lock.Lock()
	defer m.lock.Unlock()
	return MouseState{
		Buffer:      append([]byte(nil), m.buffer...),
		SampleRate:  m.sampleRate,
		Resolution:  m.resolution,
		Scaling2to1: m.scaling2to1,
		Enabled:     m.enabled,
		RemoteMode:  m.remoteMode,
		Buttons:     m.buttons,
	}
}
