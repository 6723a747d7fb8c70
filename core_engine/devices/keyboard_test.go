package devices_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/matryer/is"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

type kbcFixture struct {
	irq   *MockInterruptRaiser
	board *MockMotherboard
	leds  *MockStatusNotifier
	mouse *devices.PS2Mouse
	kbc   *devices.KeyboardDevice
}

func newKBC(t *testing.T) *kbcFixture {
	t.Helper()
	f := &kbcFixture{
		irq:   &MockInterruptRaiser{},
		board: &MockMotherboard{},
		leds:  &MockStatusNotifier{},
		mouse: devices.NewPS2Mouse(quietLogger()),
	}
	f.kbc = devices.NewKeyboardDevice(f.irq, f.board, f.leds, quietLogger())
	f.kbc.AttachMouse(f.mouse)
	f.mouse.SetDataHook(f.kbc.ActivateTimer)
	return f
}

// drain behaves like a guest interrupt handler: it lets the controller run
// and reads every byte that shows up in the output buffer.
func (f *kbcFixture) drain(t *testing.T) []byte {
	t.Helper()
	var out []byte
	for i := 0; i < 64; i++ {
		f.kbc.Update(100)
		f.kbc.Update(100)
		if readPort(t, f.kbc, 0x64)&devices.KBC_STATUS_OUTB != 0 {
			out = append(out, readPort(t, f.kbc, 0x60))
			continue
		}
		if !f.kbc.State().TimerPending {
			break
		}
	}
	return out
}

func (f *kbcFixture) send(t *testing.T, b ...byte) {
	t.Helper()
	for _, v := range b {
		writePort(t, f.kbc, 0x60, v)
	}
}

func TestKBCPowerOnStatus(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)
	is.Equal(readPort(t, f.kbc, 0x64), byte(0x18))
	// nothing buffered: the stale output byte comes back, no error
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x00))
}

func TestKBCEmptyReadWarns(t *testing.T) {
	is := is.New(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	kbc := devices.NewKeyboardDevice(&MockInterruptRaiser{}, &MockMotherboard{}, nil, logger)

	is.Equal(readPort(t, kbc, 0x60), byte(0x00))
	is.True(strings.Contains(logs.String(), "level=WARN"))
	is.True(strings.Contains(logs.String(), "output buffer empty"))
}

func TestKBCSelfTest(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0xAA)
	status := readPort(t, f.kbc, 0x64)
	is.Equal(status&devices.KBC_STATUS_OUTB, devices.KBC_STATUS_OUTB)
	is.Equal(status&devices.KBC_STATUS_SYSF, devices.KBC_STATUS_SYSF)
	is.Equal(status&devices.KBC_STATUS_CD, devices.KBC_STATUS_CD)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x55))

	writePort(t, f.kbc, 0x64, 0xAB)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x00))
	writePort(t, f.kbc, 0x64, 0xA9)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0xFF))
}

func TestKBCKeyboardResetSendsAckThenBAT(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	f.send(t, 0xFF)
	got := f.drain(t)
	if len(got) != 2 {
		t.Fatalf("got %x, state:\n%s", got, spew.Sdump(f.kbc.State()))
	}
	is.Equal(got, []byte{0xFA, 0xAA})
	is.Equal(f.irq.GetRaisedIRQs(), []uint8{1, 1})
	is.Equal(f.irq.GetLoweredIRQs(), []uint8{1, 1})

	s := f.kbc.State()
	is.Equal(s.ScancodeSet, uint8(2))
	is.True(s.Translate)
	is.Equal(s.TypematicDelay, byte(1))
	is.Equal(s.TypematicRate, byte(0x0B))
	is.True(!s.BATInProgress)
}

func TestKBCCommandByte(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0x20)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x63))

	writePort(t, f.kbc, 0x64, 0x60)
	is.True(f.kbc.State().ExpectingPort60)
	writePort(t, f.kbc, 0x60, 0x45)
	s := f.kbc.State()
	is.True(!s.ExpectingPort60)
	is.True(s.AuxClock)
	is.True(s.KbdClock)
	is.True(!s.AllowIRQ12)
	is.Equal(readPort(t, f.kbc, 0x64)&devices.KBC_STATUS_CD, byte(0))

	writePort(t, f.kbc, 0x64, 0x20)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x45))
}

func TestKBCReadCommandByteRefusedWhileFull(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0xAB)
	writePort(t, f.kbc, 0x64, 0x20)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x00))
	is.Equal(readPort(t, f.kbc, 0x64)&devices.KBC_STATUS_OUTB, byte(0))
}

func TestKBCControllerQueueOverflowIsTolerated(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	cmds := []byte{0xAB, 0xA9, 0xC0, 0xCA, 0xAB, 0xA9, 0xC0, 0xCA}
	for _, c := range cmds {
		writePort(t, f.kbc, 0x64, c)
	}
	is.Equal(len(f.kbc.State().ControllerQueue), 7)

	var got []byte
	for readPort(t, f.kbc, 0x64)&devices.KBC_STATUS_OUTB != 0 {
		got = append(got, readPort(t, f.kbc, 0x60))
	}
	is.Equal(got, []byte{0x00, 0xFF, 0x80, 0x01, 0x00, 0xFF, 0x80, 0x01})
}

func TestKBCLEDs(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	f.send(t, 0xED)
	is.Equal(f.drain(t), []byte{0xFA})
	is.True(f.kbc.State().ExpectingLED)
	f.send(t, 0x07)
	is.Equal(f.drain(t), []byte{0xFA})
	f.send(t, 0xED, 0x02)
	is.Equal(f.drain(t), []byte{0xFA, 0xFA})

	is.Equal(f.leds.Num, []bool{true, true})
	is.Equal(f.leds.Caps, []bool{true, false})
	is.Equal(f.leds.Scroll, []bool{true, false})
	is.Equal(f.kbc.State().LEDs, byte(0x02))
}

func TestKBCScancodeSetSelection(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	// ACK for the command, ACK for the argument, then the current set
	f.send(t, 0xF0, 0x00)
	is.Equal(f.drain(t), []byte{0xFA, 0xFA, 0x02})

	f.send(t, 0xF0, 0x03)
	is.Equal(f.drain(t), []byte{0xFA, 0xFA})
	is.Equal(f.kbc.State().ScancodeSet, uint8(3))

	f.send(t, 0xF0, 0x07)
	is.Equal(f.drain(t), []byte{0xFA, 0xFF})
	is.Equal(f.kbc.State().ScancodeSet, uint8(3))
}

func TestKBCKeyboardCommands(t *testing.T) {
	tests := []struct {
		name string
		send []byte
		want []byte
	}{
		{"identify", []byte{0xF2}, []byte{0xFA, 0xAB, 0x41}},
		{"echo", []byte{0xEE}, []byte{0xEE}},
		{"enable", []byte{0xF4}, []byte{0xFA}},
		{"typematic", []byte{0xF3, 0x7F}, []byte{0xFA, 0xFA}},
		{"unknown", []byte{0x42}, []byte{0xFE}},
		{"reset disable", []byte{0xF5}, []byte{0xFA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			f := newKBC(t)
			f.send(t, tt.send...)
			is.Equal(f.drain(t), tt.want)
		})
	}
}

func TestKBCTypematic(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)
	f.send(t, 0xF3, 0x7F)
	f.drain(t)
	s := f.kbc.State()
	is.Equal(s.TypematicDelay, byte(3))
	is.Equal(s.TypematicRate, byte(0x1F))
}

func TestKBCIdentifyWithoutTranslation(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)
	writePort(t, f.kbc, 0x64, 0x60)
	writePort(t, f.kbc, 0x60, 0x01)
	f.send(t, 0xF2)
	is.Equal(f.drain(t), []byte{0xFA, 0xAB, 0x83})
}

func TestKBCKeyEvents(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	f.kbc.KeyEvent(devices.KeyA, true)
	f.kbc.KeyEvent(devices.KeyA, false)
	is.Equal(f.drain(t), []byte{0x1E, 0x9E})

	f.kbc.KeyEvent(devices.KeyRightCtrl, true)
	f.kbc.KeyEvent(devices.KeyRightCtrl, false)
	is.Equal(f.drain(t), []byte{0xE0, 0x1D, 0xE0, 0x9D})

	// raw set 2 once translation is off
	writePort(t, f.kbc, 0x64, 0x60)
	writePort(t, f.kbc, 0x60, 0x01)
	f.kbc.KeyEvent(devices.KeyA, true)
	f.kbc.KeyEvent(devices.KeyA, false)
	is.Equal(f.drain(t), []byte{0x1C, 0xF0, 0x1C})
}

func TestKBCKeysDroppedWhenDisabled(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	f.send(t, 0xF5)
	f.drain(t)
	f.kbc.KeyEvent(devices.KeyB, true)
	is.Equal(f.drain(t), []byte(nil))

	f.send(t, 0xF4)
	f.drain(t)
	writePort(t, f.kbc, 0x64, 0xAD)
	f.kbc.KeyEvent(devices.KeyB, true)
	is.Equal(len(f.kbc.State().InternalBuffer), 0)

	writePort(t, f.kbc, 0x64, 0xAE)
	f.kbc.KeyEvent(devices.KeyB, true)
	is.Equal(f.drain(t), []byte{0x30})
}

func TestKBCInternalBufferDropsWhenFull(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)
	writePort(t, f.kbc, 0x64, 0xAB) // keep the output buffer busy

	for i := 0; i < 20; i++ {
		f.kbc.KeyEvent(devices.KeySpace, true)
	}
	is.Equal(len(f.kbc.State().InternalBuffer), 16)
}

func TestKBCWriteOutputBuffers(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0xD2)
	writePort(t, f.kbc, 0x60, 0x42)
	is.Equal(readPort(t, f.kbc, 0x64)&devices.KBC_STATUS_AUXB, byte(0))
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x42))

	writePort(t, f.kbc, 0x64, 0xD3)
	writePort(t, f.kbc, 0x60, 0x24)
	is.Equal(readPort(t, f.kbc, 0x64)&devices.KBC_STATUS_AUXB, devices.KBC_STATUS_AUXB)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x24))
	is.Equal(f.irq.GetLoweredIRQs(), []uint8{1, 12})
}

func TestKBCA20AndOutputPort(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0xDF)
	is.True(f.board.A20())
	writePort(t, f.kbc, 0x64, 0xD0)
	is.Equal(readPort(t, f.kbc, 0x60), byte(0x03))

	writePort(t, f.kbc, 0x64, 0xDD)
	is.True(!f.board.A20())

	writePort(t, f.kbc, 0x64, 0xD1)
	writePort(t, f.kbc, 0x60, 0x03)
	is.True(f.board.A20())
	is.Equal(f.board.Resets, 0)

	writePort(t, f.kbc, 0x64, 0xD1)
	writePort(t, f.kbc, 0x60, 0x02)
	is.Equal(f.board.Resets, 1)

	writePort(t, f.kbc, 0x64, 0xFE) // logged only
	is.Equal(f.board.Resets, 1)
}

func TestKBCPulseCommandsAreNoops(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)
	before := f.kbc.State()
	writePort(t, f.kbc, 0x64, 0xFF)
	writePort(t, f.kbc, 0x64, 0xF0)
	after := f.kbc.State()
	is.Equal(after.ControllerQueue, before.ControllerQueue)
	is.Equal(after.Status&devices.KBC_STATUS_OUTB, byte(0))
	is.Equal(after.LastCommand, byte(0xF0))
}

func TestKBCMouseThroughController(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0xA8)
	writePort(t, f.kbc, 0x64, 0xD4)
	writePort(t, f.kbc, 0x60, 0xFF)
	is.Equal(f.drain(t), []byte{0xFA, 0xAA, 0x00})

	writePort(t, f.kbc, 0x64, 0xD4)
	writePort(t, f.kbc, 0x60, 0xF2)
	is.Equal(f.drain(t), []byte{0xFA, 0x00})

	writePort(t, f.kbc, 0x64, 0xD4)
	writePort(t, f.kbc, 0x60, 0xF4)
	is.Equal(f.drain(t), []byte{0xFA})

	f.mouse.Move(5, -3, devices.MouseButtonLeft)
	f.kbc.Update(100)
	f.kbc.Update(100)
	is.Equal(readPort(t, f.kbc, 0x64)&0x21, byte(0x21))
	got := []byte{readPort(t, f.kbc, 0x60)}
	got = append(got, f.drain(t)...)
	is.Equal(got, []byte{0x29, 0x05, 0xFD})

	for _, irq := range f.irq.GetRaisedIRQs() {
		is.Equal(irq, uint8(12))
	}
}

func TestKBCMouseHeldWhileAuxDisabled(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)

	writePort(t, f.kbc, 0x64, 0xD4)
	writePort(t, f.kbc, 0x60, 0xF2)
	is.Equal(f.drain(t), []byte(nil))
	is.True(!f.mouse.IsBufferEmpty())

	writePort(t, f.kbc, 0x64, 0xA8)
	is.Equal(f.drain(t), []byte{0xFA, 0x00})
}

func TestKBCResetRestoresPowerOnState(t *testing.T) {
	is := is.New(t)
	f := newKBC(t)
	writePort(t, f.kbc, 0x64, 0xAA)
	writePort(t, f.kbc, 0x64, 0xAD)
	f.kbc.Reset()
	s := f.kbc.State()
	is.Equal(s.Status, byte(0x18))
	is.True(s.KbdClock)
	is.Equal(len(s.ControllerQueue), 0)
}
