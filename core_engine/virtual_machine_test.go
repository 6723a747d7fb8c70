package core_engine_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/matryer/is"

	"github.com/bramfoo/dioscuri-sub007/core_engine"
	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type machine struct {
	*core_engine.VirtualMachine
	serial  *bytes.Buffer
	vectors []uint8
	data    []byte
}

func newMachine(t *testing.T) *machine {
	t.Helper()
	m := &machine{serial: &bytes.Buffer{}}
	vm, err := core_engine.NewVirtualMachine(core_engine.Config{
		MemorySize:   2 * 1024 * 1024,
		Logger:       quietLogger(),
		SerialOutput: m.serial,
	})
	if err != nil {
		t.Fatalf("NewVirtualMachine: %v", err)
	}
	t.Cleanup(func() { vm.Close() })
	m.VirtualMachine = vm
	return m
}

func (m *machine) out(t *testing.T, port uint16, values ...byte) {
	t.Helper()
	for _, v := range values {
		if err := m.OutByte(port, v); err != nil {
			t.Fatalf("out 0x%04X: %v", port, err)
		}
	}
}

func (m *machine) in(t *testing.T, port uint16) byte {
	t.Helper()
	v, err := m.InByte(port)
	if err != nil {
		t.Fatalf("in 0x%04X: %v", port, err)
	}
	return v
}

// post programs the interrupt controllers the way a PC BIOS does and
// installs a handler that behaves like the BIOS keyboard and timer
// routines: read the keyboard data port on IRQ1, then send EOI.
func (m *machine) post(t *testing.T, masterMask byte) {
	t.Helper()
	m.out(t, 0x20, 0x11)
	m.out(t, 0x21, 0x08, 0x04, 0x01)
	m.out(t, 0xA0, 0x11)
	m.out(t, 0xA1, 0x70, 0x02, 0x01)
	m.out(t, 0x21, masterMask)
	m.out(t, 0xA1, 0xFF)

	m.SetInterruptHandler(func(vector uint8) {
		m.vectors = append(m.vectors, vector)
		if vector == 0x09 {
			b, err := m.InByte(0x60)
			if err != nil {
				t.Errorf("in 0x60: %v", err)
			}
			m.data = append(m.data, b)
		}
		if err := m.OutByte(0x20, 0x20); err != nil {
			t.Errorf("EOI: %v", err)
		}
	})
}

func (m *machine) run(steps int) {
	for i := 0; i < steps; i++ {
		m.Step(1000)
	}
}

func TestMachineKeyboardSelfTestInterrupt(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xF9)

	m.out(t, 0x64, 0xAA)
	m.run(4)

	is.Equal(m.data, []byte{0x55})
	is.Equal(m.vectors, []uint8{0x09})
	is.Equal(m.State().CPU.Interrupts, uint64(1))
}

func TestMachineKeyEventsReachTheGuest(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xF9)

	m.KeyEvent(devices.KeyA, true)
	m.KeyEvent(devices.KeyA, false)
	m.run(10)

	is.Equal(m.data, []byte{0x1E, 0x9E})
	for _, v := range m.vectors {
		is.Equal(v, uint8(0x09))
	}
	is.Equal(m.State().PIC.Master.ISR, byte(0))
}

func TestMachineMaskedKeyboardStaysPending(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xFF)

	m.KeyEvent(devices.KeyA, true)
	m.run(4)
	is.Equal(len(m.vectors), 0)
	is.Equal(m.in(t, 0x64)&devices.KBC_STATUS_OUTB, devices.KBC_STATUS_OUTB)
	is.Equal(m.in(t, 0x60), byte(0x1E))
}

func TestMachinePITDrivesIRQ0(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xF8)

	// counter 0, lobyte/hibyte, rate generator, 1193 ticks (1ms)
	m.out(t, 0x43, 0x34)
	m.out(t, 0x40, 0xA9, 0x04)
	m.run(5)

	is.True(len(m.vectors) >= 4)
	for _, v := range m.vectors {
		is.Equal(v, uint8(0x08))
	}
}

func TestMachineRTCPeriodicInterrupt(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xF9)
	m.out(t, 0xA1, 0xFE)

	var slave []uint8
	m.SetInterruptHandler(func(vector uint8) {
		slave = append(slave, vector)
		m.out(t, 0x70, 0x0C)
		m.in(t, 0x71)
		m.out(t, 0xA0, 0x20)
		m.out(t, 0x20, 0x20)
	})

	// rate 6 (1024Hz), periodic interrupt enabled
	m.out(t, 0x70, 0x0A)
	m.out(t, 0x71, 0x26)
	m.out(t, 0x70, 0x0B)
	m.out(t, 0x71, 0x42)
	m.run(5)

	is.True(len(slave) >= 4)
	for _, v := range slave {
		is.Equal(v, uint8(0x70))
	}
}

func TestMachineResetThroughOutputPort(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xF9)

	m.out(t, 0x64, 0xD1)
	m.out(t, 0x60, 0xFE)
	m.Step(0)

	s := m.State()
	is.Equal(s.Resets, int64(1))
	is.True(!s.A20)
	// the PIC is back to its power on state
	is.Equal(s.PIC.Master.IMR, byte(0xFF))
}

func TestMachineA20Gate(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	mem := m.Memory()

	mem.SetByte(0x100005, 0xAB)
	is.Equal(mem.GetByte(0x000005), byte(0xAB))

	m.out(t, 0x64, 0xD1)
	m.out(t, 0x60, 0xDF)
	is.True(m.A20())

	mem.SetByte(0x100005, 0xCD)
	is.Equal(mem.GetByte(0x000005), byte(0xAB))
	is.Equal(mem.GetByte(0x100005), byte(0xCD))

	m.out(t, 0x64, 0xDD)
	is.True(!m.A20())
	is.Equal(mem.GetByte(0x100005), byte(0xAB))
}

func TestMachineDMATransfer(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)

	var received []byte
	is.NoErr(m.DMA().RegisterDMAChannel(2, &devices.DMAHandler{
		Name:  "fdc",
		Read8: func(b byte) { received = append(received, b) },
	}))
	is.NoErr(m.Memory().Load(0x21000, []byte("ABCD")))

	// cascade channel 4 on the 16-bit controller
	m.out(t, 0xD6, 0xC0)
	m.out(t, 0xD4, 0x00)
	// channel 2: single mode, memory to device, 4 bytes at 0x21000
	m.out(t, 0x0A, 0x06)
	m.out(t, 0x0C, 0x00)
	m.out(t, 0x0B, 0x4A)
	m.out(t, 0x04, 0x00, 0x10)
	m.out(t, 0x81, 0x02)
	m.out(t, 0x05, 0x03, 0x00)
	m.out(t, 0x0A, 0x02)

	m.DMA().SetDMARequest(2, true)
	m.Step(0)

	is.Equal(received, []byte("ABCD"))
	is.Equal(m.in(t, 0x08)&0x04, byte(0x04)) // terminal count reached
	s := m.State()
	is.Equal(s.CPU.BusGrants, uint64(4))
	is.True(!s.CPU.Hold)
}

func TestMachineSerialOutput(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)

	m.out(t, 0x3F8, 'o', 'k')
	is.NoErr(m.HandleIO(0x3F8, []byte("\r\n"), devices.IODirectionOut, 1, 2))
	is.Equal(m.serial.String(), "ok\r\n")

	m.SerialReceive([]byte("x"))
	is.Equal(m.in(t, 0x3FD)&0x01, byte(0x01))
	is.Equal(m.in(t, 0x3F8), byte('x'))
}

func TestMachineStringIO(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)

	// two reads of the CMOS index register's data port in one instruction
	m.out(t, 0x70, 0x0A)
	buf := make([]byte, 2)
	is.NoErr(m.HandleIO(0x71, buf, devices.IODirectionIn, 1, 2))
	is.Equal(buf[0]&0x7F, byte(0x26))
	is.Equal(buf[1]&0x7F, byte(0x26))

	err := m.HandleIO(0x71, buf, devices.IODirectionIn, 1, 3)
	is.True(err != nil)
}

func TestMachineUnknownPort(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)

	_, err := m.InByte(0x2F8)
	is.True(errors.Is(err, devices.ErrUnknownPort))
}

func TestMachinePortsAreOwnedOnce(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)

	owner, ok := m.IOBus().Owner(0x60)
	is.True(ok)
	is.Equal(owner, devices.PioDevice(m.Keyboard()))

	err := m.IOBus().RegisterPorts(m.RTC(), 0x60)
	is.True(errors.Is(err, devices.ErrPortInUse))

	// a reset registers every device again without conflicts
	is.NoErr(m.Reset())
	owner, _ = m.IOBus().Owner(0x70)
	is.Equal(owner, devices.PioDevice(m.RTC()))
}

func TestMachineInterruptFlag(t *testing.T) {
	is := is.New(t)
	m := newMachine(t)
	m.post(t, 0xF9)

	m.CPU().SetInterruptFlag(false)
	m.out(t, 0x64, 0xAA)
	m.run(4)
	is.Equal(len(m.vectors), 0)
	is.True(m.State().CPU.INTR)

	m.CPU().SetInterruptFlag(true)
	m.Step(0)
	is.Equal(m.data, []byte{0x55})
}
