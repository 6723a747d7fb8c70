package devices_test

import (
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/matryer/is"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

type dmaFixture struct {
	cpu *MockCPU
	mem *MockMemory
	dma *devices.DMADevice
}

func newDMAFixture() *dmaFixture {
	f := &dmaFixture{cpu: &MockCPU{}, mem: NewMockMemory()}
	f.dma = devices.NewDMADevice(f.cpu, f.mem, quietLogger())
	return f
}

// program sets up an 8-bit channel the way a BIOS floppy driver does.
func (f *dmaFixture) program(t *testing.T, channel uint8, mode byte, page byte, addr, count uint16) {
	t.Helper()
	pagePorts := map[uint8]uint16{0: 0x87, 1: 0x83, 2: 0x81, 3: 0x82}
	writePort(t, f.dma, 0x0C, 0x00)
	writePort(t, f.dma, 0x0B, mode|channel)
	writePort(t, f.dma, uint16(channel)*2, byte(addr))
	writePort(t, f.dma, uint16(channel)*2, byte(addr>>8))
	writePort(t, f.dma, uint16(channel)*2+1, byte(count))
	writePort(t, f.dma, uint16(channel)*2+1, byte(count>>8))
	writePort(t, f.dma, pagePorts[channel], page)
	// cascade channel on the 16-bit controller
	writePort(t, f.dma, 0xD6, 0xC0)
	writePort(t, f.dma, 0xD4, 0x00)
}

func TestDMARegisterChannel(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()

	is.NoErr(f.dma.RegisterDMAChannel(2, &devices.DMAHandler{Name: "fdc"}))
	err := f.dma.RegisterDMAChannel(2, &devices.DMAHandler{Name: "other"})
	is.True(errors.Is(err, devices.ErrChannelInUse))

	err = f.dma.RegisterDMAChannel(4, &devices.DMAHandler{Name: "sneaky"})
	is.True(errors.Is(err, devices.ErrInvalidChannel))
	err = f.dma.RegisterDMAChannel(8, &devices.DMAHandler{Name: "bogus"})
	is.True(errors.Is(err, devices.ErrInvalidChannel))

	f.dma.ReleaseDMAChannel(2)
	is.NoErr(f.dma.RegisterDMAChannel(2, &devices.DMAHandler{Name: "other"}))
	is.Equal(f.dma.State().Controllers[0].Channels[2].Owner, "other")
	is.Equal(f.dma.State().Controllers[1].Channels[0].Owner, "cascade")
}

func TestDMAFlipFlopRoundTrip(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()

	writePort(t, f.dma, 0x0C, 0x00)
	writePort(t, f.dma, 0x04, 0x34)
	writePort(t, f.dma, 0x04, 0x12)
	writePort(t, f.dma, 0x0C, 0x00)
	is.Equal(readPort(t, f.dma, 0x04), byte(0x34))
	is.Equal(readPort(t, f.dma, 0x04), byte(0x12))

	// slave address register for channel 6 lives at 0xC8
	writePort(t, f.dma, 0xD8, 0x00)
	writePort(t, f.dma, 0xC8, 0xCD)
	writePort(t, f.dma, 0xC8, 0xAB)
	s := f.dma.State()
	is.Equal(s.Controllers[1].Channels[2].BaseAddress, uint16(0xABCD))
	is.Equal(s.Controllers[1].Channels[2].CurrentAddress, uint16(0xABCD))
}

func TestDMAPageRegisters(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()

	writePort(t, f.dma, 0x81, 0x12)
	writePort(t, f.dma, 0x8F, 0x34)
	writePort(t, f.dma, 0x84, 0x56) // spare slot
	s := f.dma.State()
	is.Equal(s.Controllers[0].Channels[2].Page, byte(0x12))
	is.Equal(s.Controllers[1].Channels[0].Page, byte(0x34))
	is.Equal(readPort(t, f.dma, 0x84), byte(0x56))
	is.Equal(readPort(t, f.dma, 0x81), byte(0x12))
}

func TestDMAWriteOnlyAndUnknownPorts(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()

	for _, port := range []uint16{0x09, 0x0A, 0x0B, 0x0C, 0x0E, 0xD2, 0xD4, 0xD6, 0xD8, 0xDC} {
		err := f.dma.HandleIO(port, devices.IODirectionIn, 1, []byte{0})
		is.True(errors.Is(err, devices.ErrWriteOnlyPort))
	}
	err := f.dma.HandleIO(0xC1, devices.IODirectionIn, 1, []byte{0})
	is.True(errors.Is(err, devices.ErrUnknownPort))

	is.Equal(readPort(t, f.dma, 0x0D), byte(0)) // temporary register
}

func TestDMAHoldFollowsMaskAndEnable(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()
	is.NoErr(f.dma.RegisterDMAChannel(1, &devices.DMAHandler{Name: "dev", Write8: func() byte { return 0 }}))
	f.program(t, 1, 0x44, 0, 0x1000, 0x0010)

	f.dma.SetDMARequest(1, true)
	is.True(!f.cpu.Hold) // still masked

	writePort(t, f.dma, 0x0A, 0x01) // unmask channel 1
	is.True(f.cpu.Hold)
	is.True(f.cpu.Requester == devices.BusMaster(f.dma))

	writePort(t, f.dma, 0x08, 0x04) // disable controller
	is.True(!f.cpu.Hold)
	writePort(t, f.dma, 0x08, 0x00)
	is.True(f.cpu.Hold)

	writePort(t, f.dma, 0xD4, 0x04) // mask cascade channel
	is.True(!f.cpu.Hold)
	writePort(t, f.dma, 0xDC, 0x00) // clear all slave masks
	is.True(f.cpu.Hold)

	f.dma.SetDMARequest(1, false)
	is.True(!f.cpu.Hold)
}

func TestDMAWriteToMemoryReachesTerminalCount(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()

	next := byte(0xA0)
	is.NoErr(f.dma.RegisterDMAChannel(1, &devices.DMAHandler{
		Name:   "dev",
		Write8: func() byte { next++; return next },
	}))
	// single mode, write to memory, count 2 means three transfers
	f.program(t, 1, 0x44, 0x01, 0x1000, 2)
	writePort(t, f.dma, 0x0A, 0x01)
	f.dma.SetDMARequest(1, true)
	is.True(f.cpu.Hold)

	for i := 0; i < 3; i++ {
		f.dma.AcknowledgeBusHold()
	}
	is.Equal(f.mem.GetByte(0x11000), byte(0xA1))
	is.Equal(f.mem.GetByte(0x11001), byte(0xA2))
	is.Equal(f.mem.GetByte(0x11002), byte(0xA3))

	s := f.dma.State()
	if s.Controllers[0].Channels[1].CurrentCount != 0xFFFF {
		t.Fatalf("count did not roll over:\n%s", spew.Sdump(s))
	}
	is.True(!f.cpu.Hold)
	is.Equal(s.Controllers[0].Mask&0x02, byte(0x02)) // masked after TC

	status := readPort(t, f.dma, 0x08)
	is.Equal(status&0x0F, byte(0x02))
	is.Equal(status&0x20, byte(0x20)) // DRQ still up
	is.Equal(readPort(t, f.dma, 0x08)&0x0F, byte(0)) // TC bits cleared on read

	// masked channel does nothing further
	f.dma.AcknowledgeBusHold()
	is.Equal(f.mem.GetByte(0x11003), byte(0))
}

func TestDMAAutoInitReloads(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()
	calls := 0
	is.NoErr(f.dma.RegisterDMAChannel(2, &devices.DMAHandler{
		Name:   "dev",
		Write8: func() byte { calls++; return 0x55 },
	}))
	f.program(t, 2, 0x54, 0, 0x0200, 1)
	writePort(t, f.dma, 0x0A, 0x02)
	f.dma.SetDMARequest(2, true)

	f.dma.AcknowledgeBusHold()
	f.dma.AcknowledgeBusHold()
	is.Equal(calls, 2)

	s := f.dma.State()
	ch := s.Controllers[0].Channels[2]
	is.Equal(ch.CurrentAddress, uint16(0x0200))
	is.Equal(ch.CurrentCount, uint16(1))
	is.Equal(s.Controllers[0].Mask&0x04, byte(0)) // still unmasked
	is.Equal(s.Controllers[0].Status&0x04, byte(0x04))

	// the device keeps DRQ up and asks again
	f.dma.SetDMARequest(2, true)
	f.dma.AcknowledgeBusHold()
	is.Equal(calls, 3)
}

func TestDMADecrementAndVerify(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()
	calls := 0
	is.NoErr(f.dma.RegisterDMAChannel(3, &devices.DMAHandler{
		Name:   "dev",
		Write8: func() byte { calls++; return 0xEE },
	}))
	// verify transfer, address decrement
	f.program(t, 3, 0x60, 0, 0x0010, 5)
	writePort(t, f.dma, 0x0A, 0x03)
	f.dma.SetDMARequest(3, true)
	f.dma.AcknowledgeBusHold()
	f.dma.AcknowledgeBusHold()

	is.Equal(calls, 2)
	is.Equal(f.mem.GetByte(0x0010), byte(0)) // verify never writes memory
	is.Equal(f.dma.State().Controllers[0].Channels[3].CurrentAddress, uint16(0x000E))
}

func TestDMAReadFromMemory16Bit(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()
	var got []uint16
	is.NoErr(f.dma.RegisterDMAChannel(5, &devices.DMAHandler{
		Name:   "hd",
		Read16: func(data uint16) { got = append(got, data) },
	}))
	f.mem.SetWord(0x21000, 0xBEEF)
	f.mem.SetWord(0x21002, 0xCAFE)

	writePort(t, f.dma, 0xD8, 0x00)
	writePort(t, f.dma, 0xD6, 0x49) // single, read from memory, channel 5
	writePort(t, f.dma, 0xC4, 0x00) // word address 0x0800
	writePort(t, f.dma, 0xC4, 0x08)
	writePort(t, f.dma, 0xC6, 0x01)
	writePort(t, f.dma, 0xC6, 0x00)
	writePort(t, f.dma, 0x8B, 0x02)
	writePort(t, f.dma, 0xD4, 0x01)

	f.dma.SetDMARequest(5, true)
	is.True(f.cpu.Hold)
	f.dma.AcknowledgeBusHold()
	f.dma.AcknowledgeBusHold()

	is.Equal(got, []uint16{0xBEEF, 0xCAFE})
	is.True(!f.cpu.Hold)
}

func TestDMAMissingCallbackIsNoop(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()
	is.NoErr(f.dma.RegisterDMAChannel(1, &devices.DMAHandler{Name: "readonly"}))
	f.program(t, 1, 0x44, 0, 0x0100, 0)
	writePort(t, f.dma, 0x0A, 0x01)
	f.dma.SetDMARequest(1, true)
	f.dma.AcknowledgeBusHold()
	is.Equal(f.mem.GetByte(0x0100), byte(0))
	is.Equal(f.dma.State().Controllers[0].Channels[1].CurrentCount, uint16(0xFFFF))
}

func TestDMAMasterClearAndMaskRegister(t *testing.T) {
	is := is.New(t)
	f := newDMAFixture()

	writePort(t, f.dma, 0x0E, 0x00)
	is.Equal(readPort(t, f.dma, 0x0F), byte(0xF0))
	writePort(t, f.dma, 0x0F, 0x05)
	is.Equal(readPort(t, f.dma, 0x0F), byte(0xF5))

	writePort(t, f.dma, 0x09, 0x06) // software request on channel 2
	is.Equal(f.dma.State().Controllers[0].Status, byte(0x40))

	writePort(t, f.dma, 0x0D, 0x00)
	s := f.dma.State().Controllers[0]
	is.Equal(s.Mask, byte(0x0F))
	is.Equal(s.Status, byte(0))
	is.True(!s.FlipFlop)
}
