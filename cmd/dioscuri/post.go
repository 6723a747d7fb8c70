package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/bramfoo/dioscuri-sub007/core_engine"
	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

var errNoResponse = errors.New("no response from the keyboard controller")

type postCmd struct{}

func (p *postCmd) Run(c *cli) error {
	vm, err := core_engine.NewVirtualMachine(c.config())
	if err != nil {
		return err
	}
	defer vm.Close()
	defer c.dump(vm)

	if failed := runPOST(os.Stdout, vm); failed > 0 {
		return fmt.Errorf("%d POST steps failed", failed)
	}
	return nil
}

type postStep struct {
	name string
	run  func(b *bios) (string, error)
}

var postSteps = []postStep{
	{"interrupt controllers", (*bios).initPIC},
	{"DMA controllers", (*bios).initDMA},
	{"DMA transfer", (*bios).testDMA},
	{"system timer", (*bios).initPIT},
	{"real time clock", (*bios).readRTC},
	{"keyboard controller", (*bios).testKBC},
	{"keyboard interface", (*bios).testKbdInterface},
	{"keyboard reset", (*bios).resetKeyboard},
	{"PS/2 mouse", (*bios).identifyMouse},
	{"serial port COM1", (*bios).testUART},
	{"A20 gate", (*bios).testA20},
}

// runPOST walks the machine through a BIOS power on self test and reports
// each step. It returns the number of failed steps.
func runPOST(w io.Writer, vm *core_engine.VirtualMachine) int {
	ok := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	b := &bios{vm: vm}
	failed := 0
	for _, s := range postSteps {
		fmt.Fprintf(w, "%-24s ", s.name)
		detail, err := s.run(b)
		if err == nil {
			err = b.err
		}
		b.err = nil
		if err != nil {
			failed++
			fail.Fprint(w, "FAIL")
			fmt.Fprintf(w, " %v\n", err)
			continue
		}
		ok.Fprint(w, "ok")
		if detail != "" {
			fmt.Fprintf(w, "   %s", detail)
		}
		fmt.Fprintln(w)
	}
	return failed
}

// bios issues port I/O the way firmware does. The first I/O error sticks.
type bios struct {
	vm  *core_engine.VirtualMachine
	err error
}

func (b *bios) out(port uint16, values ...byte) {
	for _, v := range values {
		if b.err == nil {
			b.err = b.vm.OutByte(port, v)
		}
	}
}

func (b *bios) in(port uint16) byte {
	if b.err != nil {
		return 0xFF
	}
	v, err := b.vm.InByte(port)
	b.err = err
	return v
}

// response polls the controller status the way a BIOS without interrupts does.
func (b *bios) response() (byte, error) {
	for i := 0; i < 100; i++ {
		if b.in(devices.KEYBOARD_PORT_STATUS)&devices.KBC_STATUS_OUTB != 0 {
			return b.in(devices.KEYBOARD_PORT_DATA), b.err
		}
		if b.err != nil {
			return 0, b.err
		}
		b.vm.Step(1000)
	}
	return 0, errNoResponse
}

func (b *bios) expect(want ...byte) error {
	for _, w := range want {
		got, err := b.response()
		if err != nil {
			return err
		}
		if got != w {
			return fmt.Errorf("got 0x%02X, want 0x%02X", got, w)
		}
	}
	return nil
}

func (b *bios) initPIC() (string, error) {
	b.out(0x20, 0x11)
	b.out(0x21, 0x08, 0x04, 0x01)
	b.out(0xA0, 0x11)
	b.out(0xA1, 0x70, 0x02, 0x01)
	b.out(0x21, 0xFF)
	b.out(0xA1, 0xFF)
	if m, s := b.in(0x21), b.in(0xA1); m != 0xFF || s != 0xFF {
		return "", fmt.Errorf("mask readback 0x%02X/0x%02X", m, s)
	}
	b.out(0x20, 0x0B)
	if isr := b.in(0x20); isr != 0 {
		return "", fmt.Errorf("ISR 0x%02X after init", isr)
	}
	return "vectors 08h and 70h", nil
}

func (b *bios) initDMA() (string, error) {
	b.out(0x0D, 0x00)
	b.out(0xDA, 0x00)
	b.out(0x0C, 0x00)
	b.out(0x00, 0xAA, 0x55)
	b.out(0x0C, 0x00)
	if lo, hi := b.in(0x00), b.in(0x00); lo != 0xAA || hi != 0x55 {
		return "", fmt.Errorf("address readback 0x%02X%02X", hi, lo)
	}
	// channel 4 cascades the 8-bit controller
	b.out(0xD6, 0xC0)
	b.out(0xD4, 0x00)
	return "", nil
}

func (b *bios) testDMA() (string, error) {
	const (
		channel = 2
		addr    = 0x10000
		length  = 16
	)
	dma := b.vm.DMA()
	next := byte(0)
	err := dma.RegisterDMAChannel(channel, &devices.DMAHandler{
		Name: "post",
		Write8: func() byte {
			next++
			return next
		},
	})
	if err != nil {
		return "", err
	}
	defer dma.ReleaseDMAChannel(channel)

	// single mode, device to memory
	b.out(0x0A, 0x04|channel)
	b.out(0x0C, 0x00)
	b.out(0x0B, 0x44|channel)
	b.out(0x04, addr&0xFF, addr>>8&0xFF)
	b.out(0x81, addr>>16)
	b.out(0x05, length-1, 0x00)
	b.out(0x0A, channel)

	dma.SetDMARequest(channel, true)
	b.vm.Step(0)
	dma.SetDMARequest(channel, false)

	if b.in(0x08)&(1<<channel) == 0 {
		return "", errors.New("terminal count not reached")
	}
	want := make([]byte, length)
	got := make([]byte, length)
	for i := range want {
		want[i] = byte(i + 1)
		got[i] = b.vm.Memory().GetByte(uint32(addr + i))
	}
	if !bytes.Equal(got, want) {
		return "", fmt.Errorf("memory holds % X", got)
	}
	return fmt.Sprintf("%d bytes to 0x%05X on channel %d", length, addr, channel), nil
}

func (b *bios) initPIT() (string, error) {
	// counter 0, rate generator, divisor 65536 (18.2Hz)
	b.out(devices.PIT_PORT_COMMAND, 0x34)
	b.out(devices.PIT_PORT_COUNTER0, 0x00, 0x00)
	b.vm.Step(1000)
	b.out(devices.PIT_PORT_COMMAND, 0x00)
	count := uint16(b.in(devices.PIT_PORT_COUNTER0)) | uint16(b.in(devices.PIT_PORT_COUNTER0))<<8
	if count == 0 {
		return "", errors.New("counter 0 is not running")
	}
	return fmt.Sprintf("counter 0 at %d", count), nil
}

func (b *bios) cmos(reg byte) byte {
	b.out(devices.RTC_PORT_INDEX, reg)
	return b.in(devices.RTC_PORT_DATA)
}

func (b *bios) readRTC() (string, error) {
	bcd := func(v byte) int { return int(v>>4)*10 + int(v&0x0F) }
	sec := bcd(b.cmos(0x00))
	minute := bcd(b.cmos(0x02))
	hour := bcd(b.cmos(0x04))
	day := bcd(b.cmos(0x07))
	month := bcd(b.cmos(0x08))
	year := bcd(b.cmos(0x32))*100 + bcd(b.cmos(0x09))
	ext := int(b.cmos(0x17)) | int(b.cmos(0x18))<<8
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", fmt.Errorf("bad date %d-%d", month, day)
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d, %dK extended", year, month, day, hour, minute, sec, ext), nil
}

func (b *bios) testKBC() (string, error) {
	b.out(devices.KEYBOARD_PORT_STATUS, 0xAA)
	return "", b.expect(0x55)
}

func (b *bios) testKbdInterface() (string, error) {
	b.out(devices.KEYBOARD_PORT_STATUS, 0xAB)
	return "", b.expect(0x00)
}

func (b *bios) resetKeyboard() (string, error) {
	b.out(devices.KEYBOARD_PORT_DATA, 0xFF)
	if err := b.expect(0xFA, 0xAA); err != nil {
		return "", err
	}
	// NumLock on, as most BIOSes leave it
	b.out(devices.KEYBOARD_PORT_DATA, 0xED)
	if err := b.expect(0xFA); err != nil {
		return "", err
	}
	b.out(devices.KEYBOARD_PORT_DATA, 0x02)
	return "NumLock on", b.expect(0xFA)
}

func (b *bios) identifyMouse() (string, error) {
	b.out(devices.KEYBOARD_PORT_STATUS, 0xA8)
	b.out(devices.KEYBOARD_PORT_STATUS, 0xD4)
	b.out(devices.KEYBOARD_PORT_DATA, 0xF2)
	if err := b.expect(0xFA); err != nil {
		return "", err
	}
	id, err := b.response()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("device id 0x%02X", id), nil
}

func (b *bios) testUART() (string, error) {
	base := devices.COM1_PORT_BASE
	b.out(base+devices.SCR, 0x5A)
	if v := b.in(base + devices.SCR); v != 0x5A {
		return "", fmt.Errorf("scratch register 0x%02X", v)
	}
	b.out(base+devices.MCR, devices.MCR_LOOPBACK)
	b.out(base+devices.RHR_THR_DLL, 'P')
	if b.in(base+devices.LSR)&devices.LSR_DR == 0 {
		return "", errors.New("loopback byte not received")
	}
	if v := b.in(base + devices.RHR_THR_DLL); v != 'P' {
		return "", fmt.Errorf("loopback returned 0x%02X", v)
	}
	b.out(base+devices.MCR, 0x00)
	return fmt.Sprintf("at 0x%03X", base), nil
}

func (b *bios) testA20() (string, error) {
	mem := b.vm.Memory()
	b.out(devices.KEYBOARD_PORT_STATUS, 0xD1)
	b.out(devices.KEYBOARD_PORT_DATA, 0xDF)
	if !b.vm.A20() {
		return "", errors.New("gate did not open")
	}
	mem.SetByte(0x000000, 0x00)
	mem.SetByte(0x100000, 0xA5)
	if mem.GetByte(0x000000) != 0x00 {
		return "", errors.New("memory wraps at 1MB with the gate open")
	}
	b.out(devices.KEYBOARD_PORT_STATUS, 0xDD)
	if b.vm.A20() {
		return "", errors.New("gate did not close")
	}
	return "", nil
}
