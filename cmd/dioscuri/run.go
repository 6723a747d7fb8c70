package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/bramfoo/dioscuri-sub007/core_engine"
	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

// ctrlBracket ends the session, as in telnet.
const ctrlBracket = 0x1D

type runCmd struct{}

func (r *runCmd) Run(c *cli) error {
	cfg := c.config()
	cfg.Notifier = &ledPrinter{out: os.Stdout}

	var com1 io.ReadWriteCloser
	if c.COM1 != "" {
		port, err := openCOM1(c.COM1, uint(c.Baud))
		if err != nil {
			return fmt.Errorf("open %s: %w", c.COM1, err)
		}
		defer port.Close()
		com1 = port
		cfg.SerialOutput = port
	}

	vm, err := core_engine.NewVirtualMachine(cfg)
	if err != nil {
		return err
	}
	defer vm.Close()

	g := &guest{vm: vm, out: os.Stdout}
	if err := g.boot(); err != nil {
		return err
	}
	if com1 != nil {
		go pumpCOM1(com1, vm.SerialReceive, cfg.Logger)
	}

	restore, err := makeRaw(os.Stdin.Fd())
	if err != nil {
		return fmt.Errorf("raw terminal: %w", err)
	}
	defer restore()
	fmt.Fprint(os.Stdout, "type to send scancodes, Ctrl-] quits\r\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		typeKeys(os.Stdin, vm)
		cancel()
	}()

	err = vm.Run(ctx)
	c.dump(vm)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// typeKeys turns terminal bytes into key strokes until Ctrl-] or EOF.
func typeKeys(in io.Reader, vm *core_engine.VirtualMachine) {
	buf := make([]byte, 64)
	for {
		n, err := in.Read(buf)
		for _, b := range buf[:n] {
			if b == ctrlBracket {
				return
			}
			stroke(vm, b)
		}
		if err != nil {
			return
		}
	}
}

func stroke(vm *core_engine.VirtualMachine, b byte) {
	var mods []devices.Key
	key, shift, ok := devices.KeyForRune(rune(b))
	switch {
	case ok:
		if shift {
			mods = append(mods, devices.KeyLeftShift)
		}
	case b >= 0x01 && b <= 0x1A:
		key, _, _ = devices.KeyForRune(rune('a' + b - 1))
		mods = append(mods, devices.KeyLeftCtrl)
	default:
		return
	}
	for _, m := range mods {
		vm.KeyEvent(m, true)
	}
	vm.KeyEvent(key, true)
	vm.KeyEvent(key, false)
	for i := len(mods) - 1; i >= 0; i-- {
		vm.KeyEvent(mods[i], false)
	}
}

// guest stands in for the interrupt service routines of a real-mode OS.
// It runs on the machine's goroutine.
type guest struct {
	vm       *core_engine.VirtualMachine
	out      io.Writer
	extended bool
}

var (
	makeColor  = color.New(color.FgCyan)
	breakColor = color.New(color.FgBlue)
	com1Color  = color.New(color.FgYellow)
)

func (g *guest) boot() error {
	b := &bios{vm: g.vm}
	if _, err := b.initPIC(); err != nil {
		return err
	}
	base := devices.COM1_PORT_BASE
	b.out(base+devices.IIR_FCR, devices.FCR_ENABLE|devices.FCR_CLEAR_RX|devices.FCR_CLEAR_TX)
	b.out(base+devices.IER_DLH, devices.IER_RX_DATA_AVAILABLE)
	b.out(base+devices.MCR, devices.MCR_DTR|devices.MCR_RTS|devices.MCR_OUT2)
	// IRQ1, IRQ2 (cascade) and IRQ4
	b.out(0x21, 0xE9)
	if b.err != nil {
		return b.err
	}
	g.vm.SetInterruptHandler(g.interrupt)
	return nil
}

func (g *guest) interrupt(vector uint8) {
	switch vector {
	case 0x09:
		g.keyboard()
	case 0x0C:
		g.serial()
	}
	if err := g.vm.OutByte(0x20, 0x20); err != nil {
		fmt.Fprintf(g.out, "EOI failed: %v\r\n", err)
	}
}

func (g *guest) keyboard() {
	code, err := g.vm.InByte(devices.KEYBOARD_PORT_DATA)
	if err != nil {
		fmt.Fprintf(g.out, "keyboard read failed: %v\r\n", err)
		return
	}
	switch {
	case code == 0xE0:
		g.extended = true
		return
	case code == 0xFA:
		fmt.Fprint(g.out, "keyboard ack\r\n")
		return
	}
	prefix := ""
	if g.extended {
		prefix = "E0 "
		g.extended = false
	}
	if code&0x80 != 0 {
		breakColor.Fprintf(g.out, "break %s%02X\r\n", prefix, code)
		return
	}
	makeColor.Fprintf(g.out, "make  %s%02X\r\n", prefix, code)
}

// serial echoes everything COM1 receives back to the host device.
func (g *guest) serial() {
	base := devices.COM1_PORT_BASE
	for i := 0; i < 64; i++ {
		lsr, err := g.vm.InByte(base + devices.LSR)
		if err != nil || lsr&devices.LSR_DR == 0 {
			return
		}
		v, _ := g.vm.InByte(base + devices.RHR_THR_DLL)
		com1Color.Fprintf(g.out, "com1  %q\r\n", v)
		if err := g.vm.OutByte(base+devices.RHR_THR_DLL, v); err != nil {
			return
		}
	}
}

// ledPrinter shows the keyboard LEDs the guest switches.
type ledPrinter struct {
	out io.Writer
}

func (l *ledPrinter) led(name string, on bool) {
	c := color.New(color.FgHiBlack)
	state := "off"
	if on {
		c = color.New(color.FgHiGreen, color.Bold)
		state = "on"
	}
	c.Fprintf(l.out, "[%s %s]\r\n", name, state)
}

func (l *ledPrinter) SetNumLock(on bool)    { l.led("NumLock", on) }
func (l *ledPrinter) SetCapsLock(on bool)   { l.led("CapsLock", on) }
func (l *ledPrinter) SetScrollLock(on bool) { l.led("ScrollLock", on) }
