// dioscuri drives the emulated PC chipset from a terminal.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"github.com/bramfoo/dioscuri-sub007/core_engine"
)

type cli struct {
	Debug  bool   `help:"log device traces"`
	Memory int    `default:"16" help:"guest RAM in megabytes"`
	A20    bool   `name:"a20" help:"open the A20 gate at reset"`
	COM1   string `name:"com1" help:"host serial device backing COM1"`
	Baud   int    `default:"115200" help:"baud rate of the COM1 host device"`
	Dump   bool   `help:"print the machine state on exit"`

	Post postCmd `cmd:"" help:"run the power on self test against a fresh machine"`
	Run  runCmd  `cmd:"" default:"1" help:"type into the emulated keyboard"`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("dioscuri"),
		kong.Description("A PC chipset: DMA, PIC, PIT, RTC, UART and the 8042 keyboard controller."),
	)
	err := ctx.Run(&c)
	ctx.FatalIfErrorf(err)
}

func (c *cli) config() core_engine.Config {
	cfg := core_engine.DefaultConfig()
	cfg.MemorySize = uint64(c.Memory) * 1024 * 1024
	cfg.A20Enabled = c.A20
	cfg.Debug = c.Debug
	cfg.Logger = newConsoleLogger(os.Stderr, c.Debug)
	return cfg
}

func (c *cli) dump(vm *core_engine.VirtualMachine) {
	if c.Dump {
		spew.Fdump(os.Stderr, vm.State())
	}
}
