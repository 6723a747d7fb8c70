package core_engine

import (
	"io"
	"log/slog"
	"os"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

// Config holds the machine parameters.
type Config struct {
	MemorySize uint64 // guest RAM in bytes
	A20Enabled bool   // A20 gate state after reset

	// Scheduler intervals in microseconds of guest time.
	TickMicros             int
	KeyboardIntervalMicros int
	PITIntervalMicros      int
	RTCIntervalMicros      int

	Debug bool

	// Logger receives every device log. When nil a text handler on stderr is
	// used, at Debug level if Debug is set.
	Logger *slog.Logger

	// SerialOutput receives bytes the guest transmits on COM1. Nil discards them.
	SerialOutput io.Writer

	// Notifier receives keyboard LED changes. May be nil.
	Notifier devices.StatusNotifier
}

// DefaultConfig returns a 16MB machine with the A20 gate closed, as after power on.
func DefaultConfig() Config {
	return Config{
		MemorySize:             16 * 1024 * 1024,
		A20Enabled:             false,
		TickMicros:             1000,
		KeyboardIntervalMicros: 200,
		PITIntervalMicros:      100,
		RTCIntervalMicros:      1000,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MemorySize == 0 {
		c.MemorySize = d.MemorySize
	}
	if c.TickMicros <= 0 {
		c.TickMicros = d.TickMicros
	}
	if c.KeyboardIntervalMicros <= 0 {
		c.KeyboardIntervalMicros = d.KeyboardIntervalMicros
	}
	if c.PITIntervalMicros <= 0 {
		c.PITIntervalMicros = d.PITIntervalMicros
	}
	if c.RTCIntervalMicros <= 0 {
		c.RTCIntervalMicros = d.RTCIntervalMicros
	}
	if c.SerialOutput == nil {
		c.SerialOutput = io.Discard
	}
	return c
}
