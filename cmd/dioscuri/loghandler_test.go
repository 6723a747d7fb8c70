package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/matryer/is"
)

func TestConsoleHandler(t *testing.T) {
	is := is.New(t)
	color.NoColor = true
	var out bytes.Buffer
	logger := newConsoleLogger(&out, false).With(slog.String("device", "pic"))

	logger.Debug("hidden")
	logger.Warn("spurious interrupt", slog.Int("irq", 7))
	logger.WithGroup("icw").Info("init", slog.String("vector", "0x08"))

	is.Equal(out.String(), "WARN  [pic] spurious interrupt irq=7\r\n"+
		"INFO  [pic] init icw.vector=0x08\r\n")
}

func TestConsoleHandlerDebug(t *testing.T) {
	is := is.New(t)
	color.NoColor = true
	var out bytes.Buffer
	newConsoleLogger(&out, true).Debug("tick")
	is.Equal(out.String(), "DEBUG tick\r\n")
}
