package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgCyan),
	slog.LevelInfo:  color.New(color.FgGreen),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

// consoleHandler prints one coloured line per record. Lines end in CRLF so
// they stay readable while the terminal is in raw mode.
type consoleHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func newConsoleLogger(out io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(&consoleHandler{mu: &sync.Mutex{}, out: out, level: level})
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	device := ""
	attr := func(a slog.Attr) {
		if a.Key == "device" {
			device = a.Value.String()
			return
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		attr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		attr(h.qualify(a))
		return true
	})

	c, ok := levelColors[r.Level]
	if !ok {
		c = color.New(color.Reset)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Fprintf(h.out, "%-5s", r.Level.String())
	if device != "" {
		color.New(color.FgMagenta).Fprintf(h.out, " [%s]", device)
	}
	_, err := fmt.Fprintf(h.out, " %s%s\r\n", r.Message, b.String())
	return err
}

// qualify prefixes a key with the open groups. The device attribute is
// never grouped.
func (h *consoleHandler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" && a.Key != "device" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		n.attrs = append(n.attrs, h.qualify(a))
	}
	return &n
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	n := *h
	if n.group != "" {
		name = n.group + "." + name
	}
	n.group = name
	return &n
}
