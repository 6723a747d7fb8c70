package core_engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

type timer struct {
	name     string
	device   devices.Updateable
	interval int // microseconds
	elapsed  int
	active   bool
}

// Clock is the machine scheduler. Devices register an update interval and get
// Update calls with the guest time that passed since their last one.
type Clock struct {
	lock   sync.Mutex
	timers []*timer
	now    int64 // guest microseconds since power on
	logger *slog.Logger
}

// NewClock creates a scheduler with no timers.
func NewClock(logger *slog.Logger) *Clock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{logger: logger.With(slog.String("device", "clock"))}
}

// Register adds a device updated every intervalMicros. Names are unique.
func (c *Clock) Register(name string, device devices.Updateable, intervalMicros int) error {
	if intervalMicros <= 0 {
		return fmt.Errorf("Clock: %s: interval must be positive, got %d", name, intervalMicros)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, t := range c.timers {
		if t.name == name {
			if t.device == device {
				return nil
			}
			return fmt.Errorf("Clock: timer %q already registered", name)
		}
	}
	c.timers = append(c.timers, &timer{name: name, device: device, interval: intervalMicros, active: true})
	c.logger.Debug("timer registered", slog.String("timer", name), slog.Int("interval_us", intervalMicros))
	return nil
}

// SetActive pauses or resumes a timer. Time spent paused is not delivered.
func (c *Clock) SetActive(name string, active bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, t := range c.timers {
		if t.name == name {
			t.active = active
			t.elapsed = 0
		}
	}
}

// Advance moves guest time forward and runs every timer that came due.
// Updates run without the clock lock held.
func (c *Clock) Advance(elapsedMicros int) {
	if elapsedMicros <= 0 {
		return
	}
	type due struct {
		device  devices.Updateable
		elapsed int
	}
	var ready []due

	c.lock.Lock()
	c.now += int64(elapsedMicros)
	for _, t := range c.timers {
		if !t.active {
			continue
		}
		t.elapsed += elapsedMicros
		if t.elapsed >= t.interval {
			ready = append(ready, due{t.device, t.elapsed})
			t.elapsed = 0
		}
	}
	c.lock.Unlock()

	for _, d := range ready {
		d.device.Update(d.elapsed)
	}
}

// Now returns the guest time since power on.
func (c *Clock) Now() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return time.Duration(c.now) * time.Microsecond
}
