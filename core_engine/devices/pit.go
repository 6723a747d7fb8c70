package devices

import (
	"fmt"
	"log/slog"
	"sync"
)

// PITDevice implements an 8254 Programmable Interval Timer plus the speaker
// and refresh bits of port 0x61.
//
// Counter 0 drives IRQ0. Counter 1 (RAM refresh) and counter 2 (PC speaker,
// gated by port 0x61 bit 0) count but drive nothing.
type PITDevice struct {
	irqRaiser InterruptRaiser // To signal interrupts to the PIC
	lock      sync.Mutex

	counters [3]pitCounter

	gate2    bool
	speaker  bool
	refresh  bool
	tickFrac int64 // sub-tick remainder in Hz*µs carried between updates

	logger *slog.Logger
}

type pitCounter struct {
	reload  uint16 // raw programmed value
	period  uint32 // reload in ticks, 0 means 0x10000 (or 10000 in BCD)
	count   uint32 // ticks left before terminal count, 1..period
	mode    byte   // Operating mode (0-5)
	rwMode  byte   // Read/Write mode (LSB, MSB, LOHI)
	bcdMode bool   // BCD or Binary counting

	counting  bool
	nullCount bool // control word written, count not loaded yet
	out       bool // OUT pin
	fired     bool // one shot modes signal terminal count once

	writeMSBNext bool
	readMSBNext  bool

	latch         uint16
	latched       bool
	latchMSBNext  bool
	status        byte
	statusLatched bool
}

// NewPITDevice creates and initializes a new PITDevice.
func NewPITDevice(irqRaiser InterruptRaiser, logger *slog.Logger) *PITDevice {
	p := &PITDevice{
		irqRaiser: irqRaiser,
		logger:    loggerOrDefault(logger, "pit"),
	}
	p.Reset()
	return p
}

// Reset stops every counter. All counters come up in mode 3, LSB/MSB, binary,
// waiting for a count.
func (p *PITDevice) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i := range p.counters {
		p.counters[i] = pitCounter{
			mode:   PIT_MODE_SQUARE_WAVE,
			rwMode: PIT_RW_LOHI,
			out:    true,
		}
	}
	p.gate2 = false
	p.speaker = false
	p.refresh = false
	p.tickFrac = 0
}

// HandleIO processes I/O operations for the PIT.
func (p *PITDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	if size != 1 {
		wideAccess(p.logger, port, direction, size, data)
		return nil
	}

	p.lock.Lock()
	wasHigh := p.counters[0].out
	err := p.handleByte(port, direction, data)
	lower := wasHigh && !p.counters[0].out
	p.lock.Unlock()

	if lower && p.irqRaiser != nil {
		p.irqRaiser.ClearIRQ(PIT_IRQ)
	}
	return err
}

func (p *PITDevice) handleByte(port uint16, direction uint8, data []byte) error {
	switch port {
	case PIT_PORT_COUNTER0, PIT_PORT_COUNTER1, PIT_PORT_COUNTER2:
		c := &p.counters[port-PIT_PORT_COUNTER0]
		if direction == IODirectionOut {
			p.writeCounter(int(port-PIT_PORT_COUNTER0), data[0])
		} else {
			data[0] = c.read()
		}
	case PIT_PORT_COMMAND:
		if direction == IODirectionIn {
			return fmt.Errorf("PITDevice: port %s: %w", hex16(port), ErrWriteOnlyPort)
		}
		p.writeCommand(data[0])
	case PIT_PORT_STATUS:
		if direction == IODirectionOut {
			p.writeStatus(data[0])
		} else {
			data[0] = p.readStatus()
		}
	default:
		return fmt.Errorf("PITDevice: port %s: %w", hex16(port), ErrUnknownPort)
	}
	return nil
}

func (p *PITDevice) writeCounter(index int, val byte) {
	c := &p.counters[index]
	switch c.rwMode {
	case PIT_RW_LSB:
		c.reload = uint16(val)
	case PIT_RW_MSB:
		c.reload = uint16(val) << 8
	case PIT_RW_LOHI:
		if !c.writeMSBNext {
			c.reload = c.reload&0xFF00 | uint16(val)
			c.writeMSBNext = true
			return
		}
		c.reload = c.reload&0x00FF | uint16(val)<<8
		c.writeMSBNext = false
	}
	c.load()
	p.logger.Debug("counter loaded", slog.Int("counter", index),
		slog.Int("reload", int(c.reload)), slog.Int("mode", int(c.mode)))
}

func (c *pitCounter) load() {
	c.period = uint32(c.reload)
	if c.bcdMode {
		c.period = uint32(fromBCD16(c.reload))
		if c.period == 0 {
			c.period = 10000
		}
	} else if c.period == 0 {
		c.period = 0x10000
	}
	c.count = c.period
	c.counting = true
	c.nullCount = false
	c.fired = false
	c.out = c.mode != PIT_MODE_INTERRUPT_ON_TC
}

// displayCount is the count as the guest reads it.
func (c *pitCounter) displayCount() uint16 {
	v := c.count
	if c.bcdMode {
		return toBCD16(uint16(v % 10000))
	}
	return uint16(v)
}

func (c *pitCounter) read() byte {
	if c.statusLatched {
		c.statusLatched = false
		return c.status
	}
	if c.latched {
		switch c.rwMode {
		case PIT_RW_MSB:
			c.latched = false
			return byte(c.latch >> 8)
		case PIT_RW_LOHI:
			if !c.latchMSBNext {
				c.latchMSBNext = true
				return byte(c.latch)
			}
			c.latchMSBNext = false
			c.latched = false
			return byte(c.latch >> 8)
		default:
			c.latched = false
			return byte(c.latch)
		}
	}

	v := c.displayCount()
	switch c.rwMode {
	case PIT_RW_MSB:
		return byte(v >> 8)
	case PIT_RW_LOHI:
		if !c.readMSBNext {
			c.readMSBNext = true
			return byte(v)
		}
		c.readMSBNext = false
		return byte(v >> 8)
	default:
		return byte(v)
	}
}

func (c *pitCounter) latchCount() {
	if c.latched {
		return
	}
	c.latch = c.displayCount()
	c.latched = true
	c.latchMSBNext = false
}

func (c *pitCounter) latchStatus() {
	if c.statusLatched {
		return
	}
	c.status = c.rwMode<<4 | c.mode<<1 | boolBit(c.bcdMode)
	if c.out {
		c.status |= PIT_READBACK_OUTPUT
	}
	if c.nullCount {
		c.status |= PIT_READBACK_NULL_COUNT
	}
	c.statusLatched = true
}

func (p *PITDevice) writeCommand(val byte) {
	if val&PIT_READBACK_SELECT == PIT_READBACK_SELECT {
		for i := range p.counters {
			if val&(PIT_READBACK_COUNTER0<<i) == 0 {
				continue
			}
			if val&PIT_READBACK_NO_COUNT == 0 {
				p.counters[i].latchCount()
			}
			if val&PIT_READBACK_NO_STATUS == 0 {
				p.counters[i].latchStatus()
			}
		}
		return
	}

	index := int(val >> 6)
	rwMode := (val >> 4) & 0x3
	c := &p.counters[index]
	if rwMode == PIT_RW_LATCH {
		c.latchCount()
		return
	}

	mode := (val >> 1) & 0x7
	if mode > PIT_MODE_HW_STROBE {
		mode -= 4 // 6 and 7 are 2 and 3
	}
	c.rwMode = rwMode
	c.mode = mode
	c.bcdMode = val&0x1 != 0
	c.writeMSBNext = false
	c.readMSBNext = false
	c.latched = false
	c.statusLatched = false
	c.counting = false
	c.nullCount = true
	c.fired = false
	c.out = mode != PIT_MODE_INTERRUPT_ON_TC
	p.logger.Debug("counter configured", slog.Int("counter", index),
		slog.Int("rw", int(rwMode)), slog.Int("mode", int(mode)), slog.Bool("bcd", c.bcdMode))
}

func (p *PITDevice) writeStatus(val byte) {
	gate := val&PIT_STATUS_GATE2 != 0
	if gate && !p.gate2 && p.counters[2].period != 0 {
		// rising gate edge restarts counter 2
		p.counters[2].count = p.counters[2].period
		p.counters[2].counting = true
		p.counters[2].fired = false
	}
	p.gate2 = gate
	p.speaker = val&PIT_STATUS_SPEAKER != 0
}

func (p *PITDevice) readStatus() byte {
	p.refresh = !p.refresh
	val := boolBit(p.gate2) | boolBit(p.speaker)<<1
	if p.refresh {
		val |= PIT_STATUS_REFRESH
	}
	if p.counters[2].out {
		val |= PIT_STATUS_OUT2
	}
	return val
}

// advance runs the counter for ticks input clocks and returns how many
// terminal counts it reached.
func (c *pitCounter) advance(ticks int64) int {
	if !c.counting || ticks == 0 {
		return 0
	}
	period := int64(c.period)
	count := int64(c.count)

	switch c.mode {
	case PIT_MODE_RATE_GENERATOR, PIT_MODE_SQUARE_WAVE:
		if ticks < count {
			c.count = uint32(count - ticks)
			c.updateSquareWave()
			return 0
		}
		rest := ticks - count
		c.count = uint32(period - rest%period)
		c.updateSquareWave()
		return int(1 + rest/period)
	default:
		// one shot modes keep counting down and wrap after terminal count
		if ticks < count {
			c.count = uint32(count - ticks)
			return 0
		}
		c.count = uint32(0x10000 - (ticks-count)%0x10000)
		if c.fired {
			return 0
		}
		c.fired = true
		c.out = true
		return 1
	}
}

func (c *pitCounter) updateSquareWave() {
	if c.mode == PIT_MODE_SQUARE_WAVE {
		c.out = c.count > c.period/2
	}
}

// Update advances the counters by elapsedMicros of guest time. Each terminal
// count of counter 0 gives IRQ0 a fresh rising edge; the line stays up until
// the next one so the PIC keeps the request.
func (p *PITDevice) Update(elapsedMicros int) {
	if elapsedMicros <= 0 {
		return
	}
	p.lock.Lock()
	p.tickFrac += int64(elapsedMicros) * PIT_CLOCK_HZ
	ticks := p.tickFrac / 1000000
	p.tickFrac %= 1000000

	fires := p.counters[0].advance(ticks)
	p.counters[1].advance(ticks)
	if p.gate2 {
		p.counters[2].advance(ticks)
	}
	p.lock.Unlock()

	if fires > 0 && p.irqRaiser != nil {
		p.irqRaiser.ClearIRQ(PIT_IRQ)
		p.irqRaiser.SetIRQ(PIT_IRQ)
	}
}

// PITCounterState is a snapshot of one counter.
type PITCounterState struct {
	Mode     byte
	RWMode   byte
	BCD      bool
	Reload   uint16
	Count    uint16
	Counting bool
	Out      bool
}

// PITState is a snapshot of the timer.
type PITState struct {
	Counters [3]PITCounterState
	Gate2    bool
	Speaker  bool
}

// State returns a copy of the counters for debugging.
func (p *PITDevice) State() PITState {
	p.lock.Lock()
	defer p.lock.Unlock()
	var s PITState
	for i := range p.counters {
		c := &p.counters[i]
		s.Counters[i] = PITCounterState{
			Mode:     c.mode,
			RWMode:   c.rwMode,
			BCD:      c.bcdMode,
			Reload:   c.reload,
			Count:    c.displayCount(),
			Counting: c.counting,
			Out:      c.out,
		}
	}
	s.Gate2 = p.gate2
	s.Speaker = p.speaker
	return s
}

// Ports returns every port the PIT decodes.
func (p *PITDevice) Ports() []uint16 {
	return []uint16{PIT_PORT_COUNTER0, PIT_PORT_COUNTER1, PIT_PORT_COUNTER2, PIT_PORT_COMMAND, PIT_PORT_STATUS}
}

func fromBCD16(v uint16) uint16 {
	return (v>>12&0xF)*1000 + (v>>8&0xF)*100 + (v>>4&0xF)*10 + v&0xF
}

func toBCD16(v uint16) uint16 {
	return (v/1000%10)<<12 | (v/100%10)<<8 | (v/10%10)<<4 | v%10
}
