package devices

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RTCDevice implements the MC146818 Real-Time Clock and its CMOS RAM.
//
// Time registers follow the host clock plus an offset the guest sets through
// the SET bit of register B. The periodic, alarm and update-ended interrupts
// raise IRQ8, which stays up until the guest reads register C.
type RTCDevice struct {
	irqRaiser InterruptRaiser // To signal interrupts to the PIC
	lock      sync.Mutex

	registers [128]byte // CMOS RAM, the first 14 bytes are the clock

	// Index register (0x70) selects which data register (0x71) to access
	currentRegisterIndex byte
	nmiDisabled          bool

	// Configuration flags derived from registers
	bcdMode    bool // Data mode: BCD or Binary
	hour24Mode bool // Hour mode: 12-hour or 24-hour

	now            func() time.Time
	offset         time.Duration // guest time minus host time
	periodicMicros int
	secondMicros   int

	logger *slog.Logger
}

// NewRTCDevice creates and initializes a new RTCDevice.
func NewRTCDevice(irqRaiser InterruptRaiser, logger *slog.Logger) *RTCDevice {
	r := &RTCDevice{
		irqRaiser: irqRaiser,
		now:       time.Now,
		logger:    loggerOrDefault(logger, "rtc"),
	}
	r.Reset()
	return r
}

// SetClock replaces the host clock the time registers follow.
func (r *RTCDevice) SetClock(now func() time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.now = now
}

// Reset restores the status registers. CMOS contents and the guest time
// offset survive, as they would on battery.
func (r *RTCDevice) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.registers[RTC_REG_A] = 0x26 // 32.768kHz divider, 1024Hz periodic rate
	r.registers[RTC_REG_B] = RTC_B_2412
	r.registers[RTC_REG_C] = 0x00
	r.registers[RTC_REG_D] = RTC_D_VRT
	r.currentRegisterIndex = 0
	r.nmiDisabled = false
	r.periodicMicros = 0
	r.secondMicros = 0
	r.updateConfigFlags()
}

// SetMemorySize records the installed memory in the CMOS configuration bytes
// the BIOS reads, and refreshes the checksum.
func (r *RTCDevice) SetMemorySize(totalKB int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	base := min(totalKB, 640)
	r.registers[CMOS_BASE_MEMORY_LOW] = byte(base)
	r.registers[CMOS_BASE_MEMORY_HIGH] = byte(base >> 8)

	ext := min(max(totalKB-1024, 0), 0xFFFF)
	r.registers[CMOS_EXT_MEMORY_LOW] = byte(ext)
	r.registers[CMOS_EXT_MEMORY_HIGH] = byte(ext >> 8)
	r.registers[CMOS_EXT_MEMORY_LOW2] = byte(ext)
	r.registers[CMOS_EXT_MEMORY_HIGH2] = byte(ext >> 8)

	above16 := min(max(totalKB-16*1024, 0)/64, 0xFFFF)
	r.registers[CMOS_EXT16_MEMORY_LOW] = byte(above16)
	r.registers[CMOS_EXT16_MEMORY_HIGH] = byte(above16 >> 8)
	r.updateChecksum()
}

func (r *RTCDevice) updateChecksum() {
	var sum uint16
	for i := CMOS_CHECKSUM_FIRST; i <= CMOS_CHECKSUM_LAST; i++ {
		sum += uint16(r.registers[i])
	}
	r.registers[CMOS_CHECKSUM_HIGH] = byte(sum >> 8)
	r.registers[CMOS_CHECKSUM_LOW] = byte(sum)
}

// HandleIO processes I/O operations for the RTC.
func (r *RTCDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	if size != 1 {
		wideAccess(r.logger, port, direction, size, data)
		return nil
	}

	r.lock.Lock()
	lower := false
	switch port {
	case RTC_PORT_INDEX:
		if direction == IODirectionOut {
			r.currentRegisterIndex = data[0] & 0x7F
			r.nmiDisabled = data[0]&0x80 != 0
		} else {
			data[0] = r.currentRegisterIndex
		}
	case RTC_PORT_DATA:
		if direction == IODirectionOut {
			r.writeDataRegister(data[0])
		} else {
			data[0], lower = r.readDataRegister()
		}
	default:
		r.lock.Unlock()
		return fmt.Errorf("RTCDevice: port %s: %w", hex16(port), ErrUnknownPort)
	}
	r.lock.Unlock()

	if lower && r.irqRaiser != nil {
		r.irqRaiser.ClearIRQ(RTC_IRQ)
	}
	return nil
}

// writeDataRegister writes a value to the currently selected RTC register.
func (r *RTCDevice) writeDataRegister(val byte) {
	index := r.currentRegisterIndex
	switch index {
	case RTC_REG_SECONDS, RTC_REG_MINUTES, RTC_REG_HOURS, RTC_REG_DAY_OF_WEEK,
		RTC_REG_DAY_OF_MONTH, RTC_REG_MONTH, RTC_REG_YEAR, RTC_REG_CENTURY:
		if r.registers[RTC_REG_B]&RTC_B_SET != 0 {
			r.registers[index] = val
			return
		}
		// Outside a SET cycle a single field moves the guest clock.
		r.snapshotTime()
		r.registers[index] = val
		r.commitTime()
	case RTC_REG_A:
		r.registers[index] = val &^ RTC_A_UIP
		r.periodicMicros = 0
	case RTC_REG_B:
		old := r.registers[RTC_REG_B]
		if val&RTC_B_SET != 0 && old&RTC_B_SET == 0 {
			r.snapshotTime()
		}
		r.registers[RTC_REG_B] = val
		r.updateConfigFlags()
		if val&RTC_B_SET == 0 && old&RTC_B_SET != 0 {
			r.commitTime()
		}
	case RTC_REG_C, RTC_REG_D:
		r.logger.Debug("write to read-only register ignored",
			slog.String("register", hex8(index)), slog.String("value", hex8(val)))
	default:
		r.registers[index] = val
	}
}

// readDataRegister reads the currently selected register. The second result
// reports that reading register C withdrew a pending interrupt.
func (r *RTCDevice) readDataRegister() (byte, bool) {
	index := r.currentRegisterIndex
	switch index {
	case RTC_REG_SECONDS, RTC_REG_MINUTES, RTC_REG_HOURS, RTC_REG_DAY_OF_WEEK,
		RTC_REG_DAY_OF_MONTH, RTC_REG_MONTH, RTC_REG_YEAR, RTC_REG_CENTURY:
		if r.registers[RTC_REG_B]&RTC_B_SET != 0 {
			return r.registers[index], false
		}
		return r.timeField(index, r.clock()), false
	case RTC_REG_A:
		// Reads are quick enough to never see an update in progress.
		return r.registers[RTC_REG_A] &^ RTC_A_UIP, false
	case RTC_REG_C:
		val := r.registers[RTC_REG_C]
		r.registers[RTC_REG_C] = 0x00
		return val, val&RTC_C_IRQF != 0
	case RTC_REG_D:
		return r.registers[RTC_REG_D] | RTC_D_VRT, false
	default:
		return r.registers[index], false
	}
}

func (r *RTCDevice) clock() time.Time {
	return r.now().Add(r.offset)
}

// timeField encodes one clock register for t in the current data mode.
func (r *RTCDevice) timeField(index byte, t time.Time) byte {
	switch index {
	case RTC_REG_SECONDS:
		return r.convertTimeValue(t.Second())
	case RTC_REG_MINUTES:
		return r.convertTimeValue(t.Minute())
	case RTC_REG_HOURS:
		hour := t.Hour()
		if r.hour24Mode {
			return r.convertTimeValue(hour)
		}
		// 12-hour format, bit 7 is PM. Midnight is 12 AM, noon is 12 PM.
		pm := hour >= 12
		hour %= 12
		if hour == 0 {
			hour = 12
		}
		val := r.convertTimeValue(hour)
		if pm {
			val |= 0x80
		}
		return val
	case RTC_REG_DAY_OF_WEEK:
		// Sunday is 1
		return r.convertTimeValue(int(t.Weekday()) + 1)
	case RTC_REG_DAY_OF_MONTH:
		return r.convertTimeValue(t.Day())
	case RTC_REG_MONTH:
		return r.convertTimeValue(int(t.Month()))
	case RTC_REG_YEAR:
		return r.convertTimeValue(t.Year() % 100)
	case RTC_REG_CENTURY:
		return r.convertTimeValue(t.Year() / 100)
	}
	return 0
}

// snapshotTime freezes the running clock into the time registers.
func (r *RTCDevice) snapshotTime() {
	t := r.clock()
	for _, index := range []byte{RTC_REG_SECONDS, RTC_REG_MINUTES, RTC_REG_HOURS, RTC_REG_DAY_OF_WEEK,
		RTC_REG_DAY_OF_MONTH, RTC_REG_MONTH, RTC_REG_YEAR, RTC_REG_CENTURY} {
		r.registers[index] = r.timeField(index, t)
	}
}

// commitTime makes the time registers the new guest clock.
func (r *RTCDevice) commitTime() {
	hourReg := r.registers[RTC_REG_HOURS]
	hour := r.decodeTimeValue(hourReg &^ 0x80)
	if !r.hour24Mode {
		hour %= 12
		if hourReg&0x80 != 0 {
			hour += 12
		}
	}
	host := r.now()
	guest := time.Date(
		r.decodeTimeValue(r.registers[RTC_REG_CENTURY])*100+r.decodeTimeValue(r.registers[RTC_REG_YEAR]),
		time.Month(r.decodeTimeValue(r.registers[RTC_REG_MONTH])),
		r.decodeTimeValue(r.registers[RTC_REG_DAY_OF_MONTH]),
		hour,
		r.decodeTimeValue(r.registers[RTC_REG_MINUTES]),
		r.decodeTimeValue(r.registers[RTC_REG_SECONDS]),
		0, host.Location())
	r.offset = guest.Sub(host.Truncate(time.Second))
	r.logger.Debug("guest clock set", slog.String("time", guest.Format(time.DateTime)))
}

// convertTimeValue converts an int value to BCD or Binary based on r.bcdMode.
func (r *RTCDevice) convertTimeValue(val int) byte {
	if r.bcdMode {
		return byte(((val / 10) << 4) | (val % 10))
	}
	return byte(val)
}

func (r *RTCDevice) decodeTimeValue(val byte) int {
	if r.bcdMode {
		return int(val>>4)*10 + int(val&0x0F)
	}
	return int(val)
}

// updateConfigFlags updates internal flags based on RTC_REG_B.
func (r *RTCDevice) updateConfigFlags() {
	r.bcdMode = (r.registers[RTC_REG_B] & RTC_B_DM) == 0      // DM=0 means BCD
	r.hour24Mode = (r.registers[RTC_REG_B] & RTC_B_2412) != 0 // 1 means 24-hour mode
}

// periodMicros is the periodic interrupt interval for a register A rate,
// or 0 when the rate is off.
func periodMicros(rate byte) int {
	if rate == 0 {
		return 0
	}
	if rate <= 2 {
		rate += 7 // rates 1 and 2 repeat 8 and 9 with a 32.768kHz base
	}
	return 1000000 / (32768 >> (rate - 1))
}

// Update advances the periodic timer and the once a second update cycle.
func (r *RTCDevice) Update(elapsedMicros int) {
	if elapsedMicros <= 0 {
		return
	}
	r.lock.Lock()
	raise := false

	if period := periodMicros(r.registers[RTC_REG_A] & RTC_A_RATE_MASK); period > 0 {
		r.periodicMicros += elapsedMicros
		if r.periodicMicros >= period {
			r.periodicMicros %= period
			raise = r.setFlag(RTC_C_PF, RTC_B_PIE) || raise
		}
	} else {
		r.periodicMicros = 0
	}

	r.secondMicros += elapsedMicros
	for r.secondMicros >= 1000000 {
		r.secondMicros -= 1000000
		if r.registers[RTC_REG_B]&RTC_B_SET != 0 {
			continue
		}
		raise = r.setFlag(RTC_C_UF, RTC_B_UIE) || raise
		if r.alarmMatches() {
			raise = r.setFlag(RTC_C_AF, RTC_B_AIE) || raise
		}
	}
	r.lock.Unlock()

	if raise && r.irqRaiser != nil {
		r.irqRaiser.SetIRQ(RTC_IRQ)
	}
}

// setFlag records an event in register C and reports whether it newly
// requests an interrupt.
func (r *RTCDevice) setFlag(flag, enable byte) bool {
	r.registers[RTC_REG_C] |= flag
	if r.registers[RTC_REG_B]&enable == 0 || r.registers[RTC_REG_C]&RTC_C_IRQF != 0 {
		return false
	}
	r.registers[RTC_REG_C] |= RTC_C_IRQF
	return true
}

func (r *RTCDevice) alarmMatches() bool {
	t := r.clock()
	pairs := [][2]byte{
		{RTC_REG_ALARM_SECONDS, RTC_REG_SECONDS},
		{RTC_REG_ALARM_MINUTES, RTC_REG_MINUTES},
		{RTC_REG_ALARM_HOURS, RTC_REG_HOURS},
	}
	for _, p := range pairs {
		alarm := r.registers[p[0]]
		if alarm&RTC_ALARM_DONT_CARE == RTC_ALARM_DONT_CARE {
			continue
		}
		if alarm != r.timeField(p[1], t) {
			return false
		}
	}
	return true
}

// RTCState is a snapshot of the clock chip.
type RTCState struct {
	Index       byte
	NMIDisabled bool
	Offset      time.Duration
	CMOS        [128]byte
}

// State returns a copy of the CMOS RAM and index register.
func (r *RTCDevice) State() RTCState {
	r.lock.Lock()
	defer r.lock.Unlock()
	return RTCState{
		Index:       r.currentRegisterIndex,
		NMIDisabled: r.nmiDisabled,
		Offset:      r.offset,
		CMOS:        r.registers,
	}
}

// Ports returns the index and data ports.
func (r *RTCDevice) Ports() []uint16 {
	return []uint16{RTC_PORT_INDEX, RTC_PORT_DATA}
}
