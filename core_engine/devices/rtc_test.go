package devices_test

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/matryer/is"

	"github.com/bramfoo/dioscuri-sub007/core_engine/devices"
)

// Saturday afternoon
var rtcTestTime = time.Date(2024, time.March, 9, 14, 5, 7, 0, time.UTC)

func newRTC() (*devices.RTCDevice, *MockInterruptRaiser) {
	irq := &MockInterruptRaiser{}
	rtc := devices.NewRTCDevice(irq, quietLogger())
	rtc.SetClock(func() time.Time { return rtcTestTime })
	return rtc, irq
}

func readCMOS(t *testing.T, rtc *devices.RTCDevice, index byte) byte {
	t.Helper()
	writePort(t, rtc, 0x70, index)
	return readPort(t, rtc, 0x71)
}

func writeCMOS(t *testing.T, rtc *devices.RTCDevice, index, val byte) {
	t.Helper()
	writePort(t, rtc, 0x70, index)
	writePort(t, rtc, 0x71, val)
}

func TestRTCTimeRegistersBCD(t *testing.T) {
	rtc, _ := newRTC()
	tests := []struct {
		index byte
		want  byte
	}{
		{devices.RTC_REG_SECONDS, 0x07},
		{devices.RTC_REG_MINUTES, 0x05},
		{devices.RTC_REG_HOURS, 0x14},
		{devices.RTC_REG_DAY_OF_WEEK, 0x07},
		{devices.RTC_REG_DAY_OF_MONTH, 0x09},
		{devices.RTC_REG_MONTH, 0x03},
		{devices.RTC_REG_YEAR, 0x24},
		{devices.RTC_REG_CENTURY, 0x20},
	}
	for _, tt := range tests {
		is := is.New(t)
		is.Equal(readCMOS(t, rtc, tt.index), tt.want)
	}
}

func TestRTCBinaryTwelveHour(t *testing.T) {
	is := is.New(t)
	rtc, _ := newRTC()

	writeCMOS(t, rtc, devices.RTC_REG_B, devices.RTC_B_DM)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_HOURS), byte(0x82)) // 2 PM
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_DAY_OF_MONTH), byte(9))
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_YEAR), byte(24))
}

func TestRTCSetCycle(t *testing.T) {
	is := is.New(t)
	rtc, _ := newRTC()

	writeCMOS(t, rtc, devices.RTC_REG_B, devices.RTC_B_SET|devices.RTC_B_2412)
	writeCMOS(t, rtc, devices.RTC_REG_HOURS, 0x10)
	writeCMOS(t, rtc, devices.RTC_REG_MINUTES, 0x30)
	// frozen while SET is held
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_HOURS), byte(0x10))
	writeCMOS(t, rtc, devices.RTC_REG_B, devices.RTC_B_2412)

	is.Equal(readCMOS(t, rtc, devices.RTC_REG_HOURS), byte(0x10))
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_MINUTES), byte(0x30))
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_SECONDS), byte(0x07))
	is.Equal(rtc.State().Offset, -(3*time.Hour + 35*time.Minute))

	// a single field outside a SET cycle moves the clock too
	writeCMOS(t, rtc, devices.RTC_REG_YEAR, 0x25)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_YEAR), byte(0x25))
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_HOURS), byte(0x10))
}

func TestRTCPeriodicInterrupt(t *testing.T) {
	is := is.New(t)
	rtc, irq := newRTC()

	writeCMOS(t, rtc, devices.RTC_REG_B, devices.RTC_B_PIE|devices.RTC_B_2412)
	rtc.Update(500)
	is.Equal(len(irq.GetRaisedIRQs()), 0)
	rtc.Update(500) // 1024Hz rate, 976us
	is.Equal(irq.GetRaisedIRQs(), []uint8{devices.RTC_IRQ})

	// no new edge until register C is read
	rtc.Update(1000)
	is.Equal(len(irq.GetRaisedIRQs()), 1)

	writePort(t, rtc, 0x70, devices.RTC_REG_C)
	is.Equal(readPort(t, rtc, 0x71), devices.RTC_C_IRQF|devices.RTC_C_PF)
	is.Equal(irq.GetLoweredIRQs(), []uint8{devices.RTC_IRQ})
	is.Equal(readPort(t, rtc, 0x71), byte(0))

	rtc.Update(1000)
	is.Equal(len(irq.GetRaisedIRQs()), 2)
}

func TestRTCPeriodicRateOff(t *testing.T) {
	is := is.New(t)
	rtc, irq := newRTC()

	writeCMOS(t, rtc, devices.RTC_REG_A, 0x20)
	writeCMOS(t, rtc, devices.RTC_REG_B, devices.RTC_B_PIE|devices.RTC_B_2412)
	rtc.Update(100000)
	is.Equal(len(irq.GetRaisedIRQs()), 0)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_C), byte(0))
}

func TestRTCUpdateEndedAndAlarm(t *testing.T) {
	is := is.New(t)
	rtc, irq := newRTC()

	writeCMOS(t, rtc, devices.RTC_REG_A, 0x20) // periodic off
	writeCMOS(t, rtc, devices.RTC_REG_ALARM_SECONDS, devices.RTC_ALARM_DONT_CARE)
	writeCMOS(t, rtc, devices.RTC_REG_ALARM_MINUTES, 0x05)
	writeCMOS(t, rtc, devices.RTC_REG_ALARM_HOURS, 0x14)
	writeCMOS(t, rtc, devices.RTC_REG_B, devices.RTC_B_AIE|devices.RTC_B_UIE|devices.RTC_B_2412)

	rtc.Update(999999)
	is.Equal(len(irq.GetRaisedIRQs()), 0)
	rtc.Update(1)
	is.Equal(irq.GetRaisedIRQs(), []uint8{devices.RTC_IRQ})
	c := readCMOS(t, rtc, devices.RTC_REG_C)
	is.Equal(c, devices.RTC_C_IRQF|devices.RTC_C_AF|devices.RTC_C_UF)

	// alarm one minute off: only the update flag
	writeCMOS(t, rtc, devices.RTC_REG_ALARM_MINUTES, 0x06)
	rtc.Update(1000000)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_C), devices.RTC_C_IRQF|devices.RTC_C_UF)
}

func TestRTCStatusRegisters(t *testing.T) {
	is := is.New(t)
	rtc, _ := newRTC()

	is.Equal(readCMOS(t, rtc, devices.RTC_REG_A), byte(0x26))
	writeCMOS(t, rtc, devices.RTC_REG_A, 0xA6)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_A), byte(0x26)) // UIP is read-only

	writeCMOS(t, rtc, devices.RTC_REG_D, 0x00)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_D), devices.RTC_D_VRT)
	writeCMOS(t, rtc, devices.RTC_REG_C, 0xFF)
	is.Equal(readCMOS(t, rtc, devices.RTC_REG_C), byte(0))
}

func TestRTCCMOSMemory(t *testing.T) {
	is := is.New(t)
	rtc, _ := newRTC()

	writeCMOS(t, rtc, 0x40, 0x5A)
	is.Equal(readCMOS(t, rtc, 0x40), byte(0x5A))

	writePort(t, rtc, 0x70, 0x80|0x40) // NMI off
	st := rtc.State()
	is.True(st.NMIDisabled)
	is.Equal(st.Index, byte(0x40))
	is.Equal(readPort(t, rtc, 0x71), byte(0x5A))

	rtc.SetMemorySize(32 * 1024)
	st = rtc.State()
	if st.CMOS[devices.CMOS_BASE_MEMORY_LOW] != 0x80 {
		t.Log(spew.Sdump(st.CMOS))
	}
	is.Equal(st.CMOS[devices.CMOS_BASE_MEMORY_LOW], byte(0x80))
	is.Equal(st.CMOS[devices.CMOS_BASE_MEMORY_HIGH], byte(0x02))
	is.Equal(st.CMOS[devices.CMOS_EXT_MEMORY_LOW], byte(0x00))
	is.Equal(st.CMOS[devices.CMOS_EXT_MEMORY_HIGH], byte(0x7C))
	is.Equal(st.CMOS[devices.CMOS_EXT16_MEMORY_HIGH], byte(0x01))

	var sum uint16
	for i := devices.CMOS_CHECKSUM_FIRST; i <= devices.CMOS_CHECKSUM_LAST; i++ {
		sum += uint16(st.CMOS[i])
	}
	is.Equal(st.CMOS[devices.CMOS_CHECKSUM_HIGH], byte(sum>>8))
	is.Equal(st.CMOS[devices.CMOS_CHECKSUM_LOW], byte(sum))
}
