package devices

// RTC Constants
const (
	RTC_PORT_INDEX uint16 = 0x70 // RTC Index/Address Register, bit 7 disables NMI
	RTC_PORT_DATA  uint16 = 0x71 // RTC Data Register

	RTC_REG_SECONDS       byte = 0x00
	RTC_REG_ALARM_SECONDS byte = 0x01
	RTC_REG_MINUTES       byte = 0x02
	RTC_REG_ALARM_MINUTES byte = 0x03
	RTC_REG_HOURS         byte = 0x04
	RTC_REG_ALARM_HOURS   byte = 0x05
	RTC_REG_DAY_OF_WEEK   byte = 0x06
	RTC_REG_DAY_OF_MONTH  byte = 0x07
	RTC_REG_MONTH         byte = 0x08
	RTC_REG_YEAR          byte = 0x09

	RTC_REG_A byte = 0x0A // Status Register A
	RTC_REG_B byte = 0x0B // Status Register B
	RTC_REG_C byte = 0x0C // Status Register C
	RTC_REG_D byte = 0x0D // Status Register D

	RTC_REG_CENTURY byte = 0x32 // IBM PC/AT century byte

	// RTC_REG_A bits
	RTC_A_UIP       byte = 0x80 // Update In Progress (Read-Only)
	RTC_A_RATE_MASK byte = 0x0F // RS3-RS0, periodic interrupt rate

	// RTC_REG_B bits
	RTC_B_SET  byte = 0x80 // SET bit, inhibits the update cycle while the guest sets the time
	RTC_B_PIE  byte = 0x40 // Periodic Interrupt Enable
	RTC_B_AIE  byte = 0x20 // Alarm Interrupt Enable
	RTC_B_UIE  byte = 0x10 // Update Ended Interrupt Enable
	RTC_B_SQWE byte = 0x08 // Square Wave Enable
	RTC_B_DM   byte = 0x04 // Data Mode (0=BCD, 1=Binary)
	RTC_B_2412 byte = 0x02 // 24/12 Hour Mode (0=12hr, 1=24hr)
	RTC_B_DSE  byte = 0x01 // Daylight Savings Enable

	// RTC_REG_C bits (read to clear)
	RTC_C_IRQF byte = 0x80 // Interrupt Request Flag (any of PF, AF, UF is 1)
	RTC_C_PF   byte = 0x40 // Periodic Interrupt Flag
	RTC_C_AF   byte = 0x20 // Alarm Interrupt Flag
	RTC_C_UF   byte = 0x10 // Update Ended Interrupt Flag

	// RTC_REG_D bits
	RTC_D_VRT byte = 0x80 // Valid RAM and Time (Read-Only, should be 1 if battery good)

	// Alarm registers match any value when the top two bits are set.
	RTC_ALARM_DONT_CARE byte = 0xC0
)

// CMOS configuration bytes
const (
	CMOS_BASE_MEMORY_LOW   byte = 0x15
	CMOS_BASE_MEMORY_HIGH  byte = 0x16
	CMOS_EXT_MEMORY_LOW    byte = 0x17
	CMOS_EXT_MEMORY_HIGH   byte = 0x18
	CMOS_CHECKSUM_HIGH     byte = 0x2E
	CMOS_CHECKSUM_LOW      byte = 0x2F
	CMOS_EXT_MEMORY_LOW2   byte = 0x30
	CMOS_EXT_MEMORY_HIGH2  byte = 0x31
	CMOS_CHECKSUM_FIRST    byte = 0x10
	CMOS_CHECKSUM_LAST     byte = 0x2D
	CMOS_EXT16_MEMORY_LOW  byte = 0x34 // memory above 16MB in 64KB blocks
	CMOS_EXT16_MEMORY_HIGH byte = 0x35
)
