package devices

import (
	"fmt"
	"log/slog"
)

// DMAHandler is what a device hands to the DMA pair for one channel. Write
// callbacks produce data for memory (device to memory transfers), Read
// callbacks consume data fetched from memory. Channels 0-3 use the 8-bit
// callbacks, channels 5-7 the 16-bit ones.
type DMAHandler struct {
	Name    string
	Read8   func(data byte)
	Write8  func() byte
	Read16  func(data uint16)
	Write16 func() uint16
}

type dmaMode struct {
	modeType     uint8
	decrement    bool
	autoInit     bool
	transferType uint8
}

type dmaChannel struct {
	mode           dmaMode
	baseAddress    uint16
	currentAddress uint16
	baseCount      uint16
	currentCount   uint16
	page           byte
	drq            bool
	dack           bool
	handler        *DMAHandler
}

// dmaController is a single 8237. index 0 is the 8-bit controller
// (channels 0-3), index 1 the 16-bit controller (channels 4-7).
type dmaController struct {
	index    int
	mask     [4]bool
	flipflop bool
	status   byte // bits 0-3 terminal count, bits 4-7 request
	command  byte
	disabled bool
	channels [4]dmaChannel
}

// DMADevice emulates the cascaded 8237 pair of a PC/AT. It is driven from the
// emulation goroutine only; transfer callbacks may call SetDMARequest.
type DMADevice struct {
	controllers [2]dmaController
	extraPages  [16]byte
	hlda        bool
	tc          bool

	cpu    CPU
	memory MemoryBus
	logger *slog.Logger
}

// NewDMADevice creates the DMA pair and binds the cascade channel.
func NewDMADevice(cpu CPU, memory MemoryBus, logger *slog.Logger) *DMADevice {
	d := &DMADevice{
		cpu:    cpu,
		memory: memory,
		logger: loggerOrDefault(logger, "dma"),
	}
	d.controllers[0].index = 0
	d.controllers[1].index = 1
	d.controllers[1].channels[0].handler = &DMAHandler{Name: "cascade"}
	d.Reset()
	return d
}

// Reset performs a master clear on both controllers. Channel bindings survive.
func (d *DMADevice) Reset() {
	for i := range d.controllers {
		d.resetController(&d.controllers[i])
	}
	d.hlda = false
	d.tc = false
}

func (d *DMADevice) resetController(c *dmaController) {
	for i := range c.mask {
		c.mask[i] = true
	}
	c.disabled = false
	c.command = 0
	c.status = 0
	c.flipflop = false
}

// RegisterDMAChannel binds a device handler to channel 0-7. Channel 4 is the
// cascade link and cannot be taken.
func (d *DMADevice) RegisterDMAChannel(channel uint8, handler *DMAHandler) error {
	if channel > 7 || channel == DMA_CASCADE_CHANNEL {
		return fmt.Errorf("DMADevice: channel %d: %w", channel, ErrInvalidChannel)
	}
	if handler == nil {
		return fmt.Errorf("DMADevice: channel %d: nil handler", channel)
	}
	ch := d.channel(channel)
	if ch.handler != nil {
		d.logger.Error("channel already in use",
			slog.Int("channel", int(channel)), slog.String("owner", ch.handler.Name))
		return fmt.Errorf("DMADevice: channel %d owned by %s: %w", channel, ch.handler.Name, ErrChannelInUse)
	}
	ch.handler = handler
	d.logger.Debug("channel registered", slog.Int("channel", int(channel)), slog.String("owner", handler.Name))
	return nil
}

// ReleaseDMAChannel unbinds a device from its channel.
func (d *DMADevice) ReleaseDMAChannel(channel uint8) {
	if channel > 7 || channel == DMA_CASCADE_CHANNEL {
		return
	}
	d.channel(channel).handler = nil
}

func (d *DMADevice) channel(channel uint8) *dmaChannel {
	return &d.controllers[channel>>2].channels[channel&3]
}

// HandleIO processes guest accesses to the DMA registers and page registers.
func (d *DMADevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	if size != 1 {
		wideAccess(d.logger, port, direction, size, data)
		return nil
	}
	if direction == IODirectionIn {
		val, err := d.read(port)
		if err != nil {
			return err
		}
		data[0] = val
		return nil
	}
	return d.write(port, data[0])
}

// decode maps a port to a controller and the register offset 0x0-0xF.
func (d *DMADevice) decode(port uint16) (*dmaController, byte, bool) {
	switch {
	case port <= DMA_MASTER_LAST_PORT:
		return &d.controllers[0], byte(port), true
	case port >= DMA_SLAVE_BASE_PORT && port <= DMA_SLAVE_LAST_PORT && port&1 == 0:
		return &d.controllers[1], byte((port - DMA_SLAVE_BASE_PORT) >> 1), true
	}
	return nil, 0, false
}

func (d *DMADevice) read(port uint16) (byte, error) {
	if port >= DMA_PAGE_BASE_PORT && port <= DMA_PAGE_LAST_PORT {
		if channel, ok := dmaPageChannel[port]; ok {
			return d.channel(channel).page, nil
		}
		return d.extraPages[port&0x0F], nil
	}

	c, reg, ok := d.decode(port)
	if !ok {
		return 0xFF, fmt.Errorf("DMADevice: read port %s: %w", hex16(port), ErrUnknownPort)
	}

	if reg < DMA_REG_STATUS_COMMAND {
		ch := &c.channels[reg>>1]
		val := ch.currentAddress
		if reg&1 == 1 {
			val = ch.currentCount
		}
		c.flipflop = !c.flipflop
		if c.flipflop {
			return byte(val), nil
		}
		return byte(val >> 8), nil
	}

	switch reg {
	case DMA_REG_STATUS_COMMAND:
		val := c.status
		c.status &= 0xF0
		return val, nil
	case DMA_REG_MASTER_CLEAR:
		d.logger.Debug("read of temporary register returns 0", slog.Int("controller", c.index))
		return 0, nil
	case DMA_REG_ALL_MASK:
		var val byte
		for i, masked := range c.mask {
			val |= boolBit(masked) << i
		}
		return 0xF0 | val, nil
	}

	d.logger.Warn("read from write-only register", slog.String("port", hex16(port)))
	return 0xFF, fmt.Errorf("DMADevice: read port %s: %w", hex16(port), ErrWriteOnlyPort)
}

func (d *DMADevice) write(port uint16, val byte) error {
	if port >= DMA_PAGE_BASE_PORT && port <= DMA_PAGE_LAST_PORT {
		d.extraPages[port&0x0F] = val
		if channel, ok := dmaPageChannel[port]; ok {
			d.channel(channel).page = val
		}
		return nil
	}

	c, reg, ok := d.decode(port)
	if !ok {
		return fmt.Errorf("DMADevice: write port %s: %w", hex16(port), ErrUnknownPort)
	}

	if reg < DMA_REG_STATUS_COMMAND {
		ch := &c.channels[reg>>1]
		base, current := &ch.baseAddress, &ch.currentAddress
		if reg&1 == 1 {
			base, current = &ch.baseCount, &ch.currentCount
		}
		if !c.flipflop {
			*base = (*base & 0xFF00) | uint16(val)
		} else {
			*base = (*base & 0x00FF) | uint16(val)<<8
		}
		*current = *base
		c.flipflop = !c.flipflop
		return nil
	}

	switch reg {
	case DMA_REG_STATUS_COMMAND:
		if val&^DMA_CMD_DISABLE != 0 {
			d.logger.Error("command register value not supported",
				slog.Int("controller", c.index), slog.String("value", hex8(val)))
		}
		c.command = val
		c.disabled = val&DMA_CMD_DISABLE != 0
		d.controlHRQ(c)
	case DMA_REG_REQUEST:
		channel := val & 0x03
		if val&0x04 != 0 {
			c.status |= 1 << (channel + 4)
			d.logger.Info("software DRQ", slog.Int("controller", c.index), slog.Int("channel", int(channel)))
		} else {
			c.status &^= 1 << (channel + 4)
		}
		d.controlHRQ(c)
	case DMA_REG_SINGLE_MASK:
		c.mask[val&0x03] = val&0x04 != 0
		d.controlHRQ(c)
	case DMA_REG_MODE:
		ch := &c.channels[val&0x03]
		ch.mode = dmaMode{
			modeType:     (val >> 6) & 0x03,
			decrement:    (val>>5)&0x01 != 0,
			autoInit:     (val>>4)&0x01 != 0,
			transferType: (val >> 2) & 0x03,
		}
		d.logger.Debug("mode set",
			slog.Int("controller", c.index), slog.Int("channel", int(val&0x03)),
			slog.Int("mode", int(ch.mode.modeType)), slog.Int("transfer", int(ch.mode.transferType)))
	case DMA_REG_CLEAR_FLIPFLOP:
		c.flipflop = false
	case DMA_REG_MASTER_CLEAR:
		d.resetController(c)
	case DMA_REG_CLEAR_MASK:
		for i := range c.mask {
			c.mask[i] = false
		}
		d.controlHRQ(c)
	case DMA_REG_ALL_MASK:
		for i := range c.mask {
			c.mask[i] = val&(1<<i) != 0
		}
		d.controlHRQ(c)
	}
	return nil
}

// SetDMARequest raises or lowers the DRQ line of channel 0-7.
func (d *DMADevice) SetDMARequest(channel uint8, asserted bool) {
	if channel > 7 {
		d.logger.Error("DRQ on invalid channel", slog.Int("channel", int(channel)))
		return
	}
	c := &d.controllers[channel>>2]
	n := channel & 3
	ch := &c.channels[n]
	ch.drq = asserted
	if ch.handler == nil {
		d.logger.Error("DRQ on unconnected channel", slog.Int("channel", int(channel)))
	}

	if !asserted {
		c.status &^= 1 << (n + 4)
		d.controlHRQ(c)
		return
	}

	c.status |= 1 << (n + 4)

	switch ch.mode.modeType {
	case DMA_MODE_SINGLE, DMA_MODE_DEMAND, DMA_MODE_CASCADE:
	default:
		d.logger.Error("transfer mode not supported",
			slog.Int("channel", int(channel)), slog.Int("mode", int(ch.mode.modeType)))
	}
	if c.command&DMA_CMD_MEM_TO_MEM != 0 {
		d.logger.Error("memory to memory transfer not supported", slog.Int("channel", int(channel)))
	}

	shift := uint(c.index)
	floor := uint32(ch.page)<<16 | uint32(ch.baseAddress)<<shift
	roof := floor + uint32(ch.baseCount)<<shift
	if ch.mode.decrement {
		roof = floor - uint32(ch.baseCount)<<shift
	}
	boundary := uint32(0x7FFF0000) << shift
	if floor&boundary != roof&boundary {
		limit := "64k"
		if c.index == 1 {
			limit = "128k"
		}
		d.logger.Warn("request crosses "+limit+" boundary",
			slog.Int("channel", int(channel)),
			slog.String("floor", fmt.Sprintf("0x%08X", floor)),
			slog.String("roof", fmt.Sprintf("0x%08X", roof)))
	}

	d.controlHRQ(c)
}

// controlHRQ drives the controller's hold request output: the CPU HOLD pin
// for the 16-bit controller, DRQ4 for the 8-bit one.
func (d *DMADevice) controlHRQ(c *dmaController) {
	pending := false
	if !c.disabled {
		for n := 0; n < 4; n++ {
			if c.status&(1<<(n+4)) != 0 && !c.mask[n] {
				pending = true
				break
			}
		}
	}
	if c.index == 1 {
		if d.cpu != nil {
			d.cpu.SetHoldRequest(pending, d)
		}
		return
	}
	d.SetDMARequest(DMA_CASCADE_CHANNEL, pending)
}

func (c *dmaController) highestPending() (uint8, bool) {
	for n := uint8(0); n < 4; n++ {
		if c.status&(1<<(n+4)) != 0 && !c.mask[n] {
			return n, true
		}
	}
	return 0, false
}

// AcknowledgeBusHold is called by the CPU when it grants the bus. One unit
// (byte or word) is transferred for the highest priority channel.
func (d *DMADevice) AcknowledgeBusHold() {
	d.hlda = true

	c := &d.controllers[1]
	n, ok := c.highestPending()
	if ok && n == 0 {
		c.channels[0].dack = true
		c = &d.controllers[0]
		n, ok = c.highestPending()
	}
	if !ok {
		return
	}

	ch := &c.channels[n]
	shift := uint(c.index)
	addr := uint32(ch.page)<<16 | uint32(ch.currentAddress)<<shift
	ch.dack = true

	if ch.mode.decrement {
		ch.currentAddress--
	} else {
		ch.currentAddress++
	}
	ch.currentCount--

	expired := false
	if ch.currentCount == 0xFFFF {
		c.status |= 1 << n
		d.tc = true
		if ch.mode.autoInit {
			ch.currentAddress = ch.baseAddress
			ch.currentCount = ch.baseCount
		} else {
			c.mask[n] = true
		}
		expired = true
	}

	d.transfer(c, n, addr)

	if expired {
		d.tc = false
		d.hlda = false
		if d.cpu != nil {
			d.cpu.SetHoldRequest(false, d)
		}
		ch.dack = false
		if c.index == 0 {
			d.SetDMARequest(DMA_CASCADE_CHANNEL, false)
			d.controllers[1].channels[0].dack = false
		}
	}
}

func (d *DMADevice) transfer(c *dmaController, n uint8, addr uint32) {
	channel := uint8(c.index)<<2 | n
	h := c.channels[n].handler
	if h == nil {
		d.logger.Error("transfer on unconnected channel", slog.Int("channel", int(channel)))
		return
	}
	wide := c.index == 1

	switch c.channels[n].mode.transferType {
	case DMA_TRANSFER_WRITE:
		if wide {
			if h.Write16 == nil {
				d.missingHandler(channel, "Write16")
				return
			}
			d.memory.SetWord(addr, h.Write16())
			return
		}
		if h.Write8 == nil {
			d.missingHandler(channel, "Write8")
			return
		}
		d.memory.SetByte(addr, h.Write8())
	case DMA_TRANSFER_READ:
		if wide {
			if h.Read16 == nil {
				d.missingHandler(channel, "Read16")
				return
			}
			h.Read16(d.memory.GetWord(addr))
			return
		}
		if h.Read8 == nil {
			d.missingHandler(channel, "Read8")
			return
		}
		h.Read8(d.memory.GetByte(addr))
	case DMA_TRANSFER_VERIFY:
		// Verify cycles reach the device but never touch memory.
		if wide {
			if h.Write16 == nil {
				d.missingHandler(channel, "Write16")
				return
			}
			h.Write16()
			return
		}
		if h.Write8 == nil {
			d.missingHandler(channel, "Write8")
			return
		}
		h.Write8()
	default:
		d.logger.Error("undefined transfer type", slog.Int("channel", int(channel)))
	}
}

func (d *DMADevice) missingHandler(channel uint8, callback string) {
	d.logger.Error("no handler for transfer",
		slog.Int("channel", int(channel)), slog.String("callback", callback))
}

// DMAChannelState is a snapshot of one channel.
type DMAChannelState struct {
	Owner          string
	ModeType       uint8
	TransferType   uint8
	Decrement      bool
	AutoInit       bool
	BaseAddress    uint16
	CurrentAddress uint16
	BaseCount      uint16
	CurrentCount   uint16
	Page           byte
	DRQ            bool
	DACK           bool
}

// DMAControllerState is a snapshot of one 8237.
type DMAControllerState struct {
	Mask     byte
	Status   byte
	Command  byte
	FlipFlop bool
	Disabled bool
	Channels [4]DMAChannelState
}

// DMAState is a snapshot of the DMA pair.
type DMAState struct {
	Controllers [2]DMAControllerState
	ExtraPages  [16]byte
	HLDA        bool
}

// State returns a copy of the registers of both controllers.
func (d *DMADevice) State() DMAState {
	s := DMAState{ExtraPages: d.extraPages, HLDA: d.hlda}
	for i := range d.controllers {
		c := &d.controllers[i]
		cs := &s.Controllers[i]
		cs.Status = c.status
		cs.Command = c.command
		cs.FlipFlop = c.flipflop
		cs.Disabled = c.disabled
		for n := range c.channels {
			ch := &c.channels[n]
			cs.Mask |= boolBit(c.mask[n]) << n
			owner := ""
			if ch.handler != nil {
				owner = ch.handler.Name
			}
			cs.Channels[n] = DMAChannelState{
				Owner:          owner,
				ModeType:       ch.mode.modeType,
				TransferType:   ch.mode.transferType,
				Decrement:      ch.mode.decrement,
				AutoInit:       ch.mode.autoInit,
				BaseAddress:    ch.baseAddress,
				CurrentAddress: ch.currentAddress,
				BaseCount:      ch.baseCount,
				CurrentCount:   ch.currentCount,
				Page:           ch.page,
				DRQ:            ch.drq,
				DACK:           ch.dack,
			}
		}
	}
	return s
}

// Ports lists every I/O port the DMA pair decodes.
func (d *DMADevice) Ports() []uint16 {
	ports := make([]uint16, 0, 48)
	for p := DMA_MASTER_BASE_PORT; p <= DMA_MASTER_LAST_PORT; p++ {
		ports = append(ports, p)
	}
	for p := DMA_SLAVE_BASE_PORT; p <= DMA_SLAVE_LAST_PORT; p += 2 {
		ports = append(ports, p)
	}
	for p := DMA_PAGE_BASE_PORT; p <= DMA_PAGE_LAST_PORT; p++ {
		ports = append(ports, p)
	}
	return ports
}
