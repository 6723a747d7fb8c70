package core_engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const a20Bit = 1 << 20

// Memory is guest RAM backed by an anonymous mapping. With the A20 gate
// closed, address bit 20 is forced low and accesses wrap at 1MB.
type Memory struct {
	data   []byte
	a20    atomic.Bool
	logger *slog.Logger
}

// NewMemory maps size bytes of zeroed guest RAM.
func NewMemory(size uint64, logger *slog.Logger) (*Memory, error) {
	if size == 0 || size > 1<<32 {
		return nil, fmt.Errorf("memory size %d out of range", size)
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap guest memory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{data: data, logger: logger.With(slog.String("device", "memory"))}, nil
}

// Close unmaps guest RAM. The Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Size returns the RAM size in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// SetA20 opens or closes the A20 gate.
func (m *Memory) SetA20(enabled bool) {
	if m.a20.Swap(enabled) != enabled {
		m.logger.Debug("A20 gate changed", slog.Bool("enabled", enabled))
	}
}

// A20 reports whether the A20 gate is open.
func (m *Memory) A20() bool {
	return m.a20.Load()
}

func (m *Memory) physical(addr uint32) uint32 {
	if !m.a20.Load() {
		addr &^= a20Bit
	}
	return addr
}

// GetByte reads one byte. Reads beyond RAM see an open bus (0xFF).
func (m *Memory) GetByte(addr uint32) byte {
	p := m.physical(addr)
	if uint64(p) >= uint64(len(m.data)) {
		m.logger.Debug("read beyond RAM", slog.String("addr", fmt.Sprintf("0x%08X", p)))
		return 0xFF
	}
	return m.data[p]
}

// SetByte writes one byte. Writes beyond RAM are dropped.
func (m *Memory) SetByte(addr uint32, value byte) {
	p := m.physical(addr)
	if uint64(p) >= uint64(len(m.data)) {
		m.logger.Debug("write beyond RAM", slog.String("addr", fmt.Sprintf("0x%08X", p)))
		return
	}
	m.data[p] = value
}

// GetWord reads a little-endian word. Each byte goes through the A20 gate on its own.
func (m *Memory) GetWord(addr uint32) uint16 {
	return uint16(m.GetByte(addr)) | uint16(m.GetByte(addr+1))<<8
}

// SetWord writes a little-endian word.
func (m *Memory) SetWord(addr uint32, value uint16) {
	m.SetByte(addr, byte(value))
	m.SetByte(addr+1, byte(value>>8))
}

// Load copies an image into RAM at a physical address, ignoring the A20 gate.
func (m *Memory) Load(addr uint32, image []byte) error {
	if uint64(addr)+uint64(len(image)) > uint64(len(m.data)) {
		return fmt.Errorf("image of %d bytes at 0x%X does not fit in %d bytes of RAM", len(image), addr, len(m.data))
	}
	copy(m.data[addr:], image)
	return nil
}
