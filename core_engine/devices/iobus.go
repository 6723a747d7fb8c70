package devices

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// IOBus manages port I/O access to registered devices.
type IOBus struct {
	lock   sync.RWMutex
	ports  map[uint16]PioDevice // Maps a port number to a device
	logger *slog.Logger
}

// NewIOBus creates and initializes a new IOBus.
func NewIOBus(logger *slog.Logger) *IOBus {
	return &IOBus{
		ports:  make(map[uint16]PioDevice),
		logger: loggerOrDefault(logger, "iobus"),
	}
}

// RegisterDevice registers a device to handle I/O for a range of ports.
// A port already owned by another device is rejected and keeps its owner;
// registering the same device again is a no-op.
func (bus *IOBus) RegisterDevice(startPort, endPort uint16, device PioDevice) error {
	if device == nil {
		return fmt.Errorf("IOBus: nil device for ports %s-%s", hex16(startPort), hex16(endPort))
	}
	bus.lock.Lock()
	defer bus.lock.Unlock()

	// Check the whole range first so a failed registration leaves no partial mapping.
	for port := int(startPort); port <= int(endPort); port++ {
		if existing, ok := bus.ports[uint16(port)]; ok && existing != device {
			bus.logger.Error("port collision",
				slog.String("port", hex16(uint16(port))),
				slog.String("owner", fmt.Sprintf("%T", existing)),
				slog.String("requester", fmt.Sprintf("%T", device)))
			return fmt.Errorf("IOBus: port %s: %w", hex16(uint16(port)), ErrPortInUse)
		}
	}
	for port := int(startPort); port <= int(endPort); port++ {
		bus.ports[uint16(port)] = device
	}
	return nil
}

// RegisterPorts registers a device on a scattered set of ports.
func (bus *IOBus) RegisterPorts(device PioDevice, ports ...uint16) error {
	for _, port := range ports {
		if err := bus.RegisterDevice(port, port, device); err != nil {
			return err
		}
	}
	return nil
}

// Release drops every port owned by device.
func (bus *IOBus) Release(device PioDevice) {
	bus.lock.Lock()
	defer bus.lock.Unlock()
	for port, owner := range bus.ports {
		if owner == device {
			delete(bus.ports, port)
		}
	}
}

// Owner returns the device registered on port.
func (bus *IOBus) Owner(port uint16) (PioDevice, bool) {
	bus.lock.RLock()
	defer bus.lock.RUnlock()
	device, ok := bus.ports[port]
	return device, ok
}

// HandleIO routes an I/O operation to the appropriate registered device.
func (bus *IOBus) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	bus.lock.RLock()
	device, ok := bus.ports[port]
	bus.lock.RUnlock()
	if !ok {
		return fmt.Errorf("IOBus: port %s: %w", hex16(port), ErrUnknownPort)
	}
	return device.HandleIO(port, direction, size, data)
}

// InByte reads one byte from port.
func (bus *IOBus) InByte(port uint16) (byte, error) {
	var data [1]byte
	err := bus.HandleIO(port, IODirectionIn, 1, data[:])
	return data[0], err
}

// OutByte writes one byte to port.
func (bus *IOBus) OutByte(port uint16, value byte) error {
	return bus.HandleIO(port, IODirectionOut, 1, []byte{value})
}

// InWord reads a little-endian word from port.
func (bus *IOBus) InWord(port uint16) (uint16, error) {
	var data [2]byte
	err := bus.HandleIO(port, IODirectionIn, 2, data[:])
	return binary.LittleEndian.Uint16(data[:]), err
}

// OutWord writes a little-endian word to port.
func (bus *IOBus) OutWord(port uint16, value uint16) error {
	var data [2]byte
	binary.LittleEndian.PutUint16(data[:], value)
	return bus.HandleIO(port, IODirectionOut, 2, data[:])
}

// InDWord reads a little-endian doubleword from port.
func (bus *IOBus) InDWord(port uint16) (uint32, error) {
	var data [4]byte
	err := bus.HandleIO(port, IODirectionIn, 4, data[:])
	return binary.LittleEndian.Uint32(data[:]), err
}

// OutDWord writes a little-endian doubleword to port.
func (bus *IOBus) OutDWord(port uint16, value uint32) error {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], value)
	return bus.HandleIO(port, IODirectionOut, 4, data[:])
}
