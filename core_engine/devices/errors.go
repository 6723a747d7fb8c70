package devices

import "errors"

var (
	// ErrUnknownPort is returned for accesses to a port a device does not decode.
	ErrUnknownPort = errors.New("unknown port")
	// ErrWriteOnlyPort is returned when the guest reads a port that only accepts writes.
	ErrWriteOnlyPort = errors.New("read from write-only port")
	// ErrPortInUse is returned when a port already has an owner.
	ErrPortInUse = errors.New("port already registered")

	ErrInvalidChannel = errors.New("invalid DMA channel")
	ErrChannelInUse   = errors.New("DMA channel already registered")

	// ErrIRQUnsupported is returned for device identities without a fixed IRQ.
	// Dynamic allocation of free lines is not implemented.
	ErrIRQUnsupported = errors.New("no fixed IRQ for device, free IRQ allocation unsupported")
	ErrInvalidIRQ     = errors.New("invalid IRQ line")
)
