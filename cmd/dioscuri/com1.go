package main

import (
	"io"
	"log/slog"

	"github.com/jacobsa/go-serial/serial"
)

func openCOM1(name string, baud uint) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:        name,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	return serial.Open(options)
}

// pumpCOM1 copies bytes arriving on the host device into the guest UART
// until the device is closed.
func pumpCOM1(port io.Reader, receive func([]byte), logger *slog.Logger) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			receive(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("COM1 host device closed", slog.Any("err", err))
			}
			return
		}
	}
}
