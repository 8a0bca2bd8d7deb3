// Package link implements the host⇄device serial transport carrying
// iso14b_raw_cmd frames. The port is opened directly with
// golang.org/x/sys/unix rather than github.com/tarm/serial, because
// tarm/serial's Port keeps its file descriptor unexported, which leaves no
// way to force raw termios settings on the fd it hands back; this package
// opens the device node itself and drives termios directly, the same
// ioctl(TCSETS) sequence a Raspberry Pi platform file would apply to its
// own serial link.
package link

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Link is a framed connection to the device.
type Link struct {
	port io.ReadWriteCloser
}

// Open opens portName and puts its file descriptor into raw mode (no echo,
// no line discipline, 8N1) at baud.
func Open(portName string, baud int) (*Link, error) {
	f, err := os.OpenFile(portName, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("link: open: %w", err)
	}
	if err := setRaw(f, baud); err != nil {
		f.Close()
		return nil, fmt.Errorf("link: raw mode: %w", err)
	}
	return &Link{port: f}, nil
}

// baudConst maps a bits-per-second rate to the termios speed constant
// ioctl(TCSETS) expects packed into Cflag's CBAUD bits.
func baudConst(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("link: unsupported baud rate %d", baud)
	}
}

// setRaw forces 8N1 raw mode at baud via ioctl(TCSETS) before treating the
// serial fd as a raw byte pipe.
func setRaw(f *os.File, baud int) error {
	speed, err := baudConst(baud)
	if err != nil {
		return err
	}
	fd := f.Fd()
	t := unix.Termios{
		Iflag: unix.IGNPAR,
		Cflag: unix.CREAD | unix.CLOCAL | unix.CS8 | speed,
	}
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	_, _, errno := unix.Syscall6(unix.SYS_IOCTL, fd, uintptr(unix.TCSETS), uintptr(unsafe.Pointer(&t)), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Close closes the underlying port.
func (l *Link) Close() error { return l.port.Close() }

// Frame is the wire encoding of iso14b_raw_cmd: a flags word, a timeout in
// milliseconds, and a length-prefixed raw payload.
type Frame struct {
	Flags     uint32
	TimeoutMS uint32
	Raw       []byte
}

// WriteFrame sends one Frame, little-endian length-prefixed.
func (l *Link) WriteFrame(f Frame) error {
	buf := make([]byte, 0, 10+len(f.Raw))
	buf = binary.LittleEndian.AppendUint32(buf, f.Flags)
	buf = binary.LittleEndian.AppendUint32(buf, f.TimeoutMS)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Raw)))
	buf = append(buf, f.Raw...)
	if _, err := l.port.Write(buf); err != nil {
		return fmt.Errorf("link: write frame: %w", err)
	}
	return nil
}

// ReadFrame receives one Frame.
func (l *Link) ReadFrame() (Frame, error) {
	var hdr [10]byte
	if _, err := io.ReadFull(l.port, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("link: read header: %w", err)
	}
	f := Frame{
		Flags:     binary.LittleEndian.Uint32(hdr[0:4]),
		TimeoutMS: binary.LittleEndian.Uint32(hdr[4:8]),
	}
	n := binary.LittleEndian.Uint16(hdr[8:10])
	f.Raw = make([]byte, n)
	if _, err := io.ReadFull(l.port, f.Raw); err != nil {
		return Frame{}, fmt.Errorf("link: read payload: %w", err)
	}
	return f, nil
}
