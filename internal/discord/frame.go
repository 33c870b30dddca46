package discord

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode is the frame type in the IPC wire format.
type Opcode uint32

const (
	OpHandshake Opcode = iota
	OpFrame
	OpClose
	OpPing
	OpPong
)

func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "HANDSHAKE"
	case OpFrame:
		return "FRAME"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("OP(%d)", uint32(o))
	}
}

const (
	headerSize   = 8
	maxFrameSize = 1 << 20
)

// writeFrame writes one frame: little-endian opcode, length, then body.
func writeFrame(w io.Writer, op Opcode, body []byte) error {
	buf := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[headerSize:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write %s frame: %w", op, err)
	}
	return nil
}

// readFrame reads one frame.
func readFrame(r io.Reader) (Opcode, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	op := Opcode(binary.LittleEndian.Uint32(header[0:4]))
	n := binary.LittleEndian.Uint32(header[4:8])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read %s body: %w", op, err)
	}
	return op, body, nil
}
