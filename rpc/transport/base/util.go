package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// requestID (uint64) + payload length (uint32), both big endian
	frameHeaderSize = 12

	// maxFrameSize bounds a single payload. A larger length prefix means the
	// stream is out of sync and the connection is dropped.
	maxFrameSize = 64 << 20
)

// ErrFrameTooLarge is returned when a peer announces a payload above maxFrameSize
type ErrFrameTooLarge struct {
	Size uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame of %d bytes exceeds limit of %d bytes", e.Size, maxFrameSize)
}

// writeFrame sends header and payload with a single vectored write
func writeFrame(conn net.Conn, requestID uint64, data []byte) error {
	if len(data) > maxFrameSize {
		return &ErrFrameTooLarge{Size: uint32(len(data))}
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[:8], requestID)
	binary.BigEndian.PutUint32(header[8:], uint32(len(data)))

	bufs := net.Buffers{header[:], data}
	_, err := bufs.WriteTo(conn)
	return err
}

// readFrame reads the next frame. The payload is read into buf when it fits,
// so it is only valid until the next call with the same buffer.
func readFrame(conn net.Conn, buf []byte) (uint64, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, nil, err
	}

	requestID := binary.BigEndian.Uint64(header[:8])
	size := binary.BigEndian.Uint32(header[8:])
	switch {
	case size == 0:
		return requestID, []byte{}, nil
	case size > maxFrameSize:
		return 0, nil, &ErrFrameTooLarge{Size: size}
	}

	if cap(buf) < int(size) {
		buf = make([]byte, size)
	}
	payload := buf[:size]
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, err
	}
	return requestID, payload, nil
}
