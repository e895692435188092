package pvwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// lastFragment marks the final (and, for pvwire, only) fragment of a message.
const lastFragment = 0x80000000

// ErrFrameTooLarge is returned when a peer announces a frame above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// FrameHeader is the 4-byte record mark preceding every body.
//
// Bit 31 is the last-fragment flag, bits 0-30 the body length, exactly as in
// ONC RPC record marking.
type FrameHeader struct {
	IsLast bool
	Length uint32
}

// ReadFrameHeader reads and validates a record mark.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FrameHeader{}, err
	}

	mark := binary.BigEndian.Uint32(buf[:])
	h := FrameHeader{
		IsLast: mark&lastFragment != 0,
		Length: mark &^ lastFragment,
	}

	if h.Length > MaxFrameSize {
		return h, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Length)
	}
	if !h.IsLast {
		return h, fmt.Errorf("multi-fragment messages are not supported")
	}

	return h, nil
}

// ReadFrame reads one complete frame body.
func ReadFrame(r io.Reader) ([]byte, error) {
	h, err := ReadFrameHeader(r)
	if err != nil {
		return nil, err
	}

	body := make([]byte, h.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// AppendFrame prefixes body with its record mark.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, lastFragment|uint32(len(body)))
	return append(dst, body...)
}

// WriteFrame writes body as a single frame with one Write call.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := AppendFrame(make([]byte, 0, 4+len(body)), body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
