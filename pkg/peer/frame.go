package peer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds the size of a single framed message.
const MaxFrameSize = 4 << 20

// AppendFrame appends a length-prefixed frame carrying channel and data
// to buf. The varint prefix covers the channel byte and the data.
func AppendFrame(buf []byte, channel uint8, data []byte) ([]byte, error) {
	size := len(data) + 1
	if size > MaxFrameSize {
		return buf, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf = protowire.AppendVarint(buf, uint64(size))
	buf = append(buf, channel)
	return append(buf, data...), nil
}

// ReadFrame reads one frame written by AppendFrame.
func ReadFrame(r *bufio.Reader) (channel uint8, data []byte, err error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	if size == 0 {
		return 0, nil, fmt.Errorf("%w: empty frame", io.ErrUnexpectedEOF)
	}
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}
