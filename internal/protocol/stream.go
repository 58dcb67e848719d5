package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxStringLength bounds a null-terminated string read, so a corrupt
// stream cannot grow a buffer without limit.
const maxStringLength = 1 << 20

// protocolError is the error for framing violations; the server reports
// it to the peer as a ResponseError before closing the stream.
type protocolError struct {
	msg string
}

func (e *protocolError) Error() string {
	return "protocol-error: " + e.msg
}

func protocolErrorf(format string, args ...any) error {
	return &protocolError{msg: fmt.Sprintf(format, args...)}
}

// expectHeader consumes one byte and fails unless it matches.
func expectHeader(r *bufio.Reader, expected byte) error {
	got, err := r.ReadByte()
	if err != nil {
		return err
	}
	if got != expected {
		return protocolErrorf("expected header 0x%02x, got 0x%02x", expected, got)
	}
	return nil
}

// writeUTFZ writes a null-terminated UTF-8 string.
func writeUTFZ(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// readUTFZ reads a null-terminated UTF-8 string.
func readUTFZ(r *bufio.Reader) (string, error) {
	var raw []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(raw), nil
		}
		if len(raw) >= maxStringLength {
			return "", protocolErrorf("string exceeds %d bytes", maxStringLength)
		}
		raw = append(raw, b)
	}
}

// writeInt writes a 4-byte big-endian integer.
func writeInt(w io.Writer, n int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	_, err := w.Write(buf[:])
	return err
}

// readInt reads a 4-byte big-endian integer.
func readInt(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// writeBoolean writes one byte.
func writeBoolean(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

// readBoolean reads one byte.
func readBoolean(r *bufio.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
