package model

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Compact binary encoding. Every node is a 1-byte kind tag followed by a
// kind-specific payload, all integers big-endian:
//
//	undefined                (no payload)
//	boolean   1 byte
//	int       4 bytes
//	long      8 bytes
//	double    8 bytes IEEE 754
//	string    u32 length + UTF-8 bytes
//	bytes     u32 length + raw bytes
//	list      u32 count + encoded elements
//	object    u32 count + (string key + encoded value) pairs in key order
//
// The tag values are part of the wire contract and must not be renumbered.
const (
	tagUndefined byte = 0x00
	tagBoolean   byte = 0x01
	tagInt       byte = 0x02
	tagLong      byte = 0x03
	tagDouble    byte = 0x04
	tagString    byte = 0x05
	tagBytes     byte = 0x06
	tagList      byte = 0x07
	tagObject    byte = 0x08
)

// maxBinaryLength bounds a single length prefix. Management payloads are
// small; anything past this is a framing error, not data.
const maxBinaryLength = 64 * 1024 * 1024

// WriteBinary serializes the value in the compact binary encoding.
func (v *Value) WriteBinary(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := v.writeBinary(bw); err != nil {
		return err
	}
	return bw.Flush()
}

func (v *Value) writeBinary(w *bufio.Writer) error {
	if v == nil || v.kind == KindUndefined {
		return w.WriteByte(tagUndefined)
	}
	switch v.kind {
	case KindBoolean:
		if err := w.WriteByte(tagBoolean); err != nil {
			return err
		}
		if v.b {
			return w.WriteByte(1)
		}
		return w.WriteByte(0)
	case KindInt:
		if err := w.WriteByte(tagInt); err != nil {
			return err
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(int32(v.i)))
		_, err := w.Write(buf[:])
		return err
	case KindLong:
		if err := w.WriteByte(tagLong); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.i))
		_, err := w.Write(buf[:])
		return err
	case KindDouble:
		if err := w.WriteByte(tagDouble); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.f))
		_, err := w.Write(buf[:])
		return err
	case KindString:
		if err := w.WriteByte(tagString); err != nil {
			return err
		}
		return writeLengthPrefixed(w, []byte(v.s))
	case KindBytes:
		if err := w.WriteByte(tagBytes); err != nil {
			return err
		}
		return writeLengthPrefixed(w, v.raw)
	case KindList:
		if err := w.WriteByte(tagList); err != nil {
			return err
		}
		if err := writeCount(w, len(v.list)); err != nil {
			return err
		}
		for _, e := range v.list {
			if err := e.writeBinary(w); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		if err := w.WriteByte(tagObject); err != nil {
			return err
		}
		if err := writeCount(w, len(v.order)); err != nil {
			return err
		}
		for _, k := range v.order {
			if err := writeLengthPrefixed(w, []byte(k)); err != nil {
				return err
			}
			if err := v.fields[k].writeBinary(w); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("model: cannot encode kind %s", v.kind)
}

// ReadBinary parses a value from the compact binary encoding.
func ReadBinary(r io.Reader) (*Value, error) {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	return readBinary(r)
}

func readBinary(r io.Reader) (*Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return nil, err
	}
	v := New()
	switch tag {
	case tagUndefined:
		return v, nil
	case tagBoolean:
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		return v.SetBoolean(b != 0), nil
	case tagInt:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return v.SetInt(int32(binary.BigEndian.Uint32(buf[:]))), nil
	case tagLong:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return v.SetLong(int64(binary.BigEndian.Uint64(buf[:]))), nil
	case tagDouble:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return v.SetDouble(math.Float64frombits(binary.BigEndian.Uint64(buf[:]))), nil
	case tagString:
		raw, err := readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		return v.SetString(string(raw)), nil
	case tagBytes:
		raw, err := readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		return v.SetBytes(raw), nil
	case tagList:
		count, err := readCount(r)
		if err != nil {
			return nil, err
		}
		v.SetEmptyList()
		for i := 0; i < count; i++ {
			elem, err := readBinary(r)
			if err != nil {
				return nil, err
			}
			v.Add(elem)
		}
		return v, nil
	case tagObject:
		count, err := readCount(r)
		if err != nil {
			return nil, err
		}
		v.SetEmptyObject()
		for i := 0; i < count; i++ {
			key, err := readLengthPrefixed(r)
			if err != nil {
				return nil, err
			}
			child, err := readBinary(r)
			if err != nil {
				return nil, err
			}
			v.Get(string(key)).Set(child)
		}
		return v, nil
	}
	return nil, fmt.Errorf("model: unknown binary tag 0x%02x", tag)
}

// WriteBase64 writes the binary encoding wrapped in standard base64, the
// transfer form used by the dmr-encoded HTTP content type.
func (v *Value) WriteBase64(w io.Writer) error {
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if err := v.WriteBinary(enc); err != nil {
		return err
	}
	return enc.Close()
}

// FromBase64 parses a base64-wrapped binary encoding.
func FromBase64(r io.Reader) (*Value, error) {
	return ReadBinary(base64.NewDecoder(base64.StdEncoding, r))
}

func writeLengthPrefixed(w *bufio.Writer, raw []byte) error {
	if err := writeCount(w, len(raw)); err != nil {
		return err
	}
	_, err := w.Write(raw)
	return err
}

func writeCount(w *bufio.Writer, n int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	_, err := w.Write(buf[:])
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func readCount(r io.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(buf[:])
	if n > maxBinaryLength {
		return 0, fmt.Errorf("model: length %d exceeds maximum %d", n, maxBinaryLength)
	}
	return int(n), nil
}

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
