// Package wire holds the byte-level encodings shared by mesh frames:
// length-prefixed strings, little-endian integers, NT timestamps and
// compressed payloads.
package wire

import (
	"encoding/binary"
	"errors"
	"time"
)

// NTSize is the encoded width of an NT timestamp.
const NTSize = 16

var ErrTruncated = errors.New("wire: buffer truncated")

// AppendString appends s as a 4-byte little-endian length followed by its bytes.
func AppendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// EncodeString returns the length-prefixed form of s. The empty string
// encodes to four zero bytes.
func EncodeString(s string) []byte {
	return AppendString(make([]byte, 0, 4+len(s)), s)
}

// ReadString decodes a length-prefixed string at *pos and advances the
// cursor by 4+length. The cursor is left untouched on error.
func ReadString(b []byte, pos *int) (string, error) {
	start := *pos
	n, err := ReadUint32(b, pos)
	if err != nil {
		return "", err
	}
	if uint64(len(b)-*pos) < uint64(n) {
		*pos = start
		return "", ErrTruncated
	}
	s := string(b[*pos : *pos+int(n)])
	*pos += int(n)
	return s, nil
}

func ReadByte(b []byte, pos *int) (byte, error) {
	if *pos < 0 || len(b)-*pos < 1 {
		return 0, ErrTruncated
	}
	v := b[*pos]
	*pos++
	return v, nil
}

func ReadUint32(b []byte, pos *int) (uint32, error) {
	if *pos < 0 || len(b)-*pos < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(b[*pos:])
	*pos += 4
	return v, nil
}

func ReadUint64(b []byte, pos *int) (uint64, error) {
	if *pos < 0 || len(b)-*pos < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(b[*pos:])
	*pos += 8
	return v, nil
}

func AppendUint32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func AppendUint64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// PutNT writes t at offset as 8 bytes of whole seconds since the Unix epoch
// followed by 8 bytes holding the millisecond remainder.
func PutNT(b []byte, offset int, t time.Time) error {
	if offset < 0 || len(b)-offset < NTSize {
		return ErrTruncated
	}
	secs, rem := splitMillis(t.UnixMilli())
	binary.LittleEndian.PutUint64(b[offset:], uint64(secs))
	binary.LittleEndian.PutUint64(b[offset+8:], uint64(rem))
	return nil
}

func AppendNT(dst []byte, t time.Time) []byte {
	secs, rem := splitMillis(t.UnixMilli())
	dst = binary.LittleEndian.AppendUint64(dst, uint64(secs))
	return binary.LittleEndian.AppendUint64(dst, uint64(rem))
}

// ReadNT decodes an NT timestamp at *pos with millisecond precision.
func ReadNT(b []byte, pos *int) (time.Time, error) {
	if *pos < 0 || len(b)-*pos < NTSize {
		return time.Time{}, ErrTruncated
	}
	secs, _ := ReadUint64(b, pos)
	rem, _ := ReadUint64(b, pos)
	return time.UnixMilli(int64(secs)*1000 + int64(rem)), nil
}

func splitMillis(ms int64) (secs, rem int64) {
	secs, rem = ms/1000, ms%1000
	if rem < 0 {
		secs--
		rem += 1000
	}
	return secs, rem
}
