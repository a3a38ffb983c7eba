package wal

import (
	"encoding/binary"
	"math"
)

const (
	// MaxNameSize is the largest name the one byte length prefix can describe.
	MaxNameSize = math.MaxUint8

	headerSize  = 1
	trailerSize = 4 + 4
)

// Entry records one committed write to a data file: the name it was stored
// under and the byte range it occupies.
//
// On disk an entry is [nameLen:u8][name][offset:u32le][length:u32le].
type Entry struct {
	Name   string
	Offset uint32
	Length uint32
}

// Size returns the encoded length of the entry in bytes.
func (e Entry) Size() int {
	return headerSize + len(e.Name) + trailerSize
}

// AppendBinary appends the encoded entry to buf. The caller is responsible
// for checking the name length.
func (e Entry) AppendBinary(buf []byte) []byte {
	buf = append(buf, byte(len(e.Name)))
	buf = append(buf, e.Name...)
	buf = binary.LittleEndian.AppendUint32(buf, e.Offset)
	buf = binary.LittleEndian.AppendUint32(buf, e.Length)
	return buf
}

// Decode parses as many complete entries as buf holds. Whatever is left over
// after the last complete entry is returned as residual. A non-empty residual
// means the log was torn mid-append; it is never turned into an entry.
func Decode(buf []byte) (entries []Entry, residual []byte) {
	for len(buf) > 0 {
		n := int(buf[0])
		size := headerSize + n + trailerSize
		if len(buf) < size {
			break
		}
		name := buf[headerSize : headerSize+n]
		entries = append(entries, Entry{
			Name:   string(name),
			Offset: binary.LittleEndian.Uint32(buf[headerSize+n:]),
			Length: binary.LittleEndian.Uint32(buf[headerSize+n+4:]),
		})
		buf = buf[size:]
	}
	return entries, buf
}
