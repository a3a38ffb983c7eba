package index

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidLocation = fmt.Errorf("index: invalid location")
	ErrInvalidKey      = fmt.Errorf("index: invalid key")
)

// Location is where a blob lives: a byte range of a data file.
type Location struct {
	File   int64
	Offset int64
	Length int64
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d:%d", l.File, l.Offset, l.Length)
}

// KeyCodec maps blob names to index keys. A codec may shorten names to save
// memory on the index server; it must be injective.
type KeyCodec interface {
	EncodeKey(name string) (string, error)
	DecodeKey(key string) (string, error)
}

// ValueCodec serialises locations stored under blob keys.
type ValueCodec interface {
	EncodeLocation(loc Location) ([]byte, error)
	DecodeLocation(value []byte) (Location, error)
}

type identityKeys struct{}

// IdentityKeys stores names as they are.
var IdentityKeys KeyCodec = identityKeys{}

func (identityKeys) EncodeKey(name string) (string, error) {
	if name == "" {
		return "", errors.Wrap(ErrInvalidKey, "empty name")
	}
	return name, nil
}

func (identityKeys) DecodeKey(key string) (string, error) {
	return key, nil
}

type decimalLocations struct{}

// DecimalLocations encodes a location as "<file>:<offset>:<length>".
var DecimalLocations ValueCodec = decimalLocations{}

func (decimalLocations) EncodeLocation(loc Location) ([]byte, error) {
	if loc.File <= 0 || loc.Offset < 0 || loc.Length < 0 {
		return nil, errors.Wrapf(ErrInvalidLocation, "%s", loc)
	}
	buf := strconv.AppendInt(nil, loc.File, 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, loc.Offset, 10)
	buf = append(buf, ':')
	return strconv.AppendInt(buf, loc.Length, 10), nil
}

func (decimalLocations) DecodeLocation(value []byte) (Location, error) {
	parts := strings.Split(string(value), ":")
	if len(parts) != 3 {
		return Location{}, errors.Wrapf(ErrInvalidLocation, "%q", value)
	}

	var fields [3]int64
	for i, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 {
			return Location{}, errors.Wrapf(ErrInvalidLocation, "%q", value)
		}
		fields[i] = n
	}
	if fields[0] == 0 {
		return Location{}, errors.Wrapf(ErrInvalidLocation, "%q", value)
	}
	return Location{File: fields[0], Offset: fields[1], Length: fields[2]}, nil
}

type binaryLocations struct{}

// BinaryLocations packs a location as three uvarints. A typical value takes
// 7 to 10 bytes instead of the 15 to 25 of the decimal form.
var BinaryLocations ValueCodec = binaryLocations{}

func (binaryLocations) EncodeLocation(loc Location) ([]byte, error) {
	if loc.File <= 0 || loc.Offset < 0 || loc.Length < 0 {
		return nil, errors.Wrapf(ErrInvalidLocation, "%s", loc)
	}
	buf := make([]byte, 0, 3*binary.MaxVarintLen64)
	buf = binary.AppendUvarint(buf, uint64(loc.File))
	buf = binary.AppendUvarint(buf, uint64(loc.Offset))
	return binary.AppendUvarint(buf, uint64(loc.Length)), nil
}

func (binaryLocations) DecodeLocation(value []byte) (Location, error) {
	var fields [3]int64
	buf := value
	for i := range fields {
		n, size := binary.Uvarint(buf)
		if size <= 0 || n > 1<<63-1 {
			return Location{}, errors.Wrapf(ErrInvalidLocation, "%x", value)
		}
		fields[i] = int64(n)
		buf = buf[size:]
	}
	if len(buf) != 0 || fields[0] == 0 {
		return Location{}, errors.Wrapf(ErrInvalidLocation, "%x", value)
	}
	return Location{File: fields[0], Offset: fields[1], Length: fields[2]}, nil
}

// ValueCodecByName returns the codec for a configured encoding name.
func ValueCodecByName(name string) (ValueCodec, error) {
	switch name {
	case "", "decimal":
		return DecimalLocations, nil
	case "binary":
		return BinaryLocations, nil
	default:
		return nil, errors.Errorf("unknown value encoding %q", name)
	}
}
