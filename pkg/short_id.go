package pkg

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
)

// ShortIDLen is the length of every encoded short id: 64 bits in 6 bit groups.
const ShortIDLen = 11

var ErrInvalidShortID = errors.New("invalid short id")

// strict, so that the 2 unused trailing bits must be zero and the
// mapping stays a bijection
var shortIDEncoding = base64.RawURLEncoding.Strict()

// MakeShortID encodes the id as 8 little-endian bytes in unpadded URL-safe base64.
func MakeShortID(id uint64) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return shortIDEncoding.EncodeToString(buf[:])
}

// ParseShortID is the inverse of MakeShortID.
func ParseShortID(s string) (uint64, error) {
	if len(s) != ShortIDLen {
		return 0, ErrInvalidShortID
	}

	var buf [8]byte
	n, err := shortIDEncoding.Decode(buf[:], []byte(s))
	if err != nil || n != len(buf) {
		return 0, ErrInvalidShortID
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// NewRandomID returns a non-zero, securely generated id which fits into a signed 64 bit column.
func NewRandomID() (uint64, error) {
	for {
		b, err := GenerateRandomBytes(8)
		if err != nil {
			return 0, err
		}
		id := binary.LittleEndian.Uint64(b) & math.MaxInt64
		if id != 0 {
			return id, nil
		}
	}
}
