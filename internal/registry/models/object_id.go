package models

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"

	dErrors "objectmap/pkg/domain-errors"
)

// ObjectIDLength is the size of an object identifier in bytes.
const ObjectIDLength = 32

// ObjectID is an opaque 32-byte identifier of a minted object.
type ObjectID [ObjectIDLength]byte

// ParseObjectID decodes a 0x-prefixed, 64 hex digit string.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	raw, err := hexutil.Decode(s)
	if err != nil {
		return id, dErrors.Wrap(err, dErrors.CodeValidation, "object id must be 0x-prefixed hex")
	}
	if len(raw) != ObjectIDLength {
		return id, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("object id must be %d bytes, got %d", ObjectIDLength, len(raw)))
	}
	copy(id[:], raw)
	return id, nil
}

// ObjectIDFromBytes copies b into an ObjectID. b must be exactly 32 bytes.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	var id ObjectID
	if len(b) != ObjectIDLength {
		return id, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("object id must be %d bytes, got %d", ObjectIDLength, len(b)))
	}
	copy(id[:], b)
	return id, nil
}

func (id ObjectID) String() string {
	return hexutil.Encode(id[:])
}

func (id ObjectID) Bytes() []byte {
	return id[:]
}

func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Number is a member number of the collection, valid in [1, size].
type Number uint32

// ParseNumber parses a decimal member number. Range is checked separately.
func ParseNumber(s string) (Number, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, dErrors.Wrap(ErrInvalidNumber, dErrors.CodeBadRequest, fmt.Sprintf("number %q is not a positive integer", s))
	}
	return Number(n), nil
}

// InRange reports whether 1 <= n <= size.
func (n Number) InRange(size int) bool {
	return n >= 1 && uint64(n) <= uint64(size)
}
