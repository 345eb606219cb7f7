package wire

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic       = errors.New("wire: invalid magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrUnknownTag         = errors.New("wire: unknown message tag")
	ErrReservedFlags      = errors.New("wire: reserved flags set")
	ErrTruncated          = errors.New("wire: truncated data")
	ErrInvalidLength      = errors.New("wire: invalid length")
	ErrTrailingBytes      = errors.New("wire: trailing bytes after payload")
	ErrPayloadTooLarge    = errors.New("wire: payload too large")
	ErrFieldTypeMismatch  = errors.New("wire: field type mismatch")
	ErrInvalidBool        = errors.New("wire: invalid bool value")
	ErrEmptyIdentifier    = errors.New("wire: empty identifier")
	ErrNonCanonicalID     = errors.New("wire: identifier not trimmed and NFC-normalized")
)

// MissingFieldError indicates a required field was not present.
type MissingFieldError struct {
	Tag     Tag
	FieldID uint16
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("wire: %s missing required field %d", e.Tag, e.FieldID)
}
