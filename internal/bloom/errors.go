package bloom

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned when the capacity is zero or the
	// false-positive probability falls outside the open interval (0, 1).
	ErrInvalidParameter = errors.New("bloom: invalid parameter")

	// ErrUnsupportedVersion is returned for version tags this build does not know.
	ErrUnsupportedVersion = errors.New("bloom: unsupported version")

	// ErrInvalidVariant is returned for unknown variant tags.
	ErrInvalidVariant = errors.New("bloom: invalid variant")

	// ErrInvalidFormat means the input is not a filter record at all (bad magic).
	ErrInvalidFormat = errors.New("bloom: invalid format")

	// ErrCorruptFormat means the record header was recognized but the rest is
	// truncated, inconsistent or fails its checksum.
	ErrCorruptFormat = errors.New("bloom: corrupt format")

	// ErrIO wraps failures of the underlying reader, writer or file system.
	ErrIO = errors.New("bloom: i/o error")
)

func ioError(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}
