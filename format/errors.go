package format

import (
	"errors"
	"fmt"
)

// ErrChecksumMismatch is wrapped by every CorruptRecordError caused by a digest
// that does not match the stored header and payload.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ErrTruncated is wrapped when a record runs past the readable end of the file.
var ErrTruncated = errors.New("truncated record")

// CorruptRecordError reports a record that can not be trusted. Nothing after it
// in the same file may be interpreted as data.
type CorruptRecordError struct {
	GlobalRecord uint32
	Reason       string
	Err          error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt record #%d: %s: %v", e.GlobalRecord, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt record #%d: %s", e.GlobalRecord, e.Reason)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// HeaderError is returned when a journal file header fails validation.
type HeaderError string

func (msg HeaderError) Error() string {
	return "invalid journal header: " + string(msg)
}
