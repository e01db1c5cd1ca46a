package cti

import "fmt"

// EncodingError reports values that cannot be represented in a command's
// field table. Nothing is sent when it is returned.
type EncodingError struct {
	Command Command
	Field   string
	Reason  string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cti: encode %s: %s", e.Command, e.Reason)
	}

	return fmt.Sprintf("cti: encode %s field %q: %s", e.Command, e.Field, e.Reason)
}

// FramingError reports bytes that do not form a valid frame.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "cti: malformed frame: " + e.Reason
}

// ChecksumError reports a frame whose trailing checksum does not match its
// contents.
type ChecksumError struct {
	Want uint16
	Got  uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("cti: checksum mismatch: computed 0x%04X, frame carries 0x%04X", e.Want, e.Got)
}

// UnknownCommandError reports a well-formed frame whose command has no layout.
type UnknownCommandError struct {
	Command Command
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("cti: unknown command %s", e.Command)
}
