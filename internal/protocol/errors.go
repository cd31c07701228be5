package protocol

import "errors"

// Sentinel errors for frame decoding.
// Callers should use errors.Is() to check error types.
var (
	// ErrTruncatedFrame indicates the buffer is shorter than its length
	// field claims, or too short to contain the fixed envelope at all.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrBadMagic indicates the frame prefix, direction marker or trailer
	// bytes do not match the protocol envelope.
	ErrBadMagic = errors.New("bad frame magic")

	// ErrBadChecksum indicates the transmitted checksum does not match the
	// checksum recomputed over the frame body.
	ErrBadChecksum = errors.New("bad frame checksum")

	// ErrOversizedPayload indicates an Encode argument list too long for the
	// single-byte length field.
	ErrOversizedPayload = errors.New("oversized payload")
)
