package protocol

// Frame envelope constants.
const (
	// prefixA and prefixB open every frame.
	prefixA = 0xFE
	prefixB = 0xEF

	// hdrCommand and hdrResponse distinguish frame origin in the third byte.
	hdrCommand  = 0x0A
	hdrResponse = 0x0C

	// dirPrefix precedes the direction marker.
	dirPrefix = 0xAB

	// trailer bytes close every frame.
	trailerA = 0x55
	trailerB = 0x0D
	trailerC = 0x0A

	// envelopeOverhead is the number of envelope bytes around the payload
	// length field: 2 prefix + hdr + len + dirPrefix + dir + plen on the
	// front, cks + 3 trailer bytes on the back, minus the plen-counted body.
	// Total frame length is always plen + 9.
	envelopeOverhead = 9

	// lengthFieldBias is added to plen to produce the frame's length byte.
	lengthFieldBias = 7

	// bodyOffset is the index of the first body byte (opcode or marker).
	bodyOffset = 7

	// maxArgs keeps the length byte within a single octet.
	maxArgs = 245
)

// Direction identifies which side of the link produced a frame.
type Direction byte

// Frame directions as they appear on the wire.
const (
	DirectionCommand  Direction = 0xAA
	DirectionResponse Direction = 0xBB
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	switch d {
	case DirectionCommand:
		return "command"
	case DirectionResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Frame is a decoded protocol frame.
//
// For command frames, Code is the opcode and Payload holds the argument
// bytes that followed it. For response frames, Code is zero and Payload
// holds the status bytes after the stream marker, version byte first.
type Frame struct {
	Direction Direction
	Code      byte
	Payload   []byte
}

// PayloadLen returns the wire payload length field for this frame, which is
// what the lamp uses to distinguish heartbeat, white status and rgb status
// notifications.
func (f Frame) PayloadLen() int {
	switch f.Direction {
	case DirectionResponse:
		return len(f.Payload) + 3
	default:
		return len(f.Payload) + 2
	}
}

// Encode builds a command frame for the given opcode and arguments.
//
// The frame layout is:
//
//	[FE EF 0A len AB AA plen code args... cks 55 0D 0A]
//
// where plen = len(args)+3, len = plen+7 and cks is the XOR fold of
// len(args)+2, the opcode and every argument byte.
//
// Parameters:
//   - code: Command opcode (see the Cmd* constants)
//   - args: Argument bytes, may be empty
//
// Returns:
//   - []byte: Complete frame ready to write to the control characteristic
//   - error: ErrOversizedPayload if args exceed the length field's range
func Encode(code byte, args ...byte) ([]byte, error) {
	if len(args) > maxArgs {
		return nil, ErrOversizedPayload
	}

	plen := byte(len(args) + 3)

	buf := make([]byte, 0, len(args)+12)
	buf = append(buf, prefixA, prefixB, hdrCommand, plen+lengthFieldBias, dirPrefix, byte(DirectionCommand), plen, code)
	buf = append(buf, args...)
	buf = append(buf, checksum(plen, buf[bodyOffset:]))
	buf = append(buf, trailerA, trailerB, trailerC)

	return buf, nil
}

// checksum computes the frame checksum over the body bytes.
//
// The fold starts from plen-1 and XORs in every body byte. For a command
// body [code args...] this equals len(args)+2 ^ code ^ args...; responses
// fold their marker and status bytes the same way.
func checksum(plen byte, body []byte) byte {
	cks := plen - 1
	for _, b := range body {
		cks ^= b
	}
	return cks
}

// Decode parses and validates a frame received from the lamp.
//
// Validation order: envelope length, prefix and direction magic, length
// field consistency, trailer, checksum. Decode never interprets payload
// semantics; a structurally valid frame with an unknown payload length is
// still returned successfully.
//
// Parameters:
//   - buf: Raw bytes from a notification or command capture
//
// Returns:
//   - Frame: Decoded frame with direction, opcode and payload
//   - error: ErrTruncatedFrame, ErrBadMagic or ErrBadChecksum
func Decode(buf []byte) (Frame, error) {
	// Smallest legal frame carries an empty payload: plen=3, 12 bytes total.
	if len(buf) < 12 {
		return Frame{}, ErrTruncatedFrame
	}

	if buf[0] != prefixA || buf[1] != prefixB {
		return Frame{}, ErrBadMagic
	}
	if buf[2] != hdrCommand && buf[2] != hdrResponse {
		return Frame{}, ErrBadMagic
	}
	if buf[4] != dirPrefix {
		return Frame{}, ErrBadMagic
	}

	dir := Direction(buf[5])
	if dir != DirectionCommand && dir != DirectionResponse {
		return Frame{}, ErrBadMagic
	}

	plen := int(buf[6])
	if plen < 3 {
		return Frame{}, ErrTruncatedFrame
	}
	if int(buf[3]) != plen+lengthFieldBias {
		return Frame{}, ErrTruncatedFrame
	}
	if len(buf) < plen+envelopeOverhead {
		return Frame{}, ErrTruncatedFrame
	}

	if buf[plen+6] != trailerA || buf[plen+7] != trailerB || buf[plen+8] != trailerC {
		return Frame{}, ErrBadMagic
	}

	body := buf[bodyOffset : bodyOffset+plen-2]
	if checksum(byte(plen), body) != buf[plen+5] {
		return Frame{}, ErrBadChecksum
	}

	frame := Frame{Direction: dir}
	switch dir {
	case DirectionCommand:
		frame.Code = body[0]
		frame.Payload = append([]byte(nil), body[1:]...)
	case DirectionResponse:
		// Responses carry a stream marker before the status bytes; the
		// marker participates in the checksum but not in the payload.
		frame.Payload = append([]byte(nil), body[1:]...)
	}

	return frame, nil
}

// CommandCode extracts the opcode from an encoded command frame without a
// full decode. Returns false for buffers too short to carry one.
func CommandCode(frame []byte) (byte, bool) {
	if len(frame) <= bodyOffset {
		return 0, false
	}
	return frame[bodyOffset], true
}
