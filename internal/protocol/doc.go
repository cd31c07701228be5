// Package protocol implements the binary frame codec for Beurer TL100-family
// daylight lamps.
//
// # Frame Format
//
// Every frame shares a fixed envelope around a variable-length payload:
//
//	[0xFE 0xEF hdr len 0xAB dir plen body... cks 0x55 0x0D 0x0A]
//
//	hdr   — 0x0A for host-to-lamp commands, 0x0C for lamp-to-host responses
//	len   — plen + 7 (total frame length minus the two-byte prefix)
//	dir   — 0xAA command, 0xBB response
//	plen  — payload length field: body length + 2
//	body  — opcode followed by arguments (commands), or a stream marker
//	        followed by status bytes (responses)
//	cks   — XOR fold of plen-1 with every body byte after the first;
//	        see checksum() for the exact fold
//
// The worked example (set white brightness to 50%):
//
//	FE EF 0A 0C AB AA 05 31 01 32 06 55 0D 0A
//
// # Usage
//
//	frame := protocol.SetBrightness(protocol.ModeWhite, 50)
//	// write frame to the control characteristic
//
//	decoded, err := protocol.Decode(notification)
//	if errors.Is(err, protocol.ErrBadChecksum) {
//	    // drop and log; never act on a corrupt frame
//	}
//
// Decode validates magic, length, trailer and checksum before returning any
// payload bytes, so callers can trust a decoded frame structurally. Semantic
// interpretation (status layouts, version sentinels) lives in the engine
// package.
package protocol
