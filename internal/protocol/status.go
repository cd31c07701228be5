package protocol

// Response payload length fields. The lamp distinguishes notification kinds
// purely by the wire payload length, not by an opcode.
const (
	// PayloadLenHeartbeat is a keep-alive carrying only a version byte.
	PayloadLenHeartbeat = 0x04

	// PayloadLenWhiteStatus is a white-mode status report.
	PayloadLenWhiteStatus = 0x08

	// PayloadLenRGBStatus is an rgb-mode status report with colour, effect
	// and timer fields.
	PayloadLenRGBStatus = 0x0C
)

// Status payload indices, version byte first.
const (
	StatusIdxVersion      = 0
	StatusIdxPower        = 1
	StatusIdxBrightness   = 2
	StatusIdxTimerActive  = 3
	StatusIdxTimerMinutes = 4
	StatusIdxRed          = 5
	StatusIdxGreen        = 6
	StatusIdxBlue         = 7
	StatusIdxEffect       = 8
)

// Version byte values. 1 and 2 identify which light engine reported; the
// remaining two are lifecycle sentinels, not mode identifiers.
const (
	// VersionWhite marks a white-mode status report.
	VersionWhite = 1

	// VersionRGB marks an rgb-mode status report.
	VersionRGB = 2

	// VersionShutdown is sent as the lamp powers down its radio. The link
	// will drop shortly after.
	VersionShutdown = 0

	// VersionOff is sent while the lamp is soft-off but still connected.
	VersionOff = 255
)
