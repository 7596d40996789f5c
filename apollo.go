// Package apollo implements the runtime engine for Universal Audio Apollo
// Twin audio interfaces: typed register access, the DMA ring buffer, the
// command/response control channel, per-direction stream state machines and
// device lifecycle management.
package apollo

import "fmt"

// PCI identity of the Apollo Twin, used by bus-attach matching.
const (
	APOLLO_VENDOR_ID = 0x1176
	APOLLO_DEVICE_ID = 0x0005
)

// Format defines the sample format of a stream.
// The values correspond to the codes written to the APOLLO_REG_FORMAT register.
type Format int32

const (
	APOLLO_FORMAT_S16_LE  Format = 0 // 16-bit signed little-endian.
	APOLLO_FORMAT_S24_3LE Format = 1 // 24-bit signed little-endian, packed in 3 bytes.
	APOLLO_FORMAT_S32_LE  Format = 2 // 32-bit signed little-endian.
)

// FormatNames provides human-readable names for sample formats.
var FormatNames = map[Format]string{
	APOLLO_FORMAT_S16_LE:  "S16_LE",
	APOLLO_FORMAT_S24_3LE: "S24_3LE",
	APOLLO_FORMAT_S32_LE:  "S32_LE",
}

// ParseFormat maps a short format identifier (s16, s24, s32) to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "s16", "S16_LE":
		return APOLLO_FORMAT_S16_LE, nil
	case "s24", "S24_3LE":
		return APOLLO_FORMAT_S24_3LE, nil
	case "s32", "S32_LE":
		return APOLLO_FORMAT_S32_LE, nil
	default:
		return 0, fmt.Errorf("unsupported format '%s': %w", s, ErrInvalidParameter)
	}
}

// FormatToBits returns the number of bits per sample for a given format.
// This reflects the space occupied in memory, so S24_3LE returns 24.
func FormatToBits(f Format) uint32 {
	switch f {
	case APOLLO_FORMAT_S16_LE:
		return 16
	case APOLLO_FORMAT_S24_3LE:
		return 24
	case APOLLO_FORMAT_S32_LE:
		return 32
	default:
		return 0
	}
}

// FrameBytes returns the size in bytes of one frame (one sample per channel).
func FrameBytes(f Format, channels uint32) uint32 {
	return channels * (FormatToBits(f) / 8)
}

// Direction identifies the data flow of a stream relative to the device.
type Direction int32

const (
	// STREAM_PLAYBACK moves samples from host memory to the converters.
	STREAM_PLAYBACK Direction = 0
	// STREAM_CAPTURE moves samples from the converters into host memory.
	STREAM_CAPTURE Direction = 1
)

func (d Direction) String() string {
	switch d {
	case STREAM_PLAYBACK:
		return "playback"
	case STREAM_CAPTURE:
		return "capture"
	default:
		return "unknown"
	}
}

// StreamState defines the lifecycle state of a stream direction.
type StreamState int32

const (
	STREAM_STATE_CLOSED   StreamState = 0 // No stream context attached.
	STREAM_STATE_OPEN     StreamState = 1 // Context attached, defaults installed.
	STREAM_STATE_SETUP    StreamState = 2 // Parameters negotiated.
	STREAM_STATE_PREPARED StreamState = 3 // Hardware programmed, ready to start.
	STREAM_STATE_RUNNING  StreamState = 4 // DMA active.
	STREAM_STATE_STOPPED  StreamState = 5 // DMA halted, hardware still programmed.
)

func (s StreamState) String() string {
	switch s {
	case STREAM_STATE_CLOSED:
		return "closed"
	case STREAM_STATE_OPEN:
		return "open"
	case STREAM_STATE_SETUP:
		return "setup"
	case STREAM_STATE_PREPARED:
		return "prepared"
	case STREAM_STATE_RUNNING:
		return "running"
	case STREAM_STATE_STOPPED:
		return "stopped"
	default:
		return "unknown"
	}
}

// Capabilities describes the enumerated parameter space a device accepts.
// Configuration requests are validated against it before touching hardware.
type Capabilities struct {
	Rates       []uint32
	Formats     []Format
	ChannelsMin uint32
	ChannelsMax uint32

	BufferBytesMax uint32
	PeriodBytesMin uint32
	PeriodBytesMax uint32
	PeriodsMin     uint32
	PeriodsMax     uint32
}

// DefaultCapabilities returns the Apollo Twin hardware parameter space.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Rates:          []uint32{44100, 48000, 88200, 96000, 176400, 192000},
		Formats:        []Format{APOLLO_FORMAT_S16_LE, APOLLO_FORMAT_S24_3LE, APOLLO_FORMAT_S32_LE},
		ChannelsMin:    2,
		ChannelsMax:    8,
		BufferBytesMax: 1024 * 1024,
		PeriodBytesMin: 64,
		PeriodBytesMax: 1024 * 512,
		PeriodsMin:     2,
		PeriodsMax:     32,
	}
}

// SupportsRate reports whether rate is part of the enumerated rate set.
func (c *Capabilities) SupportsRate(rate uint32) bool {
	for _, r := range c.Rates {
		if r == rate {
			return true
		}
	}

	return false
}

// SupportsFormat reports whether f is part of the supported format set.
func (c *Capabilities) SupportsFormat(f Format) bool {
	for _, cf := range c.Formats {
		if cf == f {
			return true
		}
	}

	return false
}
