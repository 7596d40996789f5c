package apollo

import (
	"encoding/binary"
	"fmt"

	"github.com/go-audio/audio"
)

// EncodeFrames packs an interleaved sample buffer into the device's wire
// layout for format f. Samples are rescaled from the buffer's source bit
// depth to the format's depth by shifting, so a 16-bit decoder output can
// feed a 32-bit stream directly. The result length is a whole number of
// samples; pair it with Stream.WriteFrames.
func EncodeFrames(buf *audio.IntBuffer, f Format) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("nil sample buffer: %w", ErrInvalidParameter)
	}

	bits := FormatToBits(f)
	if bits == 0 {
		return nil, fmt.Errorf("unsupported format %d: %w", f, ErrInvalidParameter)
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}

	out := make([]byte, len(buf.Data)*int(bits)/8)

	for i, s := range buf.Data {
		v := rescaleSample(s, depth, int(bits))

		switch f {
		case APOLLO_FORMAT_S16_LE:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		case APOLLO_FORMAT_S24_3LE:
			out[i*3] = byte(v)
			out[i*3+1] = byte(v >> 8)
			out[i*3+2] = byte(v >> 16)
		case APOLLO_FORMAT_S32_LE:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
	}

	return out, nil
}

// DecodeFrames unpacks device frames into an interleaved sample buffer
// carrying the format's bit depth, ready for a wav encoder. Trailing bytes
// that do not fill a whole sample are ignored; pair it with
// Stream.ReadFrames.
func DecodeFrames(p []byte, f Format, channels, rate uint32) (*audio.IntBuffer, error) {
	bits := FormatToBits(f)
	if bits == 0 {
		return nil, fmt.Errorf("unsupported format %d: %w", f, ErrInvalidParameter)
	}
	if channels == 0 {
		return nil, fmt.Errorf("zero channel count: %w", ErrInvalidParameter)
	}

	sampleBytes := int(bits) / 8
	data := make([]int, len(p)/sampleBytes)

	for i := range data {
		switch f {
		case APOLLO_FORMAT_S16_LE:
			data[i] = int(int16(binary.LittleEndian.Uint16(p[i*2:])))
		case APOLLO_FORMAT_S24_3LE:
			raw := uint32(p[i*3]) | uint32(p[i*3+1])<<8 | uint32(p[i*3+2])<<16
			data[i] = int(int32(raw<<8) >> 8)
		case APOLLO_FORMAT_S32_LE:
			data[i] = int(int32(binary.LittleEndian.Uint32(p[i*4:])))
		}
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(channels),
			SampleRate:  int(rate),
		},
		Data:           data,
		SourceBitDepth: int(bits),
	}, nil
}

// rescaleSample shifts a sample between bit depths.
func rescaleSample(s, from, to int) int32 {
	switch {
	case from < to:
		return int32(s) << uint(to-from)
	case from > to:
		return int32(s >> uint(from-to))
	default:
		return int32(s)
	}
}
