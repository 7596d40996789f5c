package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// AudioDecoder lets the playback loop treat WAV and MP3 sources uniformly.
type AudioDecoder interface {
	// PCMBuffer reads decoded samples into buf.Data and returns the number
	// of samples (not frames) read.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	// Duration returns the total duration of the audio stream.
	Duration() (time.Duration, error)
	// NumChans returns the channel count of the decoded stream.
	NumChans() uint16
	// SampleRate returns the sample rate in Hz.
	SampleRate() uint32
	// BitDepth returns the bit depth of the decoded samples.
	BitDepth() uint16
	// IsFloat reports whether the source holds floating-point samples.
	IsFloat() bool
}

// openDecoder opens path and selects a decoder by file extension. The
// caller closes the returned file once playback ends.
func openDecoder(path string) (AudioDecoder, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var dec AudioDecoder
	if strings.ToLower(filepath.Ext(path)) == ".mp3" {
		dec, err = newMp3Decoder(f)
	} else {
		dec, err = newWavDecoder(f)
	}
	if err != nil {
		_ = f.Close()

		return nil, nil, err
	}

	return dec, f, nil
}

type wavDecoderWrapper struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (AudioDecoder, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	return &wavDecoderWrapper{Decoder: decoder}, nil
}

func (w *wavDecoderWrapper) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavDecoderWrapper) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavDecoderWrapper) BitDepth() uint16   { return uint16(w.Decoder.BitDepth) }
func (w *wavDecoderWrapper) IsFloat() bool      { return w.Decoder.WavAudioFormat == 3 } // 3 == IEEE float

// mp3DecoderWrapper adapts go-mp3, which always produces 16-bit
// little-endian stereo PCM.
type mp3DecoderWrapper struct {
	decoder *mp3.Decoder
	rate    uint32
	length  int64 // total decoded size in bytes
}

func newMp3Decoder(r io.Reader) (AudioDecoder, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3DecoderWrapper{
		decoder: decoder,
		rate:    uint32(decoder.SampleRate()),
		length:  decoder.Length(),
	}, nil
}

// PCMBuffer reads decoded bytes and widens the 16-bit samples into
// buf.Data.
func (m *mp3DecoderWrapper) PCMBuffer(buf *audio.IntBuffer) (n int, err error) {
	byteBuf := make([]byte, len(buf.Data)*2)

	bytesRead, err := m.decoder.Read(byteBuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	samplesRead := bytesRead / 2
	for i := 0; i < samplesRead; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(byteBuf[i*2:])))
	}

	return samplesRead, err
}

func (m *mp3DecoderWrapper) Duration() (time.Duration, error) {
	bytesPerFrame := int64(m.NumChans()) * 2
	totalFrames := m.length / bytesPerFrame
	if m.rate == 0 {
		return 0, fmt.Errorf("invalid sample rate")
	}

	return time.Duration(float64(totalFrames) / float64(m.rate) * float64(time.Second)), nil
}

func (m *mp3DecoderWrapper) SampleRate() uint32 { return m.rate }
func (m *mp3DecoderWrapper) NumChans() uint16   { return 2 }
func (m *mp3DecoderWrapper) BitDepth() uint16   { return 16 }
func (m *mp3DecoderWrapper) IsFloat() bool      { return false }
