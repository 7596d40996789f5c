package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func main() {
	var help bool
	flag.BoolVar(&help, "help", false, "Show this help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fmt.Fprintln(os.Stderr, "  --help      Show this help message")
	}

	flag.Parse()

	if help || flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	wavPath := flag.Arg(0)

	file, err := os.Open(wavPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)

	if !decoder.IsValidFile() {
		fmt.Fprintln(os.Stderr, "Invalid WAV file")
		os.Exit(1)
	}

	fmt.Printf("Filename:           %s\n", wavPath)
	fmt.Printf("Channels:           %d\n", decoder.NumChans)
	fmt.Printf("Sample Rate:        %d Hz\n", decoder.SampleRate)
	fmt.Printf("Bits Per Sample:    %d\n", decoder.BitDepth)

	// Format 1 is integer PCM, Format 3 is IEEE Float.
	var formatStr string
	if decoder.WavAudioFormat == 3 {
		formatStr = "IEEE Float"
	} else {
		formatStr = "Signed Integer PCM"
	}

	fmt.Printf("Format:             %s\n", formatStr)

	duration, err := decoder.Duration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get duration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Duration:           %s\n", formatDuration(duration))

	// The total number of frames can be calculated from the duration and sample rate.
	totalFrames := int(duration.Seconds() * float64(decoder.SampleRate))

	fmt.Printf("Frames:             %d\n", totalFrames)

	printStreamInfo(decoder)
}

// printStreamInfo reports how apolloplay would map the file onto the
// device, and whether the Apollo Twin accepts it without conversion.
func printStreamInfo(decoder *wav.Decoder) {
	fmt.Println()

	if decoder.WavAudioFormat == 3 {
		fmt.Println("Stream Format:      none (floating-point audio is not supported)")
		return
	}

	var format apollo.Format
	switch decoder.BitDepth {
	case 16:
		format = apollo.APOLLO_FORMAT_S16_LE
	case 24:
		format = apollo.APOLLO_FORMAT_S24_3LE
	case 32:
		format = apollo.APOLLO_FORMAT_S32_LE
	default:
		fmt.Printf("Stream Format:      none (unsupported bit depth: %d)\n", decoder.BitDepth)
		return
	}

	fmt.Printf("Stream Format:      %s\n", apollo.FormatNames[format])
	fmt.Printf("Frame Size:         %d bytes\n", apollo.FrameBytes(format, uint32(decoder.NumChans)))

	caps := apollo.DefaultCapabilities()

	switch {
	case !caps.SupportsRate(decoder.SampleRate):
		fmt.Printf("Apollo Playback:    rate %d Hz not supported\n", decoder.SampleRate)
	case uint32(decoder.NumChans) < caps.ChannelsMin || uint32(decoder.NumChans) > caps.ChannelsMax:
		fmt.Printf("Apollo Playback:    channel count %d outside %d-%d\n", decoder.NumChans, caps.ChannelsMin, caps.ChannelsMax)
	default:
		fmt.Println("Apollo Playback:    OK")
	}
}

// formatDuration formats a time.Duration into a more readable HH:MM:SS.ms format.
func formatDuration(d time.Duration) string {
	nanos := d.Nanoseconds() % 1e9
	millis := nanos / 1e6

	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
