package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func main() {
	var (
		periodSize  int
		periodCount int
		channels    int
		rate        int
		formatStr   string
	)

	flag.IntVar(&periodSize, "period-size", 1024, "The size of a period in frames")
	flag.IntVar(&periodCount, "period-count", 4, "The number of periods")
	flag.IntVar(&channels, "channels", 0, "The amount of channels per frame (0 = use the file's channels)")
	flag.IntVar(&rate, "rate", 0, "The amount of frames per second (0 = use the file's rate)")
	flag.StringVar(&formatStr, "format", "", "The sample format (s16, s24, s32)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <audio-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nPlays a WAV or MP3 file through the Apollo engine's simulated device.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"period-size", "period-count", "channels", "rate", "format"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	path := flag.Arg(0)
	decoder, file, err := openDecoder(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audio file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	config := apollo.DefaultStreamConfig()
	config.PeriodSize = uint32(periodSize)
	config.PeriodCount = uint32(periodCount)

	// Determine channels and rate from flags or the file.
	if channels > 0 {
		config.Channels = uint32(channels)
	} else {
		config.Channels = uint32(decoder.NumChans())
	}

	if rate > 0 {
		config.Rate = uint32(rate)
	} else {
		config.Rate = decoder.SampleRate()
	}

	format, err := determineFormat(formatStr, decoder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error determining format: %v\n", err)
		os.Exit(1)
	}
	config.Format = format

	fmt.Printf("Playing: %s\n", path)
	fmt.Printf("Configuration: %d channels, %d Hz, %s\n", config.Channels, config.Rate, apollo.FormatNames[config.Format])
	fmt.Printf("Period size: %d, Period count: %d\n", config.PeriodSize, config.PeriodCount)

	sim := apollo.NewSimDevice(nil)
	dev, err := apollo.OpenDevice(sim, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	stream := dev.Playback()
	if err := stream.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening stream: %v\n", err)
		os.Exit(1)
	}
	if err := stream.Configure(config); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring stream: %v\n", err)
		os.Exit(1)
	}
	if err := stream.Prepare(); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing stream: %v\n", err)
		os.Exit(1)
	}

	periodCh := make(chan struct{}, 1)
	stream.SetPeriodCallback(func() {
		select {
		case periodCh <- struct{}{}:
		default:
		}
	})

	// The simulated hardware needs a clock: tick the position forward one
	// period at a time. Advance is a no-op until the engine starts the DMA.
	periodBytes := config.PeriodSize * stream.FrameSize()
	clockStop := make(chan struct{})
	defer close(clockStop)
	go func() {
		ticker := time.NewTicker(stream.PeriodTime())
		defer ticker.Stop()
		for {
			select {
			case <-clockStop:
				return
			case <-ticker.C:
				sim.Advance(periodBytes)
			}
		}
	}()

	started := false
	ensureStarted := func() error {
		if started {
			return nil
		}
		if err := stream.Start(); err != nil {
			return err
		}
		started = true

		return nil
	}

	totalDuration, err := decoder.Duration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting file duration: %v\n", err)
		os.Exit(1)
	}
	totalFrames := uint32(totalDuration.Seconds() * float64(decoder.SampleRate()))
	framesWritten := uint32(0)

	fmt.Println("Starting playback...")
	startTime := time.Now()

	pcmBuffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(config.Channels),
			SampleRate:  int(config.Rate),
		},
		Data: make([]int, int(config.PeriodSize)*int(config.Channels)),
	}

	for {
		// n is the number of SAMPLES read from the decoder.
		n, err := decoder.PCMBuffer(pcmBuffer)
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "Error reading PCM buffer: %v\n", err)
			os.Exit(1)
		}
		if n == 0 {
			break
		}

		chunk := &audio.IntBuffer{
			Format:         pcmBuffer.Format,
			SourceBitDepth: int(decoder.BitDepth()),
			Data:           pcmBuffer.Data[:n],
		}
		data, err := apollo.EncodeFrames(chunk, config.Format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding frames: %v\n", err)
			os.Exit(1)
		}

		// Prefill until the ring is full, then run the engine and pace on
		// period completions.
		for len(data) > 0 {
			written, err := stream.WriteFrames(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error writing to stream: %v\n", err)
				os.Exit(1)
			}
			data = data[written:]

			if len(data) > 0 {
				if err := ensureStarted(); err != nil {
					fmt.Fprintf(os.Stderr, "Error starting stream: %v\n", err)
					os.Exit(1)
				}
				<-periodCh
			}
		}

		framesWritten += uint32(n) / config.Channels
	}

	// A file shorter than the ring never saw a full buffer; start now so
	// the queued frames still play.
	if err := ensureStarted(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting stream: %v\n", err)
		os.Exit(1)
	}

	// Drain: wait until the engine has consumed everything queued.
	for {
		avail, err := stream.AvailFrames()
		if err != nil || avail >= stream.BufferFrames() {
			break
		}
		<-periodCh
	}

	if err := stream.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping stream: %v\n", err)
	}

	fmt.Printf("Playback finished in %v. (%d/%d frames played)\n", time.Since(startTime).Round(time.Millisecond), framesWritten, totalFrames)
}

// determineFormat selects the stream sample format from the flag or from
// the decoded file's bit depth.
func determineFormat(formatStr string, decoder AudioDecoder) (apollo.Format, error) {
	if formatStr != "" {
		return apollo.ParseFormat(formatStr)
	}

	if decoder.IsFloat() {
		return 0, fmt.Errorf("floating-point audio is not supported")
	}

	switch decoder.BitDepth() {
	case 16:
		return apollo.APOLLO_FORMAT_S16_LE, nil
	case 24:
		return apollo.APOLLO_FORMAT_S24_3LE, nil
	case 32:
		return apollo.APOLLO_FORMAT_S32_LE, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth from file: %d", decoder.BitDepth())
	}
}
