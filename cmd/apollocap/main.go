package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func main() {
	var (
		periodSize  int
		periodCount int
		channels    int
		rate        int
		formatStr   string
		duration    int
		toneFreq    float64
	)

	flag.IntVar(&periodSize, "period-size", 1024, "The size of a period in frames")
	flag.IntVar(&periodCount, "period-count", 4, "The number of periods")
	flag.IntVar(&channels, "channels", 2, "The number of channels")
	flag.IntVar(&rate, "rate", 48000, "The sample rate in Hz")
	flag.StringVar(&formatStr, "format", "s32", "The sample format (s16, s24, s32)")
	flag.IntVar(&duration, "duration", 5, "The duration of the capture in seconds")
	flag.Float64Var(&toneFreq, "tone", 440, "Feed a sine test tone at this frequency in Hz (0 = capture silence)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <output-wav-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nCaptures from the Apollo engine's simulated device into a WAV file.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"period-size", "period-count", "channels", "rate", "format", "duration", "tone"} {
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

	outputPath := flag.Arg(0)

	format, err := apollo.ParseFormat(formatStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error determining format: %v\n", err)
		os.Exit(1)
	}
	bitDepth := apollo.FormatToBits(format)

	config := apollo.StreamConfig{
		Rate:        uint32(rate),
		Format:      format,
		Channels:    uint32(channels),
		PeriodSize:  uint32(periodSize),
		PeriodCount: uint32(periodCount),
	}
	periodBytes := config.PeriodSize * apollo.FrameBytes(config.Format, config.Channels)

	fmt.Printf("Capturing to: %s\n", outputPath)
	fmt.Printf("Configuration: %d channels, %d Hz, %s\n", config.Channels, config.Rate, apollo.FormatNames[config.Format])
	fmt.Printf("Period size: %d, Period count: %d\n", config.PeriodSize, config.PeriodCount)
	fmt.Printf("Capture duration: %d seconds\n", duration)
	if toneFreq > 0 {
		fmt.Printf("Test tone: %.1f Hz\n", toneFreq)
	}

	var simCfg *apollo.SimConfig
	if toneFreq > 0 {
		simCfg = &apollo.SimConfig{FeedCapacity: int(periodBytes) * (periodCount + 2)}
	}

	sim := apollo.NewSimDevice(simCfg)
	dev, err := apollo.OpenDevice(sim, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	stream := dev.Capture()
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

	// Seed the capture feed so the first hardware window already carries
	// the tone.
	var gen *toneGen
	if toneFreq > 0 {
		gen = newToneGen(toneFreq, config)
		if err := gen.feed(sim, 2*config.PeriodSize); err != nil {
			fmt.Fprintf(os.Stderr, "Error feeding tone: %v\n", err)
			os.Exit(1)
		}
	}

	wavFile, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating WAV file: %v\n", err)
		os.Exit(1)
	}
	defer wavFile.Close()

	encoder := wav.NewEncoder(wavFile,
		int(config.Rate),
		int(bitDepth),
		int(config.Channels),
		1, // Audio format 1 is PCM
	)
	defer encoder.Close()

	if err := stream.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting stream: %v\n", err)
		os.Exit(1)
	}

	// The simulated hardware needs a clock: tick the position forward one
	// period at a time.
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

	totalFramesToCapture := uint32(duration) * config.Rate
	var framesCaptured uint32

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println("Starting capture... Press Ctrl+C to stop early.")

	readBuf := make([]byte, stream.BufferFrames()*stream.FrameSize())

	keepRunning := true
	for keepRunning && framesCaptured < totalFramesToCapture {
		select {
		case <-sigChan:
			fmt.Println("\nCapture interrupted by user.")
			keepRunning = false
		case <-periodCh:
			n, err := stream.ReadFrames(readBuf)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading from stream: %v\n", err)
				keepRunning = false

				continue
			}
			if n == 0 {
				continue
			}

			intBuffer, err := apollo.DecodeFrames(readBuf[:n], config.Format, config.Channels, config.Rate)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error converting buffer: %v\n", err)
				keepRunning = false

				continue
			}

			if err := encoder.Write(intBuffer); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing to WAV file: %v\n", err)
				keepRunning = false

				continue
			}

			framesRead := uint32(n) / stream.FrameSize()
			framesCaptured += framesRead

			// Replace what the hardware consumed so the tone stays
			// continuous.
			if gen != nil {
				if err := gen.feed(sim, framesRead); err != nil {
					fmt.Fprintf(os.Stderr, "Error feeding tone: %v\n", err)
					keepRunning = false
				}
			}
		}
	}

	if err := stream.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping stream: %v\n", err)
	}

	capturedSeconds := float64(framesCaptured) / float64(config.Rate)
	fmt.Printf("Capture finished. Wrote %d frames (%.2f seconds) to %s\n", framesCaptured, capturedSeconds, outputPath)
}

// toneGen produces a continuous sine wave in the stream's sample format.
type toneGen struct {
	step   float64
	phase  float64
	amp    float64
	config apollo.StreamConfig
}

func newToneGen(freq float64, config apollo.StreamConfig) *toneGen {
	depth := apollo.FormatToBits(config.Format)

	return &toneGen{
		step: 2 * math.Pi * freq / float64(config.Rate),
		// Half scale leaves headroom.
		amp:    float64(int64(1)<<(depth-1)-1) / 2,
		config: config,
	}
}

// feed pushes the requested number of sine frames into the device's
// capture feed. A full feed accepts a short write, which shows up as a
// phase skip in the captured signal.
func (g *toneGen) feed(sim *apollo.SimDevice, frames uint32) error {
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(g.config.Channels),
			SampleRate:  int(g.config.Rate),
		},
		SourceBitDepth: int(apollo.FormatToBits(g.config.Format)),
		Data:           make([]int, int(frames)*int(g.config.Channels)),
	}

	for i := uint32(0); i < frames; i++ {
		sample := int(g.amp * math.Sin(g.phase))
		g.phase += g.step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		for c := uint32(0); c < g.config.Channels; c++ {
			buf.Data[i*g.config.Channels+c] = sample
		}
	}

	data, err := apollo.EncodeFrames(buf, g.config.Format)
	if err != nil {
		return err
	}

	_, err = sim.FeedCapture(data)

	return err
}
