package apollo

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// InterruptSource is implemented by buses that deliver hardware interrupt
// notifications. Each receive stands for one or more coalesced device
// signals; the engine services them by reading the status register, so
// dropped edges are harmless. A nil channel disables the service loop and
// the owner dispatches manually through HandleInterrupt.
type InterruptSource interface {
	Interrupts() <-chan struct{}
}

// DMAAttacher is implemented by buses that emulate bus-master DMA against a
// host buffer, such as SimDevice. Hardware-backed buses ignore the concern;
// their engine addresses the region through the bus address programmed at
// Prepare.
type DMAAttacher interface {
	AttachDMA(buf []byte)
}

// DeviceConfig adjusts device-wide resources. A nil or zero value selects
// the defaults.
type DeviceConfig struct {
	// BufferBytes sizes the shared DMA region. The capability descriptor
	// is capped to it so configuration can never negotiate a ring larger
	// than the region.
	BufferBytes uint32

	// BusAddress is the bus-visible base of the DMA region, programmed
	// into the DMA address register at Prepare.
	BusAddress uint32

	// EventQueue is the capacity of the hardware event channel.
	EventQueue int
}

const (
	defaultBufferBytes = 1 << 20
	defaultBusAddress  = 0x00100000
	defaultEventQueue  = 8

	resetSettleTime   = 10 * time.Millisecond
	readyPollCount    = 100
	readyPollInterval = time.Millisecond
)

// Device owns one Apollo interface: the register bus, the shared DMA
// region, a stream per direction, the control channel and the interrupt
// service loop. Create it with OpenDevice; one Device exists per physical
// device and every component of the engine hangs off it.
type Device struct {
	bus  RegisterBus
	caps Capabilities
	dma  dmaBuffer

	ctl controlChannel

	// triggerMu sequences trigger writes across both directions, which
	// share one DMA engine.
	triggerMu sync.Mutex

	// running is the OR of both directions' running flags.
	running atomic.Bool

	playback *Stream
	capture  *Stream

	events chan HardwareEvent

	irqStop chan struct{}
	irqDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// OpenDevice brings up the hardware behind bus and returns a ready device.
// The DMA region is allocated here, once, and reused across stream cycles;
// a bus that emulates bus-master DMA gets it attached before the first
// register access. On success the device owns the bus and closes it on
// Close; on failure the bus is left open for the caller.
func OpenDevice(bus RegisterBus, cfg *DeviceConfig) (*Device, error) {
	var c DeviceConfig
	if cfg != nil {
		c = *cfg
	}
	if c.BufferBytes == 0 {
		c.BufferBytes = defaultBufferBytes
	}
	if c.BusAddress == 0 {
		c.BusAddress = defaultBusAddress
	}
	if c.EventQueue <= 0 {
		c.EventQueue = defaultEventQueue
	}

	d := &Device{
		bus:    bus,
		caps:   DefaultCapabilities(),
		dma:    newDmaBuffer(c.BufferBytes, c.BusAddress),
		events: make(chan HardwareEvent, c.EventQueue),
	}
	if d.caps.BufferBytesMax > c.BufferBytes {
		d.caps.BufferBytesMax = c.BufferBytes
	}

	d.ctl.init()
	d.playback = newStream(d, STREAM_PLAYBACK)
	d.capture = newStream(d, STREAM_CAPTURE)

	if att, ok := bus.(DMAAttacher); ok {
		att.AttachDMA(d.dma.data)
	}

	if err := d.Init(); err != nil {
		return nil, err
	}

	if src, ok := bus.(InterruptSource); ok {
		if ch := src.Interrupts(); ch != nil {
			d.irqStop = make(chan struct{})
			d.irqDone = make(chan struct{})
			go d.serviceInterrupts(ch)
		}
	}

	return d, nil
}

// Capabilities returns the descriptor used to validate stream
// configuration.
func (d *Device) Capabilities() Capabilities {
	return d.caps
}

// Playback returns the playback direction stream.
func (d *Device) Playback() *Stream {
	return d.playback
}

// Capture returns the capture direction stream.
func (d *Device) Capture() *Stream {
	return d.capture
}

// Stream returns the stream for dir.
func (d *Device) Stream(dir Direction) *Stream {
	if dir == STREAM_CAPTURE {
		return d.capture
	}

	return d.playback
}

// Running reports whether the shared DMA engine is expected to be active.
func (d *Device) Running() bool {
	return d.running.Load()
}

// Events returns the channel carrying asynchronous hardware fault events.
// The channel is never closed; when the queue is full further events are
// dropped and the condition stays latched in the status register.
func (d *Device) Events() <-chan HardwareEvent {
	return d.events
}

// otherRunning reports the running flag of the direction opposite s.
func (d *Device) otherRunning(s *Stream) bool {
	if s == d.playback {
		return d.capture.running.Load()
	}

	return d.playback.running.Load()
}

// Init resets the device and waits for it to report ready: write the reset
// opcode, allow the settle time, then poll the ready bit a bounded number
// of times. On success the default clock configuration is programmed. Init
// does not retry; a caller that wants a second attempt after a transient
// ErrTimeout issues it explicitly.
func (d *Device) Init() error {
	if err := d.bus.WriteRegister(APOLLO_REG_CONTROL, APOLLO_CMD_RESET); err != nil {
		return fmt.Errorf("device reset failed: %w", err)
	}

	time.Sleep(resetSettleTime)

	ready := false
	for i := 0; i < readyPollCount; i++ {
		status, err := d.bus.ReadRegister(APOLLO_REG_STATUS)
		if err != nil {
			return fmt.Errorf("device status read failed: %w", err)
		}
		if status&APOLLO_STATUS_READY != 0 {
			ready = true

			break
		}

		time.Sleep(readyPollInterval)
	}
	if !ready {
		return fmt.Errorf("device not ready after reset: %w", ErrTimeout)
	}

	// Acknowledge the ready we consumed so the next interrupt dispatch
	// starts from a clean status.
	if err := d.bus.WriteRegister(APOLLO_REG_STATUS, APOLLO_STATUS_READY); err != nil {
		return fmt.Errorf("device ready acknowledge failed: %w", err)
	}

	if err := d.bus.WriteRegister(APOLLO_REG_SAMPLE_RATE, DefaultStreamConfig().Rate); err != nil {
		return fmt.Errorf("default rate program failed: %w", err)
	}
	if err := d.bus.WriteRegister(APOLLO_REG_FORMAT, uint32(APOLLO_FORMAT_S32_LE)); err != nil {
		return fmt.Errorf("default format program failed: %w", err)
	}

	return nil
}

// Suspend quiesces the device for a power transition. Running streams move
// to Stopped so their owners can Prepare and Start again after Resume, and
// the DMA stop opcode is written unconditionally, best effort, even when no
// stream was running.
func (d *Device) Suspend() error {
	d.playback.quiesce()
	d.capture.quiesce()

	d.triggerMu.Lock()
	defer d.triggerMu.Unlock()

	d.running.Store(false)

	if err := d.bus.WriteRegister(APOLLO_REG_DMA_CONTROL, APOLLO_CMD_STOP); err != nil {
		return fmt.Errorf("suspend stop failed: %w", err)
	}

	return nil
}

// Resume re-runs the full init sequence after a power transition. Register
// state programmed before the suspend is not assumed to have survived, so
// stream owners must Prepare again before starting; their streams sit in
// Stopped after a Suspend.
func (d *Device) Resume() error {
	return d.Init()
}

// Close stops both streams, shuts down the interrupt service loop and
// closes the bus. Close is idempotent and safe to call on a device whose
// hardware is already gone.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		_ = d.playback.Close()
		_ = d.capture.Close()

		if d.irqStop != nil {
			close(d.irqStop)
			<-d.irqDone
		}

		d.closeErr = d.bus.Close()
	})

	return d.closeErr
}

// serviceInterrupts dispatches device signals until the source channel
// closes or the device shuts down.
func (d *Device) serviceInterrupts(ch <-chan struct{}) {
	defer close(d.irqDone)

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-d.irqStop:
			return
		}

		if err := d.HandleInterrupt(); err != nil {
			if errors.Is(err, ErrResourceGone) {
				return
			}

			select {
			case d.events <- HardwareEvent{Err: err}:
			default:
			}
		}
	}
}
