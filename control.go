package apollo

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCommandTimeout bounds the response wait for a ControlCommand that
// does not set its own timeout.
const DefaultCommandTimeout = 100 * time.Millisecond

// ControlCommand describes one submission on the device control channel.
// Commands are short-lived values created per call.
type ControlCommand struct {
	// Opcode is the raw command word written to the control register. The
	// engine does not interpret it; payload encodings for gain, phantom
	// power and routing come from a device-specific CommandCodec.
	Opcode uint32

	// ExpectResponse blocks the submitter until the interrupt path signals
	// ready, then returns the status register content as the response.
	ExpectResponse bool

	// Timeout bounds the response wait; zero selects DefaultCommandTimeout.
	Timeout time.Duration
}

// controlChannel serializes command submission and carries the ready wakeup
// from the interrupt path to the waiting submitter.
type controlChannel struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64 // wakeup generation, bumped by the interrupt path
}

func (c *controlChannel) init() {
	c.cond = sync.NewCond(&c.mu)
}

// signal wakes a pending submitter. Invoked by interrupt dispatch when the
// ready bit is observed.
func (c *controlChannel) signal() {
	c.mu.Lock()
	c.gen++
	c.cond.Broadcast()
	c.mu.Unlock()
}

// SubmitCommand writes an opcode to the control register and, when a
// response is expected, waits for the interrupt path to signal ready,
// returning the status register content as the response.
//
// One command is in flight per device at a time; commands are never
// pipelined. The submission lock is released on every exit path, including
// timeout and error. A wait is cancelled only by its own timeout.
func (d *Device) SubmitCommand(cmd ControlCommand) (uint32, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	c := &d.ctl
	c.mu.Lock()
	defer c.mu.Unlock()

	// Snapshot the generation before the opcode write so a ready that
	// arrives between the write and the wait is never missed.
	start := c.gen

	if err := d.bus.WriteRegister(APOLLO_REG_CONTROL, cmd.Opcode); err != nil {
		return 0, fmt.Errorf("command 0x%08x submit failed: %w", cmd.Opcode, err)
	}

	if !cmd.ExpectResponse {
		return 0, nil
	}

	deadline := time.Now().Add(timeout)

	// The timer takes the channel lock before broadcasting, so the wakeup
	// cannot fall into the gap between the deadline check and the wait.
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	for c.gen == start {
		if !time.Now().Before(deadline) {
			return 0, fmt.Errorf("command 0x%08x: %w", cmd.Opcode, ErrTimeout)
		}

		c.cond.Wait()
	}

	status, err := d.bus.ReadRegister(APOLLO_REG_STATUS)
	if err != nil {
		return 0, fmt.Errorf("command 0x%08x response read failed: %w", cmd.Opcode, err)
	}

	if status&APOLLO_STATUS_ERROR != 0 {
		return status, fmt.Errorf("command 0x%08x: %w", cmd.Opcode, ErrDeviceError)
	}

	return status, nil
}
