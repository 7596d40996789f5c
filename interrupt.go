package apollo

import "fmt"

// HardwareEvent describes a condition observed by the interrupt path for
// which no synchronous caller is waiting.
type HardwareEvent struct {
	// Status is the raw status word observed during dispatch.
	Status uint32
	// Err classifies the condition; it wraps ErrDeviceError.
	Err error
}

// HandleInterrupt services one device signal. It reads the status register
// once, fans the observed bits out and writes the observed value back to
// acknowledge, which keeps a level-triggered line from storming.
//
// The error and ready bits are independent and one dispatch may produce both
// effects: an error clears the running flags and surfaces a HardwareEvent;
// ready notifies period-elapsed on both directions and wakes a control
// channel waiter. Work per dispatch is bounded and event delivery never
// blocks.
func (d *Device) HandleInterrupt() error {
	status, err := d.bus.ReadRegister(APOLLO_REG_STATUS)
	if err != nil {
		return fmt.Errorf("interrupt status read failed: %w", err)
	}

	if status&APOLLO_STATUS_ERROR != 0 {
		// Stop the running flags but leave the stream states alone; the
		// owners observe the event and decide. No retry at this layer.
		d.running.Store(false)
		d.playback.running.Store(false)
		d.capture.running.Store(false)

		ev := HardwareEvent{
			Status: status,
			Err:    fmt.Errorf("hardware fault, status 0x%02x: %w", status, ErrDeviceError),
		}
		select {
		case d.events <- ev:
		default:
			// Queue full; the condition is still latched in the status
			// register for the lifecycle owner to inspect.
		}
	}

	if status&APOLLO_STATUS_READY != 0 {
		d.playback.periodElapsed()
		d.capture.periodElapsed()
		d.ctl.signal()
	}

	if err := d.bus.WriteRegister(APOLLO_REG_STATUS, status); err != nil {
		return fmt.Errorf("interrupt acknowledge failed: %w", err)
	}

	return nil
}
