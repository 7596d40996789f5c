package apollo

// Register offsets into the device's MMIO window.
// These values correspond to the APOLLO_REG_* constants in the vendor
// register map. All registers are 32 bits wide.
const (
	APOLLO_REG_CONTROL     = 0x00 // Command opcode submission.
	APOLLO_REG_STATUS      = 0x04 // Ready/running/error bits; write the observed value back to acknowledge.
	APOLLO_REG_SAMPLE_RATE = 0x08 // Active sample rate in Hz.
	APOLLO_REG_FORMAT      = 0x0C // Active sample format code.
	APOLLO_REG_DMA_ADDR    = 0x10 // DMA buffer bus address; reads report the current hardware position while running.
	APOLLO_REG_DMA_SIZE    = 0x14 // DMA buffer length in bytes.
	APOLLO_REG_DMA_CONTROL = 0x18 // DMA engine start/stop commands.
)

// APOLLO_REG_EXTENT is the size of the register window in bytes.
const APOLLO_REG_EXTENT = 0x1C

// Commands accepted by the control and DMA-control registers.
const (
	APOLLO_CMD_START = 0x01
	APOLLO_CMD_STOP  = 0x02
	APOLLO_CMD_RESET = 0x03
)

// Status register bits. Ready and error are independent and may be observed
// set in the same read.
const (
	APOLLO_STATUS_READY   = 1 << 0 // Device ready / command complete / period elapsed.
	APOLLO_STATUS_RUNNING = 1 << 1 // DMA engine active.
	APOLLO_STATUS_ERROR   = 1 << 2 // Hardware fault latched.
)

// RegisterBus provides word-sized access to a device register window.
// Accesses are single ordered 32-bit loads and stores; no partial-width
// access is defined. Implementations must not cache register values.
type RegisterBus interface {
	// ReadRegister performs a single ordered 32-bit load from offset.
	ReadRegister(offset uint32) (uint32, error)

	// WriteRegister performs a single ordered 32-bit store to offset.
	// The effect on hardware state is not assumed visible before a later
	// read or interrupt observes it.
	WriteRegister(offset uint32, value uint32) error

	// Close revokes access to the window. Accesses after Close fail with
	// ErrResourceGone.
	Close() error
}
