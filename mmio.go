package apollo

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MappedBus provides register access through a memory mapping of a device
// resource file, typically /sys/bus/pci/devices/<addr>/resource0.
// Loads and stores go through 32-bit atomics so values observed across the
// interrupt boundary are never stale or torn.
type MappedBus struct {
	file *os.File
	mem  []byte
}

// OpenMappedBus opens the resource file at path and maps at least size bytes
// of it. The mapping length is rounded up to the page size.
func OpenMappedBus(path string, size uint32) (*MappedBus, error) {
	if size < APOLLO_REG_EXTENT {
		size = APOLLO_REG_EXTENT
	}

	// O_SYNC keeps the mapping uncached, which register windows require.
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource %s: %w", path, err)
	}

	pageSize := os.Getpagesize()
	mapLen := int(size)
	if rem := mapLen % pageSize; rem != 0 {
		mapLen += pageSize - rem
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("mmap of %s failed: %w", path, err)
	}

	return &MappedBus{file: file, mem: mem}, nil
}

// word returns a pointer to the 32-bit register cell at offset.
func (b *MappedBus) word(offset uint32) (*uint32, error) {
	if b == nil || b.mem == nil {
		return nil, ErrResourceGone
	}

	if offset%4 != 0 || int(offset)+4 > len(b.mem) {
		return nil, fmt.Errorf("register offset 0x%02x out of window: %w", offset, ErrInvalidParameter)
	}

	return (*uint32)(unsafe.Pointer(&b.mem[offset])), nil
}

// ReadRegister performs a single ordered 32-bit load from the mapping.
func (b *MappedBus) ReadRegister(offset uint32) (uint32, error) {
	p, err := b.word(offset)
	if err != nil {
		return 0, err
	}

	return atomic.LoadUint32(p), nil
}

// WriteRegister performs a single ordered 32-bit store to the mapping.
func (b *MappedBus) WriteRegister(offset uint32, value uint32) error {
	p, err := b.word(offset)
	if err != nil {
		return err
	}

	atomic.StoreUint32(p, value)

	return nil
}

// Close unmaps the register window and closes the resource file.
// Accesses after Close fail with ErrResourceGone.
func (b *MappedBus) Close() error {
	if b == nil || b.mem == nil {
		return nil
	}

	err := unix.Munmap(b.mem)
	b.mem = nil

	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	b.file = nil

	if err != nil {
		return fmt.Errorf("failed to release register mapping: %w", err)
	}

	return nil
}
