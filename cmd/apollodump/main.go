package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

// maxDumpSize bounds one dump to 1MB.
const maxDumpSize = 1024 * 1024

func main() {
	var (
		useMem    bool
		binOutput bool
		wordFmt   bool
		dwordFmt  bool
		regsFmt   bool
	)

	flag.BoolVar(&useMem, "m", false, "Dump from /dev/mem (requires root)")
	flag.BoolVar(&binOutput, "b", false, "Binary output (default: hex)")
	flag.BoolVar(&wordFmt, "w", false, "32-bit word format")
	flag.BoolVar(&dwordFmt, "d", false, "64-bit word format")
	flag.BoolVar(&regsFmt, "regs", false, "Annotate known Apollo registers in the dumped window")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Apollo Register Dump Tool")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <device> <offset> [size]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Arguments:")
		fmt.Fprintln(os.Stderr, "  device    PCI device (e.g., 0000:01:00.0) or resource file")
		fmt.Fprintln(os.Stderr, "  offset    Register offset in hex (e.g., 0x00)")
		fmt.Fprintln(os.Stderr, "  size      Number of bytes to dump (default: 256)")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nExamples:")
		fmt.Fprintf(os.Stderr, "  %s /sys/bus/pci/devices/0000:01:00.0/resource0 0x00 256\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -m 0xfebf1000 0x00 1024\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -w -regs 0000:01:00.0 0x00 0x1c\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nWARNING: Direct hardware access can be dangerous!")
	}

	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	device := flag.Arg(0)

	offset, err := strconv.ParseUint(flag.Arg(1), 0, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid offset: %s\n", flag.Arg(1))
		os.Exit(1)
	}

	size := uint64(256)
	if flag.NArg() >= 3 {
		size, err = strconv.ParseUint(flag.Arg(2), 0, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid size: %s\n", flag.Arg(2))
			os.Exit(1)
		}
	}

	if size == 0 || size > maxDumpSize {
		fmt.Fprintf(os.Stderr, "Dump size too large (max %d bytes)\n", maxDumpSize)
		os.Exit(1)
	}

	fmt.Println("Apollo Register Dump Tool")
	fmt.Println("=========================")
	fmt.Printf("Device: %s\n", device)
	fmt.Printf("Offset: 0x%x\n", offset)
	fmt.Printf("Size: %d bytes\n\n", size)

	var (
		data    []byte
		base    uint64
		cleanup func()
	)

	if useMem {
		if os.Geteuid() != 0 {
			fmt.Fprintln(os.Stderr, "Root privileges required for /dev/mem access")
			os.Exit(1)
		}

		physBase, err := strconv.ParseUint(device, 0, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid physical address: %s\n", device)
			os.Exit(1)
		}

		base = physBase + offset
		data, cleanup, err = mapRegion("/dev/mem", base, size)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Printf("Dumping from physical address 0x%x:\n", base)
	} else {
		resourcePath, err := findPCIResource(device)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		base = offset
		data, cleanup, err = mapRegion(resourcePath, offset, size)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Printf("Dumping from %s + 0x%x:\n", resourcePath, offset)
	}
	defer cleanup()

	switch {
	case binOutput:
		_, _ = os.Stdout.Write(data)
	case wordFmt && len(data)%4 == 0:
		dumpWords(data, base)
	case dwordFmt && len(data)%8 == 0:
		dumpDwords(data, base)
	default:
		dumpHex(data, base)
	}

	if regsFmt {
		dumpRegisters(data, base)
	}
}

// findPCIResource resolves a PCI device address to its BAR0 resource file.
// Anything that already looks like a path is used as-is.
func findPCIResource(device string) (string, error) {
	if strings.ContainsRune(device, '/') {
		return device, nil
	}

	configPath := fmt.Sprintf("/sys/bus/pci/devices/%s/config", device)
	cfg, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PCI config: %s", configPath)
	}

	if len(cfg) >= 2 {
		vendor := binary.LittleEndian.Uint16(cfg)
		if vendor != apollo.APOLLO_VENDOR_ID {
			fmt.Fprintf(os.Stderr, "Warning: Device vendor ID 0x%04x doesn't match Apollo (0x%04x)\n",
				vendor, uint16(apollo.APOLLO_VENDOR_ID))
		}
	}

	return fmt.Sprintf("/sys/bus/pci/devices/%s/resource0", device), nil
}

// mapRegion maps [offset, offset+size) of path read-only. The mapping start
// is aligned down to a page boundary; the returned slice covers exactly the
// requested window.
func mapRegion(path string, offset, size uint64) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %v", path, err)
	}

	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		end := uint64(st.Size())
		if offset >= end {
			_ = f.Close()

			return nil, nil, fmt.Errorf("offset 0x%x beyond end of %s", offset, path)
		}
		if offset+size > end {
			size = end - offset
		}
	}

	pageMask := uint64(os.Getpagesize() - 1)
	alignedOff := offset &^ pageMask
	skew := offset - alignedOff

	mem, err := unix.Mmap(int(f.Fd()), int64(alignedOff), int(skew+size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		_ = f.Close()

		return nil, nil, fmt.Errorf("failed to mmap %s: %v", path, err)
	}

	cleanup := func() {
		_ = unix.Munmap(mem)
		_ = f.Close()
	}

	return mem[skew : skew+size], cleanup, nil
}

func dumpHex(data []byte, base uint64) {
	for i := 0; i < len(data); i += 16 {
		fmt.Printf("%08x: ", base+uint64(i))

		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Printf("%02x ", data[i+j])
			} else {
				fmt.Print("   ")
			}
		}

		fmt.Print(" ")

		for j := 0; j < 16 && i+j < len(data); j++ {
			c := data[i+j]
			if c >= 32 && c <= 126 {
				fmt.Printf("%c", c)
			} else {
				fmt.Print(".")
			}
		}

		fmt.Println()
	}
}

func dumpWords(data []byte, base uint64) {
	for i := 0; i < len(data); i += 16 {
		fmt.Printf("%08x:", base+uint64(i))
		for j := i; j < i+16 && j+4 <= len(data); j += 4 {
			fmt.Printf(" %08x", binary.LittleEndian.Uint32(data[j:]))
		}
		fmt.Println()
	}
}

func dumpDwords(data []byte, base uint64) {
	for i := 0; i < len(data); i += 16 {
		fmt.Printf("%08x:", base+uint64(i))
		for j := i; j < i+16 && j+8 <= len(data); j += 8 {
			fmt.Printf(" %016x", binary.LittleEndian.Uint64(data[j:]))
		}
		fmt.Println()
	}
}

// dumpRegisters decodes the known Apollo registers that fall inside the
// dumped window.
func dumpRegisters(data []byte, base uint64) {
	regs := []struct {
		off  uint32
		name string
	}{
		{apollo.APOLLO_REG_CONTROL, "CONTROL"},
		{apollo.APOLLO_REG_STATUS, "STATUS"},
		{apollo.APOLLO_REG_SAMPLE_RATE, "SAMPLE_RATE"},
		{apollo.APOLLO_REG_FORMAT, "FORMAT"},
		{apollo.APOLLO_REG_DMA_ADDR, "DMA_ADDR"},
		{apollo.APOLLO_REG_DMA_SIZE, "DMA_SIZE"},
		{apollo.APOLLO_REG_DMA_CONTROL, "DMA_CONTROL"},
	}

	var lines []string
	for _, r := range regs {
		off := uint64(r.off)
		if off < base || off+4 > base+uint64(len(data)) {
			continue
		}

		v := binary.LittleEndian.Uint32(data[off-base:])

		extra := ""
		if r.off == apollo.APOLLO_REG_STATUS {
			var bits []string
			if v&apollo.APOLLO_STATUS_READY != 0 {
				bits = append(bits, "ready")
			}
			if v&apollo.APOLLO_STATUS_RUNNING != 0 {
				bits = append(bits, "running")
			}
			if v&apollo.APOLLO_STATUS_ERROR != 0 {
				bits = append(bits, "error")
			}
			if len(bits) > 0 {
				extra = " (" + strings.Join(bits, ",") + ")"
			}
		}

		lines = append(lines, fmt.Sprintf("  %-12s 0x%02x: %08x%s", r.name, r.off, v, extra))
	}

	if len(lines) == 0 {
		return
	}

	fmt.Println()
	fmt.Println("Registers:")
	for _, line := range lines {
		fmt.Println(line)
	}
}
