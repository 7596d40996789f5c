package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

const (
	thunderboltPath = "/sys/bus/thunderbolt/devices"
	pciPath         = "/sys/bus/pci/devices"
)

// apolloVendorID is the Universal Audio PCI vendor ID the way sysfs
// prints it.
var apolloVendorID = fmt.Sprintf("0x%04x", apollo.APOLLO_VENDOR_ID)

func main() {
	var (
		verbose         bool
		thunderboltOnly bool
		pciOnly         bool
	)

	flag.BoolVar(&verbose, "v", false, "Show detailed device information")
	flag.BoolVar(&thunderboltOnly, "t", false, "Scan Thunderbolt devices only")
	flag.BoolVar(&pciOnly, "p", false, "Scan PCI devices only")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Apollo Device Detection Tool")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}

	flag.Parse()

	fmt.Println("Apollo Twin Device Detection Tool")
	fmt.Println("==================================")
	fmt.Println()

	checkKernelModule()

	totalFound := 0

	if !pciOnly {
		totalFound += scanDevices(thunderboltPath, isThunderboltApollo, verbose, "Thunderbolt")
	}

	if !thunderboltOnly {
		totalFound += scanDevices(pciPath, isApolloPCI, verbose, "PCI")
	}

	if totalFound == 0 {
		fmt.Println("No Apollo devices detected.")
		fmt.Println()
		fmt.Println("Troubleshooting steps:")
		fmt.Println("1. Ensure the device is connected via Thunderbolt")
		fmt.Println("2. Authorize the device: sudo thunderboltctl authorize <domain>:<port>")
		fmt.Println("3. Load the kernel module: sudo modprobe apollo")
		fmt.Println("4. Check kernel logs: dmesg | grep -i apollo")
	} else {
		fmt.Println("Apollo device(s) detected successfully!")
		fmt.Println("You can now use the device with ALSA/PipeWire applications.")
	}
}

// readAttr reads one sysfs attribute of a device, with the trailing newline
// stripped.
func readAttr(devicePath, name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(devicePath, name))
	if err != nil {
		return "", false
	}

	return strings.TrimSpace(string(data)), true
}

// isApolloPCI reports whether the PCI device at devicePath carries the
// Universal Audio vendor ID.
func isApolloPCI(devicePath string) bool {
	vendor, ok := readAttr(devicePath, "vendor")

	return ok && vendor == apolloVendorID
}

// isThunderboltApollo reports whether the Thunderbolt device at devicePath
// advertises an Apollo device name.
func isThunderboltApollo(devicePath string) bool {
	name, ok := readAttr(devicePath, "device_name")

	return ok && strings.Contains(name, "Apollo")
}

func printDeviceInfo(devicePath string, verbose bool) {
	fmt.Printf("Device: %s\n", devicePath)

	if verbose {
		attrs := []string{
			"vendor", "device", "subsystem_vendor", "subsystem_device",
			"class", "device_name", "authorized", "unique_id",
		}
		for _, attr := range attrs {
			if value, ok := readAttr(devicePath, attr); ok {
				fmt.Printf("  %s: %s\n", attr, value)
			}
		}
	}

	fmt.Println()
}

func scanDevices(busPath string, check func(string) bool, verbose bool, busName string) int {
	entries, err := os.ReadDir(busPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", busPath, err)

		return 0
	}

	fmt.Printf("Scanning %s devices...\n", busName)

	found := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		devicePath := filepath.Join(busPath, entry.Name())
		if check(devicePath) {
			printDeviceInfo(devicePath, verbose)
			found++
		}
	}

	if found == 0 {
		fmt.Printf("No Apollo devices found on %s bus.\n\n", busName)
	} else {
		fmt.Printf("Found %d Apollo device(s) on %s bus.\n\n", found, busName)
	}

	return found
}

// checkKernelModule looks for the apollo module in /proc/modules.
func checkKernelModule() {
	fmt.Println("Checking kernel module status...")

	loaded := false
	if f, err := os.Open("/proc/modules"); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "apollo ") {
				loaded = true

				break
			}
		}
		_ = f.Close()
	}

	if loaded {
		fmt.Println("✓ Apollo kernel module is loaded")
	} else {
		fmt.Println("✗ Apollo kernel module is not loaded")
		fmt.Println("  Run 'sudo modprobe apollo' to load it")
	}

	fmt.Println()
}
