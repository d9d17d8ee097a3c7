package worker

import (
	"fmt"
	"log"

	sysinfo "github.com/elastic/go-sysinfo"
	"github.com/shirou/gopsutil/v4/mem"
)

// Preflight logs where the worker is running and checks the machine has
// enough free memory to be worth connecting. It runs once, synchronously,
// before the protocol starts, so a worker that would only thrash never
// claims a test.
func (c *Config) Preflight() error {
	if host, err := sysinfo.Host(); err == nil {
		info := host.Info()
		log.Printf("Host %v: %v %v (%v), booted %v", info.Hostname, info.OS.Name, info.OS.Version, info.Architecture, info.BootTime)
	} else {
		log.Printf("Could not determine host info: %v", err)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("could not inspect system memory: %v", err)
	}
	log.Printf("System memory: %v total, %v available (%.1f%% used)", vm.Total, vm.Available, vm.UsedPercent)
	if c.MinAvailableMemoryBytes > 0 && vm.Available < c.MinAvailableMemoryBytes {
		return fmt.Errorf("available memory %v is below required minimum %v", vm.Available, c.MinAvailableMemoryBytes)
	}
	return nil
}
