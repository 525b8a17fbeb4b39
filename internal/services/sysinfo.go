package services

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// AvailableMemory returns the memory available for new work, in bytes
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading memory statistics: %w", err)
	}
	return vm.Available, nil
}

// WorkerSlots returns how many tasks with the given memory allowance fit
// into available memory, at least one, capped by maxWorkers when positive
func WorkerSlots(available uint64, allowanceMB int, maxWorkers int) int {
	slots := 1
	if allowanceMB > 0 {
		if n := int(available / (uint64(allowanceMB) << 20)); n > slots {
			slots = n
		}
	}
	if maxWorkers > 0 && slots > maxWorkers {
		slots = maxWorkers
	}
	return slots
}
