package dispatch

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// memorySnapshot reports used/total system memory in GB for the tick
// log. All zeros when the platform query fails; callers skip the memory
// segment in that case.
func memorySnapshot() (usedGB, totalGB, percent float64) {
	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return 0, 0, 0
	}
	totalGB = float64(v.Total) / 1024 / 1024 / 1024
	usedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
	percent = usedGB / totalGB * 100
	return usedGB, totalGB, percent
}
