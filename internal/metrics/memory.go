package metrics

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemorySample is one reading of process and system memory in bytes
type MemorySample struct {
	RSS             uint64
	SystemAvailable uint64
}

// SampleMemory reads the current process RSS and available system memory
// and updates the gauges
func (c *Collector) SampleMemory() (MemorySample, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return MemorySample{}, errors.Wrap(err, "failed to open current process")
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return MemorySample{}, errors.Wrap(err, "failed to read process memory")
	}
	sample := MemorySample{RSS: info.RSS}
	c.processRSS.Set(float64(info.RSS))

	// System memory is informational; process RSS is what bounds a job
	if v, err := mem.VirtualMemory(); err == nil {
		sample.SystemAvailable = v.Available
		c.systemAvailable.Set(float64(v.Available))
	} else {
		c.logger.Debug("Failed to read system memory", "error", err)
	}
	return sample, nil
}
