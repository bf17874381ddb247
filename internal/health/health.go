// Package health reports the kiosk's machine vitals: the booth runs
// unattended, so a remote operator needs disk headroom for the upload tree
// and basic memory/uptime figures without shelling into the box.
package health

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one observation of the kiosk's vitals.
type Snapshot struct {
	UploadDir       string  `json:"uploadDir"`
	DiskTotalBytes  uint64  `json:"diskTotalBytes"`
	DiskFreeBytes   uint64  `json:"diskFreeBytes"`
	DiskUsedPercent float64 `json:"diskUsedPercent"`
	MemUsedPercent  float64 `json:"memUsedPercent"`
	UptimeSeconds   uint64  `json:"uptimeSeconds"`
	CollectedAt     string  `json:"collectedAt"`
}

// Collector probes the filesystem holding the upload tree.
type Collector struct {
	uploadDir string
}

func NewCollector(uploadDir string) *Collector {
	return &Collector{uploadDir: uploadDir}
}

func (c *Collector) Collect() (*Snapshot, error) {
	usage, err := disk.Usage(c.uploadDir)
	if err != nil {
		return nil, fmt.Errorf("disk usage for %s: %w", c.uploadDir, err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("reading memory stats: %w", err)
	}
	uptime, err := host.Uptime()
	if err != nil {
		return nil, fmt.Errorf("reading host uptime: %w", err)
	}

	return &Snapshot{
		UploadDir:       c.uploadDir,
		DiskTotalBytes:  usage.Total,
		DiskFreeBytes:   usage.Free,
		DiskUsedPercent: usage.UsedPercent,
		MemUsedPercent:  vm.UsedPercent,
		UptimeSeconds:   uptime,
		CollectedAt:     time.Now().UTC().Format(time.RFC3339),
	}, nil
}
