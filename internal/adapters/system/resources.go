package system

import (
	"context"
	"fmt"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pgmedic/pgmedic/internal/core"
)

// Resources is a point-in-time host utilization snapshot plus a static
// hardware inventory.
type Resources struct {
	Load1             float64     `json:"load_1"`
	Load5             float64     `json:"load_5"`
	Load15            float64     `json:"load_15"`
	CPUPercent        float64     `json:"cpu_percent"`
	MemoryUsedPercent float64     `json:"memory_used_percent"`
	MemoryTotalMB     uint64      `json:"memory_total_mb"`
	Disks             []DiskUsage `json:"disks,omitempty"`
	Inventory         *Inventory  `json:"inventory,omitempty"`
}

// DiskUsage is one mounted filesystem's utilization.
type DiskUsage struct {
	Mountpoint  string  `json:"mountpoint"`
	UsedPercent float64 `json:"used_percent"`
	TotalGB     float64 `json:"total_gb"`
}

// Inventory is the static hardware description from ghw. Nil when the
// platform refuses inventory reads; that is a warning, not an error.
type Inventory struct {
	CPUModel     string `json:"cpu_model,omitempty"`
	Cores        uint32 `json:"cores"`
	Threads      uint32 `json:"threads"`
	PhysicalMB   int64  `json:"physical_memory_mb"`
	BlockDevices int    `json:"block_devices"`
}

// Snapshot gathers the utilization snapshot. Inventory failures are reported
// through the returned warning so the caller can degrade instead of failing.
func Snapshot(ctx context.Context) (*Resources, string, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, "", core.ErrMetricsUnavailable("reading memory usage").WithCause(err)
	}
	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, "", core.ErrMetricsUnavailable("reading cpu usage").WithCause(err)
	}

	r := &Resources{
		MemoryUsedPercent: vm.UsedPercent,
		MemoryTotalMB:     vm.Total / 1024 / 1024,
	}
	if len(cpuPct) > 0 {
		r.CPUPercent = cpuPct[0]
	}

	// Load averages are unavailable on some platforms; leave them zero.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		r.Load1, r.Load5, r.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		for _, part := range parts {
			usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
			if err != nil {
				continue
			}
			r.Disks = append(r.Disks, DiskUsage{
				Mountpoint:  part.Mountpoint,
				UsedPercent: usage.UsedPercent,
				TotalGB:     float64(usage.Total) / 1024 / 1024 / 1024,
			})
		}
	}

	warning := ""
	inv, err := inventory()
	if err != nil {
		warning = fmt.Sprintf("hardware inventory unavailable: %v", err)
	}
	r.Inventory = inv

	return r, warning, nil
}

func inventory() (*Inventory, error) {
	cpuInfo, err := ghw.CPU()
	if err != nil {
		return nil, err
	}
	memInfo, err := ghw.Memory()
	if err != nil {
		return nil, err
	}

	inv := &Inventory{
		Cores:      cpuInfo.TotalCores,
		Threads:    cpuInfo.TotalThreads,
		PhysicalMB: memInfo.TotalPhysicalBytes / 1024 / 1024,
	}
	if len(cpuInfo.Processors) > 0 {
		inv.CPUModel = cpuInfo.Processors[0].Model
	}
	// Block inventory needs extra privileges on some hosts; skip quietly.
	if block, err := ghw.Block(); err == nil {
		inv.BlockDevices = len(block.Disks)
	}
	return inv, nil
}
