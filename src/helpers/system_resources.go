package helpers

import (
	"context"
	"runtime"

	"market-stream/src/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSnapshot samples host CPU and memory usage for the health endpoint.
// Fields that cannot be read are left at zero.
func SystemSnapshot(ctx context.Context) models.MSystemStats {
	stats := models.MSystemStats{Goroutines: runtime.NumGoroutine()}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / 1024 / 1024
	}

	// Zero interval compares against the previous call, so this never blocks.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	return stats
}
