package health

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// hostSnapshot reads CPU, memory, disk, and load via gopsutil. Probe
// failures leave zero values; the resource verdict then reads healthy,
// which is preferable to flapping critical on an unreadable metric.
func hostSnapshot(ctx domain.Context) domain.HostSnapshot {
	snap := domain.HostSnapshot{CPUCount: runtime.NumCPU()}
	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskPercent = du.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
	}
	return snap
}

func joinIssues(issues []string) string {
	return strings.Join(issues, "; ")
}

func newGetRequest(ctx domain.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}
