// disk_usage.go - disk usage of the filesystems holding managed directories

package diskmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

// DiskSpaceInfo holds disk space information for a managed directory.
type DiskSpaceInfo struct {
	Dir         string  `json:"dir"`
	Files       int     `json:"files"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDetailedDiskUsage returns space figures for the filesystem containing path.
func GetDetailedDiskUsage(ctx context.Context, path string) (DiskSpaceInfo, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskSpaceInfo{}, errors.New(fmt.Errorf("failed to get disk usage: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return DiskSpaceInfo{
		Dir:         path,
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// Usage reports disk usage and file count for each directory and updates the gauges.
func (m *Manager) Usage(ctx context.Context, dirs ...string) ([]DiskSpaceInfo, error) {
	out := make([]DiskSpaceInfo, 0, len(dirs))
	var errs []error
	for _, dir := range dirs {
		start := time.Now()
		info, err := GetDetailedDiskUsage(ctx, dir)
		m.metrics.RecordDuration(metrics.OpDiskCheck, time.Since(start).Seconds())
		if err != nil {
			m.metrics.RecordError(metrics.OpDiskCheck, string(errors.CategoryOf(err)))
			errs = append(errs, err)
			continue
		}
		if files, err := m.ListFiles(dir); err == nil {
			info.Files = len(files)
		}
		m.metrics.UpdateDiskUsage(dir, info.UsedBytes, info.TotalBytes)
		out = append(out, info)
	}
	return out, errors.Join(errs...)
}
