// Package monitor reports disk usage of the agent's storage paths and keeps
// the event log from filling the disk.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// GetLogger returns the module logger for the monitor
func GetLogger() logger.Logger {
	return logger.Global().Module("monitor")
}

const bytesPerMB = 1024 * 1024

type usageFunc func(path string) (*disk.UsageStat, error)

// DiskGuard rejects writes that would leave less than a configured amount of
// free space on the target filesystem.
type DiskGuard struct {
	minFree uint64
	usage   usageFunc
	log     logger.Logger

	mu  sync.Mutex
	low bool
}

// NewDiskGuard creates a guard keeping minFreeMB megabytes free.
func NewDiskGuard(minFreeMB uint64) *DiskGuard {
	return &DiskGuard{
		minFree: minFreeMB * bytesPerMB,
		usage:   disk.Usage,
		log:     GetLogger(),
	}
}

// existingDir walks up from path to the nearest existing directory
func existingDir(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Check reports an error if writing size bytes to path would cross the
// free space floor. Usage lookups that fail let the write through; the
// write itself reports a full disk.
func (g *DiskGuard) Check(path string, size int) error {
	dir := existingDir(path)
	usage, err := g.usage(dir)
	if err != nil {
		g.log.Debug("disk usage unavailable, skipping free space check",
			logger.String("path", dir),
			logger.Error(err))
		return nil
	}

	need := g.minFree + uint64(max(size, 0))
	low := usage.Free < need

	g.mu.Lock()
	changed := low != g.low
	g.low = low
	g.mu.Unlock()

	if !low {
		if changed {
			g.log.Info("free disk space recovered",
				logger.String("path", dir),
				logger.Uint64("free_mb", usage.Free/bytesPerMB))
		}
		return nil
	}

	if changed {
		g.log.Warn("free disk space below floor, rejecting event log writes",
			logger.String("path", dir),
			logger.Uint64("free_mb", usage.Free/bytesPerMB),
			logger.Uint64("min_free_mb", g.minFree/bytesPerMB))
	}
	return errors.Newf("only %d MB free on %s, %d MB required", usage.Free/bytesPerMB, dir, g.minFree/bytesPerMB).
		Component("monitor").
		Category(errors.CategoryDiskUsage).
		Context("free_mb", usage.Free/bytesPerMB).
		Context("min_free_mb", g.minFree/bytesPerMB).
		Build()
}

// MountStatus is the usage of one filesystem holding agent data.
type MountStatus struct {
	MountGroup
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskStatus reports usage for each filesystem holding one of paths.
func DiskStatus(paths []string) ([]MountStatus, error) {
	groups, err := groupPathsByMountPoint(paths)
	if err != nil {
		return nil, errors.New(err).
			Component("monitor").
			Category(errors.CategorySystem).
			Build()
	}
	return usageForGroups(groups, disk.Usage), nil
}

func usageForGroups(groups []MountGroup, usage usageFunc) []MountStatus {
	statuses := make([]MountStatus, 0, len(groups))
	for _, group := range groups {
		u, err := usage(group.MountPoint)
		if err != nil {
			GetLogger().Debug("failed to read disk usage",
				logger.String("mount_point", group.MountPoint),
				logger.Error(err))
			continue
		}
		statuses = append(statuses, MountStatus{
			MountGroup:  group,
			TotalBytes:  u.Total,
			FreeBytes:   u.Free,
			UsedPercent: u.UsedPercent,
		})
	}
	return statuses
}

// String formats the status for CLI output.
func (m *MountStatus) String() string {
	return fmt.Sprintf("%s (%s) %.1f%% used, %d MB free", m.MountPoint, m.Fstype, m.UsedPercent, m.FreeBytes/bytesPerMB)
}
