package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/wildwatch-go/internal/logger"
)

// MountGroup represents a group of paths sharing the same mount point
type MountGroup struct {
	MountPoint string   `json:"mount_point"` // e.g. "/"
	Device     string   `json:"device"`      // e.g. "/dev/mmcblk0p2"
	Fstype     string   `json:"fstype"`      // e.g. "ext4"
	Paths      []string `json:"paths"`
}

// mountMatch returns the partition with the longest mount point containing
// resolvedPath
func mountMatch(resolvedPath string, partitions []disk.PartitionStat) (disk.PartitionStat, bool) {
	var best disk.PartitionStat
	bestLen := 0

	for _, p := range partitions {
		mp := p.Mountpoint
		if !strings.HasPrefix(resolvedPath, mp) {
			continue
		}
		if resolvedPath == mp || len(mp) == 1 || strings.HasPrefix(resolvedPath, mp+"/") {
			if len(mp) > bestLen {
				best, bestLen = p, len(mp)
			}
		}
	}
	return best, bestLen > 0
}

// mountInfo resolves symlinks in path and finds its partition
func mountInfo(path string, partitions []disk.PartitionStat) (disk.PartitionStat, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return disk.PartitionStat{}, fmt.Errorf("path does not exist: %s: %w", path, err)
		}
		resolved = path
	}

	p, ok := mountMatch(resolved, partitions)
	if !ok {
		return disk.PartitionStat{}, fmt.Errorf("no mount point found for path: %s", path)
	}
	return p, nil
}

// groupPathsByMountPoint groups paths by their underlying mount point.
// Partitions are listed once for all paths.
func groupPathsByMountPoint(paths []string) ([]MountGroup, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("failed to get partitions: %w", err)
	}
	return groupPathsWithPartitions(paths, partitions, mountInfo), nil
}

type mountResolver func(path string, partitions []disk.PartitionStat) (disk.PartitionStat, error)

func groupPathsWithPartitions(paths []string, partitions []disk.PartitionStat, resolve mountResolver) []MountGroup {
	groups := make(map[string]*MountGroup)

	for _, path := range paths {
		p, err := resolve(path, partitions)
		if err != nil {
			GetLogger().Debug("skipping path for mount grouping",
				logger.String("path", path),
				logger.Error(err))
			continue
		}

		if group, exists := groups[p.Mountpoint]; exists {
			group.Paths = append(group.Paths, path)
			continue
		}
		groups[p.Mountpoint] = &MountGroup{
			MountPoint: p.Mountpoint,
			Device:     p.Device,
			Fstype:     p.Fstype,
			Paths:      []string{path},
		}
	}

	result := make([]MountGroup, 0, len(groups))
	for _, group := range groups {
		slices.Sort(group.Paths)
		result = append(result, *group)
	}
	slices.SortFunc(result, func(a, b MountGroup) int { return strings.Compare(a.MountPoint, b.MountPoint) })
	return result
}
