package monitor

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wwerrors "github.com/tphakala/wildwatch-go/internal/errors"
)

func fixedUsage(freeMB uint64) usageFunc {
	return func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 1024 * bytesPerMB, Free: freeMB * bytesPerMB}, nil
	}
}

func TestDiskGuard_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		freeMB  uint64
		size    int
		wantErr bool
	}{
		{"plenty of space", 500, 120, false},
		{"exactly at floor after write", 100, 0, false},
		{"write would cross floor", 100, 1, true},
		{"below floor", 20, 120, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewDiskGuard(100)
			g.usage = fixedUsage(tt.freeMB)

			err := g.Check(filepath.Join(t.TempDir(), "detections.csv"), tt.size)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, wwerrors.IsCategory(err, wwerrors.CategoryDiskUsage))
		})
	}
}

func TestDiskGuard_UsageFailureAllowsWrite(t *testing.T) {
	t.Parallel()

	g := NewDiskGuard(100)
	g.usage = func(string) (*disk.UsageStat, error) { return nil, errors.New("statfs failed") }

	require.NoError(t, g.Check("/nonexistent/dir/detections.csv", 10))
}

func TestDiskGuard_TracksTransitions(t *testing.T) {
	t.Parallel()

	free := uint64(50)
	g := NewDiskGuard(100)
	g.usage = func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: free * bytesPerMB}, nil
	}
	path := filepath.Join(t.TempDir(), "detections.csv")

	require.Error(t, g.Check(path, 1))
	assert.True(t, g.low)

	free = 500
	require.NoError(t, g.Check(path, 1))
	assert.False(t, g.low)
}

func TestDiskGuard_ChecksNearestExistingDirectory(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	var seen string
	g := NewDiskGuard(1)
	g.usage = func(path string) (*disk.UsageStat, error) {
		seen = path
		return &disk.UsageStat{Free: 10 * bytesPerMB}, nil
	}

	require.NoError(t, g.Check(filepath.Join(base, "not", "yet", "created.csv"), 1))
	assert.Equal(t, base, seen)
}

func TestUsageForGroups_SkipsFailures(t *testing.T) {
	t.Parallel()

	groups := []MountGroup{
		{MountPoint: "/", Fstype: "ext4", Paths: []string{"/var/lib/wildwatch"}},
		{MountPoint: "/mnt/usb", Fstype: "vfat", Paths: []string{"/mnt/usb/relay"}},
	}
	usage := func(path string) (*disk.UsageStat, error) {
		if path == "/mnt/usb" {
			return nil, errors.New("device removed")
		}
		return &disk.UsageStat{Total: 2048 * bytesPerMB, Free: 512 * bytesPerMB, UsedPercent: 75}, nil
	}

	statuses := usageForGroups(groups, usage)
	require.Len(t, statuses, 1)
	assert.Equal(t, "/", statuses[0].MountPoint)
	assert.Equal(t, "/ (ext4) 75.0% used, 512 MB free", statuses[0].String())
}

func TestDiskStatus_RealFilesystem(t *testing.T) {
	t.Parallel()

	statuses, err := DiskStatus([]string{t.TempDir()})
	require.NoError(t, err)
	// containers may hide the backing partition from the physical list
	for _, s := range statuses {
		assert.Positive(t, s.TotalBytes)
	}
}
