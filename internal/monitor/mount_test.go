package monitor

import (
	"fmt"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// mockPartitions returns a partition list typical of a field device
func mockPartitions() []disk.PartitionStat {
	return []disk.PartitionStat{
		{Device: "/dev/mmcblk0p2", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/mmcblk0p1", Mountpoint: "/boot", Fstype: "vfat"},
		{Device: "/dev/sda1", Mountpoint: "/mnt/data", Fstype: "ext4"},
	}
}

// lexicalResolver skips symlink resolution and existence checks
func lexicalResolver(path string, partitions []disk.PartitionStat) (disk.PartitionStat, error) {
	p, ok := mountMatch(path, partitions)
	if !ok {
		return disk.PartitionStat{}, fmt.Errorf("no mount point found for path: %s", path)
	}
	return p, nil
}

func TestMountMatch(t *testing.T) {
	t.Parallel()

	partitions := mockPartitions()
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/boot", "/boot"},
		{"/boot/firmware", "/boot"},
		{"/bootstrap", "/"},
		{"/var/lib/wildwatch", "/"},
		{"/mnt/data", "/mnt/data"},
		{"/mnt/data/events", "/mnt/data"},
		{"/mnt/database", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			p, ok := mountMatch(tt.path, partitions)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Mountpoint)
		})
	}

	_, ok := mountMatch("/any", nil)
	assert.False(t, ok)
}

func TestGroupPathsWithPartitions(t *testing.T) {
	t.Parallel()

	paths := []string{"/var/lib/wildwatch", "/mnt/data/relay", "/etc/wildwatch", "/mnt/data/events"}
	groups := groupPathsWithPartitions(paths, mockPartitions(), lexicalResolver)

	require.Len(t, groups, 2)
	assert.Equal(t, "/", groups[0].MountPoint)
	assert.Equal(t, "/dev/mmcblk0p2", groups[0].Device)
	assert.Equal(t, []string{"/etc/wildwatch", "/var/lib/wildwatch"}, groups[0].Paths)
	assert.Equal(t, "/mnt/data", groups[1].MountPoint)
	assert.Equal(t, []string{"/mnt/data/events", "/mnt/data/relay"}, groups[1].Paths)

	assert.Empty(t, groupPathsWithPartitions(nil, mockPartitions(), lexicalResolver))
}

func TestGroupPathsByMountPoint_SkipsMissingPaths(t *testing.T) {
	t.Parallel()

	groups, err := groupPathsByMountPoint([]string{"/nonexistent/path/xyz/abc/123"})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStoragePaths(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Store.Path = "/var/lib/wildwatch/detections.csv"
	s.Relay.Enabled = true
	s.Relay.CursorPath = "/var/lib/wildwatch/relay-cursor.json"
	s.Relay.Sink = conf.SinkLocal
	s.Relay.Local.Path = "/mnt/data/relay"
	s.Logging.FileOutput = &logger.FileOutput{Enabled: true, Path: "/var/log/wildwatch/agent.log"}

	assert.Equal(t, []string{"/var/lib/wildwatch", "/mnt/data/relay", "/var/log/wildwatch"}, StoragePaths(s))
}

func TestStoragePaths_RelayDisabled(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Store.Path = "/data/detections.csv"
	s.Relay.CursorPath = "/elsewhere/relay-cursor.json"

	assert.Equal(t, []string{"/data"}, StoragePaths(s))
}

func TestResolvePath_Relative(t *testing.T) {
	t.Setenv("WILDWATCH_TEST_DIR", "events")

	got := resolvePath("$WILDWATCH_TEST_DIR/detections.csv")
	assert.True(t, len(got) > 0 && got[0] == '/', "path is absolute: %s", got)
	assert.Contains(t, got, "events/detections.csv")
}
