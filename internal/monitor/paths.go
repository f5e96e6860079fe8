package monitor

import (
	"os"
	"path/filepath"

	"github.com/tphakala/wildwatch-go/internal/conf"
)

// StoragePaths returns the directories the agent writes to. They are
// reported by the health endpoint and the probe command.
func StoragePaths(settings *conf.Settings) []string {
	paths := make([]string, 0, 4)

	if settings.Store.Path != "" {
		paths = append(paths, filepath.Dir(resolvePath(settings.Store.Path)))
	}

	if settings.Relay.Enabled {
		if settings.Relay.CursorPath != "" {
			paths = append(paths, filepath.Dir(resolvePath(settings.Relay.CursorPath)))
		}
		if settings.Relay.Sink == conf.SinkLocal && settings.Relay.Local.Path != "" {
			paths = append(paths, resolvePath(settings.Relay.Local.Path))
		}
	}

	if fo := settings.Logging.FileOutput; fo != nil && fo.Enabled && fo.Path != "" {
		paths = append(paths, filepath.Dir(resolvePath(fo.Path)))
	}

	return deduplicatePaths(paths)
}

// resolvePath expands environment variables and makes path absolute
func resolvePath(path string) string {
	path = filepath.Clean(os.ExpandEnv(path))
	if !filepath.IsAbs(path) {
		if absPath, err := filepath.Abs(path); err == nil {
			path = absPath
		}
	}
	return path
}

// deduplicatePaths removes duplicates, keeping first-seen order
func deduplicatePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	unique := make([]string, 0, len(paths))

	for _, path := range paths {
		cleaned := filepath.Clean(path)
		if cleaned == "" || cleaned == "." {
			continue
		}
		if !seen[cleaned] {
			seen[cleaned] = true
			unique = append(unique, cleaned)
		}
	}
	return unique
}
