package snapshot

import (
	"fmt"
	"syscall"
)

// CheckDiskSpace checks if the given path has at least minMB megabytes of free space.
func CheckDiskSpace(path string, minMB int) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}

	availableMB := stat.Bavail * uint64(stat.Bsize) / (1024 * 1024)
	if int(availableMB) < minMB {
		return fmt.Errorf("low disk space for snapshots: %d MB available, %d MB wanted at %s",
			availableMB, minMB, path)
	}
	return nil
}
