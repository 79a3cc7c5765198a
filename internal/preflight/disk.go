package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/subindex/internal/ui"
)

// MinDiskSpaceBytes is the minimum free space on the store filesystem.
// A replace needs room for a full second copy of the index.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks the free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = "failed to check disk space"
		result.Details = err.Error()
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		ui.FormatBytes(int64(available)), ui.FormatBytes(int64(c.minFreeBytes)))
	if available < c.minFreeBytes {
		result.Status = StatusFail
		result.Details = "Free space on the store filesystem or move store.root"
		return result
	}
	result.Status = StatusPass
	return result
}
