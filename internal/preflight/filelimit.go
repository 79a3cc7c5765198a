package preflight

import (
	"fmt"
	"syscall"
)

const (
	// MinFileDescriptors is the floor of the open file limit.
	MinFileDescriptors = 1024

	// FilesPerPartition is the descriptors one cached partition can hold:
	// the segments database, its WAL and shared memory, the lock and a
	// handle being replaced.
	FilesPerPartition = 6
)

// RequiredFileDescriptors returns the limit needed for a store with
// partitions partitions.
func RequiredFileDescriptors(partitions int) uint64 {
	need := uint64(partitions) * FilesPerPartition * 2
	if need < MinFileDescriptors {
		return MinFileDescriptors
	}
	return need
}

// CheckFileDescriptors checks the open file limit of this process. A low
// limit is a warning: small stores run fine under it.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: false,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarn
		result.Message = "failed to check file descriptor limit"
		result.Details = err.Error()
		return result
	}

	need := RequiredFileDescriptors(c.partitions)
	result.Message = fmt.Sprintf("%d (recommended: %d)", rLimit.Cur, need)
	if rLimit.Cur < need {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' to increase the limit", need)
		return result
	}
	result.Status = StatusPass
	return result
}
