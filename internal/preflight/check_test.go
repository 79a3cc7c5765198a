package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONUsesStatusName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "x", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"WARN"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail, Required: false}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_RunAll(t *testing.T) {
	// Given: a store root that does not exist yet
	root := filepath.Join(t.TempDir(), "store")
	checker := New(WithPartitions(4), WithMinFreeBytes(1), WithOutput(&bytes.Buffer{}))

	// When: running every check
	results := checker.RunAll(context.Background(), root)

	// Then: the root is created and the filesystem checks pass
	require.Len(t, results, 3)
	assert.DirExists(t, root)
	assert.Equal(t, "disk_space", results[0].Name)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.Equal(t, "write_permissions", results[1].Name)
	assert.Equal(t, StatusPass, results[1].Status)
	assert.Equal(t, "file_descriptors", results[2].Name)
	assert.False(t, checker.HasCriticalFailures(results))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch file must be removed")
}

func TestChecker_RunAll_UncreatableRoot(t *testing.T) {
	// Given: a root below a regular file
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	results := New().RunAll(context.Background(), filepath.Join(file, "store"))

	require.Len(t, results, 1)
	assert.True(t, results[0].IsCritical())
}

func TestCheckDiskSpace_BelowMinimum(t *testing.T) {
	checker := New(WithMinFreeBytes(math.MaxInt64))

	result := checker.CheckDiskSpace(t.TempDir())

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
	assert.NotEmpty(t, result.Details)
}

func TestCheckDiskSpace_MissingPath(t *testing.T) {
	result := New().CheckDiskSpace(filepath.Join(t.TempDir(), "missing"))

	assert.Equal(t, StatusFail, result.Status)
}

func TestCheckWritePermissions_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	result := New().CheckWritePermissions(dir)

	assert.Equal(t, StatusFail, result.Status)
}

func TestRequiredFileDescriptors(t *testing.T) {
	assert.Equal(t, uint64(MinFileDescriptors), RequiredFileDescriptors(1))
	assert.Equal(t, uint64(1000*FilesPerPartition*2), RequiredFileDescriptors(1000))
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()
	pass := CheckResult{Status: StatusPass, Required: true}
	warn := CheckResult{Status: StatusWarn}
	fail := CheckResult{Status: StatusFail, Required: true}

	assert.Equal(t, "ready", checker.SummaryStatus([]CheckResult{pass}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{pass, warn}))
	assert.Equal(t, "failed", checker.SummaryStatus([]CheckResult{warn, fail}))
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: a warning with details and a pass with details
	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf))
	results := []CheckResult{
		{Name: "file_descriptors", Status: StatusWarn, Message: "256", Details: "raise it"},
		{Name: "disk_space", Status: StatusPass, Message: "1 GB free", Details: "hidden unless verbose"},
	}

	// When: printing
	checker.PrintResults(results)

	// Then: details show only for the non-passing check
	out := buf.String()
	assert.Contains(t, out, "[WARN] file_descriptors: 256")
	assert.Contains(t, out, "raise it")
	assert.NotContains(t, out, "hidden unless verbose")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")

	buf.Reset()
	New(WithOutput(buf), WithVerbose(true)).PrintResults(results)
	assert.Contains(t, buf.String(), "hidden unless verbose")
}
