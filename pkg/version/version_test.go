package version

import (
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: the version package is imported

	// When: accessing Version

	// Then: it is "dev" for development builds or semver otherwise
	if Version == "dev" {
		return
	}
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semverRegex.MatchString(Version), "Version should follow semver format, got: %s", Version)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	str := String()

	assert.Contains(t, str, "subindex")
	assert.Contains(t, str, Version)
	assert.Contains(t, str, "commit")
	assert.Contains(t, str, GoVersion)
}

func TestShort_ReturnsVersion(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo_ReturnsInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, Date, info.Date)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
}

func TestEngine_OnlyKnownModules(t *testing.T) {
	for path := range Engine() {
		assert.Contains(t, EngineModules, path)
	}
}

func TestEngineLines_Sorted(t *testing.T) {
	lines := EngineLines(map[string]string{
		"modernc.org/sqlite":              "v1.44.0",
		"github.com/blevesearch/bleve/v2": "v2.5.7",
	})

	assert.Equal(t, []string{
		"github.com/blevesearch/bleve/v2 v2.5.7",
		"modernc.org/sqlite v1.44.0",
	}, lines)
	assert.Empty(t, EngineLines(nil))
}
