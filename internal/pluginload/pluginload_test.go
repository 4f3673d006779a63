package pluginload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eje-systems/eje/internal/ejerr"
)

func TestLoad_RejectsNonSharedObject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "critic.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a plugin"), 0o644))

	l := NewLoader(dir)
	_, err := l.Load(path)

	var secErr *ejerr.PluginSecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestLoad_RejectsPathOutsideAllowedRoot(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "critic.so")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	l := NewLoader(allowed)
	_, err := l.Load(path)

	var secErr *ejerr.PluginSecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestLoad_RejectsSymlinkEscape(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	realPath := filepath.Join(outside, "critic.so")
	require.NoError(t, os.WriteFile(realPath, []byte{}, 0o644))

	linkPath := filepath.Join(allowed, "critic.so")
	require.NoError(t, os.Symlink(realPath, linkPath))

	l := NewLoader(allowed)
	_, err := l.Load(linkPath)

	var secErr *ejerr.PluginSecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestLoad_NoAllowedRootConfigured(t *testing.T) {
	l := NewLoader("")
	_, err := l.Load("/tmp/anything.so")

	var secErr *ejerr.PluginSecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestLoad_MissingPluginFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir)

	_, err := l.Load(filepath.Join(dir, "does-not-exist.so"))
	require.Error(t, err)
}

func TestLoadAll_DuplicatePathsReportLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "critic.so")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	l := NewLoader(dir)
	// The file is not a real plugin, so the first Load of the path fails and
	// LoadAll returns that error. This checks only that a duplicated path list
	// still surfaces the load error; whether the duplicate was skipped is not
	// observable here.
	_, err := l.LoadAll([]string{path, path})
	assert.Error(t, err)
}
