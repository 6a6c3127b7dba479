package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-playback/internal/buildinfo"
	"github.com/tphakala/go-playback/internal/testutil"
)

// execute runs the CLI with args in an empty working directory
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := RootCommand(buildinfo.New("1.2.3", "2026-01-02"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestVersion(t *testing.T) {
	isolate(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "go-playback 1.2.3 (built 2026-01-02")
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "etc", "playback.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	require.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err, "existing file is kept")
	assert.Contains(t, err.Error(), "--force")

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "config", "show", "--codecs", "/opt/decoders")
	require.NoError(t, err)
	assert.Contains(t, out, "# loaded from "+path)
	assert.Contains(t, out, "dir: /opt/decoders", "flag overrides the file")
	assert.Contains(t, out, "sink: wav")
}

func TestConfigShowRejectsInvalidFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  channels: 9\n"), 0o644))

	_, err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.channels")
}

func TestScanCommand(t *testing.T) {
	dir := isolate(t)
	music := filepath.Join(dir, "music")

	testutil.WriteTone(t, filepath.Join(music, "tone.wav"), 800)

	m3u := filepath.Join(dir, "out.m3u")
	out, err := execute(t, "scan", music, "--m3u", m3u)
	require.NoError(t, err)
	assert.Contains(t, out, "tone")
	assert.Contains(t, out, "1 tracks, 0 playable", "no decoder images installed yet")
	assert.FileExists(t, m3u)
}
