package worker

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestValidateBundleMagicAcceptsZip(t *testing.T) {
	data := zipBytes(t, map[string]string{"main.py": "print(1)"})
	assert.NoError(t, validateBundleMagic(data))
}

func TestValidateBundleMagicRejectsGarbage(t *testing.T) {
	assert.Error(t, validateBundleMagic([]byte("not a zip")))
	assert.Error(t, validateBundleMagic([]byte{0x01}))
}

func TestExtractBundleWritesFiles(t *testing.T) {
	dir := t.TempDir()
	data := zipBytes(t, map[string]string{
		"main.py":        "print('hi')",
		"sub/helper.py":  "def f(): pass",
	})

	require.NoError(t, extractBundle(data, dir))

	content, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(content))

	content, err = os.ReadFile(filepath.Join(dir, "sub", "helper.py"))
	require.NoError(t, err)
	assert.Equal(t, "def f(): pass", string(content))
}

func TestExtractBundleRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	err = extractBundle(buf.Bytes(), dir)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildResultArchiveIncludesLogsAndWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.txt"), []byte("result data"), 0o644))

	archive, err := buildResultArchive(dir, "stdout text", "stderr text")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}

	require.Contains(t, names, "output.txt")
	require.Contains(t, names, "logs.txt")

	rc, err := names["logs.txt"].Open()
	require.NoError(t, err)
	defer rc.Close()
	var logBuf bytes.Buffer
	_, err = logBuf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "stdout textstderr text", logBuf.String())
}
