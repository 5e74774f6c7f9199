package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdcc/go-dvuploader/uploader"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "manifest.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadManifestYAML(t *testing.T) {
	path := writeManifest(t, `
persistent_id: doi:10.70122/FK2/ABCDEF
dataverse_url: https://demo.dataverse.org
files:
  - path: data/table.csv
    description: quarterly numbers
    directory_label: raw
    restrict: true
    tab_ingest: false
    checksum: sha256
  - path: readme.md
options:
  max_retries: 5
  min_retry_wait: 500ms
  max_package_size: 1GiB
  parallel_uploads: 4
`)

	manifest, err := loadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "doi:10.70122/FK2/ABCDEF", manifest.PersistentID)
	assert.Equal(t, "https://demo.dataverse.org", manifest.DataverseURL)
	require.Len(t, manifest.Files, 2)

	specs, err := manifest.fileSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	table := specs[0]
	assert.Equal(t, "data/table.csv", table.Path)
	assert.Equal(t, "raw", table.DirectoryLabel)
	assert.Equal(t, "quarterly numbers", table.Description)
	assert.True(t, table.Restrict)
	assert.False(t, table.TabIngest)
	assert.Equal(t, uploader.ChecksumSHA256, table.ChecksumType)

	// tab_ingest defaults to true when the manifest leaves it out.
	readme := specs[1]
	assert.True(t, readme.TabIngest)
	assert.Equal(t, uploader.ChecksumMD5, readme.ChecksumType)
	assert.Equal(t, []string{"DATA"}, readme.Categories)
}

func TestLoadManifestJSON(t *testing.T) {
	path := writeManifest(t, `{
  "persistent_id": "doi:10.70122/FK2/ABCDEF",
  "dataverse_url": "https://demo.dataverse.org",
  "files": [{"path": "a.bin", "categories": ["CODE"]}]
}`)

	manifest, err := loadManifest(path)
	require.NoError(t, err)

	specs, err := manifest.fileSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"CODE"}, specs[0].Categories)
}

func TestManifestGlobEntry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw", "a.csv"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.txt"), []byte("x"), 0o600))

	manifest := Manifest{
		Files: []ManifestFile{
			{Glob: filepath.Join(dir, "**"), Description: "bulk"},
		},
	}

	specs, err := manifest.fileSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	labels := map[string]string{}
	for _, spec := range specs {
		assert.Equal(t, "bulk", spec.Description)
		labels[filepath.Base(spec.Path)] = spec.DirectoryLabel
	}
	assert.Equal(t, "raw", labels["a.csv"])
	assert.Equal(t, "", labels["top.txt"])
}

func TestManifestRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry ManifestFile
	}{
		{name: "neither path nor glob", entry: ManifestFile{Description: "x"}},
		{name: "both path and glob", entry: ManifestFile{Path: "a", Glob: "b/**"}},
		{name: "unknown checksum", entry: ManifestFile{Path: "a", Checksum: "crc32"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest := Manifest{Files: []ManifestFile{tt.entry}}
			_, err := manifest.fileSpecs()
			assert.Error(t, err)
		})
	}
}

func TestManifestOptionsApply(t *testing.T) {
	options := ManifestOptions{
		MaxRetries:      5,
		MinRetryWait:    "500ms",
		MaxRetryWait:    "1m",
		RetryMultiplier: 0.5,
		MaxPackageSize:  "1GiB",
		ParallelUploads: 4,
		ParallelChunks:  8,
	}

	config, err := options.apply(uploader.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 5, config.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, config.MinRetryWait)
	assert.Equal(t, time.Minute, config.MaxRetryWait)
	assert.Equal(t, 0.5, config.RetryMultiplier)
	assert.Equal(t, int64(1024*1024*1024), config.MaxPackageSize)
	assert.Equal(t, 4, config.ParallelUploads)
	assert.Equal(t, 8, config.ParallelChunks)
}

func TestManifestOptionsKeepDefaults(t *testing.T) {
	config, err := ManifestOptions{}.apply(uploader.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, uploader.DefaultConfig(), config)
}

func TestManifestOptionsRejectBadValues(t *testing.T) {
	_, err := ManifestOptions{MinRetryWait: "soon"}.apply(uploader.DefaultConfig())
	assert.Error(t, err)

	_, err = ManifestOptions{MaxPackageSize: "plenty"}.apply(uploader.DefaultConfig())
	assert.Error(t, err)
}
