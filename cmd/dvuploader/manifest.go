package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/gdcc/go-dvuploader/uploader"
)

// Manifest is the --config-path file: the target dataset plus the files to
// upload and optional session tuning. JSON manifests parse too, as YAML is a
// superset.
type Manifest struct {
	PersistentID string          `yaml:"persistent_id"`
	DataverseURL string          `yaml:"dataverse_url"`
	Files        []ManifestFile  `yaml:"files"`
	Options      ManifestOptions `yaml:"options"`
}

// ManifestFile describes one upload entry. Either path or glob must be set;
// a glob expands into one entry per matched file with directory labels
// mirroring the local tree.
type ManifestFile struct {
	Path           string   `yaml:"path"`
	Glob           string   `yaml:"glob"`
	DirectoryLabel string   `yaml:"directory_label"`
	Description    string   `yaml:"description"`
	MIMEType       string   `yaml:"mime_type"`
	Categories     []string `yaml:"categories"`
	Restrict       bool     `yaml:"restrict"`
	TabIngest      *bool    `yaml:"tab_ingest"`
	Checksum       string   `yaml:"checksum"`
	ReplaceID      int64    `yaml:"replace_id"`
}

// ManifestOptions overrides DefaultConfig. Zero values keep the default.
type ManifestOptions struct {
	MaxRetries      int     `yaml:"max_retries"`
	MinRetryWait    string  `yaml:"min_retry_wait"`
	MaxRetryWait    string  `yaml:"max_retry_wait"`
	RetryMultiplier float64 `yaml:"retry_multiplier"`
	MaxPackageSize  string  `yaml:"max_package_size"`
	ParallelUploads int     `yaml:"parallel_uploads"`
	ParallelChunks  int     `yaml:"parallel_chunks"`
}

func loadManifest(path string) (Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(content, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return manifest, nil
}

// fileSpecs expands the manifest's file entries into upload specs.
func (m Manifest) fileSpecs() ([]uploader.FileSpec, error) {
	var specs []uploader.FileSpec
	for i, entry := range m.Files {
		switch {
		case entry.Path != "" && entry.Glob != "":
			return nil, fmt.Errorf("manifest file entry %d sets both path and glob", i+1)
		case entry.Glob != "":
			expanded, err := uploader.FilesFromGlob(entry.Glob)
			if err != nil {
				return nil, err
			}
			for _, spec := range expanded {
				applied, err := entry.apply(spec, true)
				if err != nil {
					return nil, err
				}
				specs = append(specs, applied)
			}
		case entry.Path != "":
			spec, err := entry.apply(uploader.NewFileSpec(entry.Path), false)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		default:
			return nil, fmt.Errorf("manifest file entry %d has neither path nor glob", i+1)
		}
	}
	return specs, nil
}

// apply copies the entry's metadata onto a spec. Glob-derived directory
// labels win over the entry's own label.
func (e ManifestFile) apply(spec uploader.FileSpec, fromGlob bool) (uploader.FileSpec, error) {
	if !fromGlob || spec.DirectoryLabel == "" {
		if e.DirectoryLabel != "" {
			spec.DirectoryLabel = e.DirectoryLabel
		}
	}
	spec.Description = e.Description
	spec.MIMEType = e.MIMEType
	if len(e.Categories) > 0 {
		spec.Categories = e.Categories
	}
	spec.Restrict = e.Restrict
	if e.TabIngest != nil {
		spec.TabIngest = *e.TabIngest
	}
	if !fromGlob {
		spec.ReplaceFileID = e.ReplaceID
	}

	checksumType, err := parseChecksumType(e.Checksum)
	if err != nil {
		return uploader.FileSpec{}, err
	}
	spec.ChecksumType = checksumType

	return spec, nil
}

func parseChecksumType(name string) (uploader.ChecksumType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "md5":
		return uploader.ChecksumMD5, nil
	case "sha1", "sha-1":
		return uploader.ChecksumSHA1, nil
	case "sha256", "sha-256":
		return uploader.ChecksumSHA256, nil
	case "sha512", "sha-512":
		return uploader.ChecksumSHA512, nil
	default:
		return uploader.ChecksumMD5, fmt.Errorf("unknown checksum type %q", name)
	}
}

// apply overlays the options onto a config value.
func (o ManifestOptions) apply(config uploader.Config) (uploader.Config, error) {
	if o.MaxRetries > 0 {
		config.MaxRetries = o.MaxRetries
	}
	if o.MinRetryWait != "" {
		wait, err := time.ParseDuration(o.MinRetryWait)
		if err != nil {
			return config, fmt.Errorf("min_retry_wait: %w", err)
		}
		config.MinRetryWait = wait
	}
	if o.MaxRetryWait != "" {
		wait, err := time.ParseDuration(o.MaxRetryWait)
		if err != nil {
			return config, fmt.Errorf("max_retry_wait: %w", err)
		}
		config.MaxRetryWait = wait
	}
	if o.RetryMultiplier > 0 {
		config.RetryMultiplier = o.RetryMultiplier
	}
	if o.MaxPackageSize != "" {
		size, err := units.RAMInBytes(o.MaxPackageSize)
		if err != nil {
			return config, fmt.Errorf("max_package_size: %w", err)
		}
		config.MaxPackageSize = size
	}
	if o.ParallelUploads > 0 {
		config.ParallelUploads = o.ParallelUploads
	}
	if o.ParallelChunks > 0 {
		config.ParallelChunks = o.ParallelChunks
	}
	return config, nil
}
