// Package native uploads files through the Dataverse native API, the
// fallback for servers without direct upload. Small files are bundled into
// zip packages below the package-size threshold; the server unpacks them into
// the dataset.
package native

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/gdcc/go-dvuploader/uploader"
	"github.com/gdcc/go-dvuploader/uploader/backoff"
	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

// FileAdder posts one file through the native API. network.Client implements
// it.
type FileAdder interface {
	AddFile(ctx context.Context, fileName string, content io.Reader, reg network.Registration) error
}

// Uploader runs native uploads for one dataset.
type Uploader struct {
	config uploader.Config
	adder  FileAdder
	logger log.Logger
	policy backoff.Policy
}

// New creates a native Uploader sharing the session's Config.
func New(config uploader.Config, adder FileAdder, logger log.Logger) *Uploader {
	return &Uploader{
		config: config,
		adder:  adder,
		logger: logger,
		policy: backoff.Policy{
			MaxAttempts: config.MaxRetries,
			MinWait:     config.MinRetryWait,
			MaxWait:     config.MaxRetryWait,
			Multiplier:  config.RetryMultiplier,
		},
	}
}

// Upload pushes all specs through the native API and returns one Result per
// spec, in input order. Files bundled into the same zip package share their
// package's outcome.
func (u *Uploader) Upload(ctx context.Context, specs []uploader.FileSpec) uploader.Summary {
	results := make([]uploader.Result, len(specs))

	var items []packageItem
	for i, spec := range specs {
		results[i] = uploader.Result{Path: spec.Path, FileName: filepath.Base(spec.Path)}

		size, err := validate(spec)
		if err != nil {
			u.logger.Warnf("Skipping %s: %s", spec.Path, err)
			results[i].State = uploader.StateFailed
			results[i].Err = err
			continue
		}
		items = append(items, packageItem{
			pos:      i,
			spec:     spec,
			fileName: filepath.Base(spec.Path),
			size:     size,
		})
	}

	packages := distributeFiles(items, u.config.MaxPackageSize)
	if len(packages) == 0 {
		return uploader.Summary{Results: results}
	}

	tmpDir, err := os.MkdirTemp("", "dvuploader-packages-")
	if err != nil {
		err = uperrors.New("zip package", uperrors.ClassPackaging, err)
		for _, it := range items {
			results[it.pos].State = uploader.StateFailed
			results[it.pos].Err = err
		}
		return uploader.Summary{Results: results}
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	var g errgroup.Group
	g.SetLimit(u.config.ParallelUploads)
	for _, p := range packages {
		p := p
		g.Go(func() error {
			retries, err := u.uploadPackage(ctx, p, tmpDir)
			state := uploader.StateCompleted
			if err != nil {
				state = uploader.StateFailed
			}
			for _, it := range p.items {
				results[it.pos].State = state
				results[it.pos].Retries = retries
				results[it.pos].Err = err
			}
			return nil
		})
	}
	_ = g.Wait()

	return uploader.Summary{Results: results}
}

// uploadPackage posts one package, retrying under the backoff policy. Dataset
// locks from tabular ingest of a previous file surface as lock conflicts and
// are retried.
func (u *Uploader) uploadPackage(ctx context.Context, p uploadPackage, tmpDir string) (int, error) {
	fileName := p.items[0].fileName
	reg := registrationFor(p.items[0])
	sourcePath := p.items[0].spec.Path

	if p.bundled() {
		zipPath, err := zipPackage(p, tmpDir)
		if err != nil {
			return 0, err
		}
		sourcePath = zipPath
		fileName = filepath.Base(zipPath)
		reg = network.Registration{
			FileName: fileName,
			MIMEType: "application/zip",
		}
		u.logger.Infof("Packaged %d files into %s (%s)", len(p.items), fileName,
			units.HumanSizeWithPrecision(float64(p.size()), 3))
	}

	retries, err := u.policy.Do(ctx, func() error {
		file, err := os.Open(sourcePath)
		if err != nil {
			return uperrors.New("native upload", uperrors.ClassPackaging, err)
		}
		defer file.Close() //nolint:errcheck

		return u.adder.AddFile(ctx, fileName, file, reg)
	})
	if err != nil {
		return retries, err
	}

	u.logger.Donef("Uploaded %s", fileName)
	return retries, nil
}

func validate(spec uploader.FileSpec) (int64, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return 0, uperrors.Newf("validate file", uperrors.ClassValidation, "file path is empty")
	}
	info, err := os.Stat(spec.Path)
	if err != nil {
		return 0, uperrors.New("validate file", uperrors.ClassValidation, err)
	}
	if info.IsDir() {
		return 0, uperrors.Newf("validate file", uperrors.ClassValidation, "%s is a directory", spec.Path)
	}
	return info.Size(), nil
}

func registrationFor(it packageItem) network.Registration {
	return network.Registration{
		FileName:        it.fileName,
		DirectoryLabel:  it.spec.DirectoryLabel,
		Description:     it.spec.Description,
		MIMEType:        it.spec.MIMEType,
		Categories:      it.spec.Categories,
		Restrict:        it.spec.Restrict,
		TabIngest:       it.spec.TabIngest,
		FileToReplaceID: it.spec.ReplaceFileID,
	}
}
