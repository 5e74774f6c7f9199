package uploader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

// FileSpec describes one file to upload, as provided by the caller. Optional
// fields left at their zero value receive documented defaults when the spec
// comes from NewFileSpec; validation happens at upload time.
type FileSpec struct {
	// Path is the local path of the file.
	Path string

	// DirectoryLabel is the destination sub-path inside the dataset.
	DirectoryLabel string

	// Description is free-form text attached to the file.
	Description string

	// MIMEType of the file. Sniffed from content when empty.
	MIMEType string

	// Categories are the dataset category tags. Default: ["DATA"].
	Categories []string

	// Restrict marks the file as access-restricted.
	Restrict bool

	// TabIngest enables tabular ingest for supported formats. Dataset locks
	// during registration can be mitigated by turning this off.
	TabIngest bool

	// ChecksumType selects the digest algorithm. Default: MD5.
	ChecksumType ChecksumType

	// ReplaceFileID, when non-zero, registers the upload as a replacement
	// for the existing dataset file with that ID.
	ReplaceFileID int64
}

// NewFileSpec builds a FileSpec for the given path with defaults applied.
func NewFileSpec(path string) FileSpec {
	return FileSpec{
		Path:         path,
		Categories:   []string{"DATA"},
		TabIngest:    true,
		ChecksumType: ChecksumMD5,
	}
}

// FilesFromGlob expands a doublestar pattern into FileSpecs. Matches below
// the pattern's fixed base keep their relative directory as the
// DirectoryLabel, so uploading "data/**" mirrors the local tree layout.
func FilesFromGlob(pattern string) ([]FileSpec, error) {
	base, glob := doublestar.SplitPattern(pattern)

	matches, err := doublestar.Glob(os.DirFS(base), glob, doublestar.WithNoFollow())
	if err != nil {
		return nil, uperrors.Newf("expand glob", uperrors.ClassValidation, "bad pattern %q: %v", pattern, err)
	}

	var specs []FileSpec
	for _, match := range matches {
		full := filepath.Join(base, match)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}

		spec := NewFileSpec(full)
		if dir := filepath.Dir(match); dir != "." {
			spec.DirectoryLabel = filepath.ToSlash(dir)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// unit is the runner-owned working state of one FileSpec. It is created
// during validation and never touched by two goroutines at once.
type unit struct {
	spec     FileSpec
	fileName string
	size     int64
	mimeType string
	checksum network.Checksum

	state     State
	storageID string
	retries   int
}

// newUnit validates a spec and resolves size, name, MIME type and checksum.
func newUnit(spec FileSpec) (*unit, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, uperrors.Newf("validate file", uperrors.ClassValidation, "file path is empty")
	}

	info, err := os.Stat(spec.Path)
	if err != nil {
		return nil, uperrors.New("validate file", uperrors.ClassValidation, err)
	}
	if info.IsDir() {
		return nil, uperrors.Newf("validate file", uperrors.ClassValidation, "%s is a directory", spec.Path)
	}

	un := &unit{
		spec:     spec,
		fileName: filepath.Base(spec.Path),
		size:     info.Size(),
		mimeType: spec.MIMEType,
		state:    StatePending,
	}

	if un.mimeType == "" {
		detected, err := mimetype.DetectFile(spec.Path)
		if err != nil {
			return nil, uperrors.New("validate file", uperrors.ClassValidation, err)
		}
		un.mimeType = detected.String()
	}

	un.checksum, err = checksumOfFile(spec.Path, spec.ChecksumType)
	if err != nil {
		return nil, err
	}

	return un, nil
}

// registration builds the metadata payload recorded once the bytes are in
// storage.
func (un *unit) registration() network.Registration {
	checksum := un.checksum
	return network.Registration{
		FileName:          un.fileName,
		DirectoryLabel:    un.spec.DirectoryLabel,
		Description:       un.spec.Description,
		MIMEType:          un.mimeType,
		Categories:        un.spec.Categories,
		Restrict:          un.spec.Restrict,
		TabIngest:         un.spec.TabIngest,
		StorageIdentifier: un.storageID,
		Checksum:          &checksum,
		FileToReplaceID:   un.spec.ReplaceFileID,
	}
}
