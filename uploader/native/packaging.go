package native

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/gdcc/go-dvuploader/uploader"
	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

// packageItem is one validated input file together with its slot in the
// caller's result slice.
type packageItem struct {
	pos      int
	spec     uploader.FileSpec
	fileName string
	size     int64
}

// uploadPackage is one native POST: either a single file or a zip bundle of
// several small ones.
type uploadPackage struct {
	index int
	items []packageItem
}

func (p uploadPackage) bundled() bool {
	return len(p.items) > 1
}

func (p uploadPackage) size() int64 {
	var total int64
	for _, it := range p.items {
		total += it.size
	}
	return total
}

// distributeFiles groups items into packages that stay at or below maxSize.
// Items larger than maxSize travel alone; the rest fill packages greedily in
// input order.
func distributeFiles(items []packageItem, maxSize int64) []uploadPackage {
	var packages []uploadPackage
	var current []packageItem
	var currentSize int64
	index := 0

	flush := func(items []packageItem) {
		packages = append(packages, uploadPackage{index: index, items: items})
		index++
	}

	for _, it := range items {
		if it.size > maxSize {
			flush([]packageItem{it})
			continue
		}
		if currentSize+it.size > maxSize {
			flush(current)
			current, currentSize = nil, 0
		}
		current = append(current, it)
		currentSize += it.size
	}
	if len(current) > 0 {
		flush(current)
	}

	return packages
}

// zipPackage bundles the package's files into dir/package_<index>.zip. The
// archive mirrors directory labels, so server-side unpacking restores the
// intended dataset layout.
func zipPackage(p uploadPackage, dir string) (string, error) {
	zipPath := filepath.Join(dir, fmt.Sprintf("package_%d.zip", p.index))

	out, err := os.Create(zipPath)
	if err != nil {
		return "", uperrors.New("zip package", uperrors.ClassPackaging, err)
	}
	defer out.Close() //nolint:errcheck

	archive := zip.NewWriter(out)
	archive.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	for _, it := range p.items {
		if err := addToArchive(archive, it); err != nil {
			return "", err
		}
	}

	if err := archive.Close(); err != nil {
		return "", uperrors.New("zip package", uperrors.ClassPackaging, err)
	}
	if err := out.Close(); err != nil {
		return "", uperrors.New("zip package", uperrors.ClassPackaging, err)
	}

	return zipPath, nil
}

func addToArchive(archive *zip.Writer, it packageItem) error {
	entry, err := archive.Create(archiveName(it))
	if err != nil {
		return uperrors.New("zip package", uperrors.ClassPackaging, err)
	}

	file, err := os.Open(it.spec.Path)
	if err != nil {
		return uperrors.New("zip package", uperrors.ClassPackaging, err)
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(entry, file); err != nil {
		return uperrors.New("zip package", uperrors.ClassPackaging, err)
	}
	return nil
}

// archiveName is the file's path inside the zip, and after unpacking, inside
// the dataset.
func archiveName(it packageItem) string {
	if it.spec.DirectoryLabel != "" {
		return path.Join(it.spec.DirectoryLabel, it.fileName)
	}
	return it.fileName
}
