package chunk

import (
	"io"
	"os"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

// Reader streams exactly one chunk of a file. Each Reader owns its file
// handle, so chunks of the same file can be read concurrently, and Close
// releases the handle on every exit path. For a retry, open a fresh Reader.
type Reader struct {
	file    *os.File
	section *io.SectionReader
}

// OpenReader opens an independent handle on path scoped to the given chunk.
func OpenReader(path string, c Chunk) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, uperrors.New("open chunk", uperrors.ClassValidation, err)
	}

	return &Reader{
		file:    file,
		section: io.NewSectionReader(file, c.Offset, c.Length),
	}, nil
}

// Read returns the chunk's bytes in sequence and io.EOF once the chunk's
// length is exhausted, regardless of how much file remains beyond it.
func (r *Reader) Read(p []byte) (int, error) {
	return r.section.Read(p)
}

// Size returns the number of bytes the reader will produce in total.
func (r *Reader) Size() int64 {
	return r.section.Size()
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}
