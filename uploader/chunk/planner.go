// Package chunk splits files into byte-exact ranges for multipart upload and
// streams individual ranges without buffering whole files.
package chunk

import (
	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

// Chunk is one byte range of a file, addressed by its zero-based part index.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
}

// Plan covers size bytes with consecutive, non-overlapping chunks of at most
// partSize bytes each. Only the final chunk may be shorter than partSize.
// A zero size yields an empty plan; callers route empty files to the
// single-shot path.
func Plan(size, partSize int64) ([]Chunk, error) {
	if size < 0 {
		return nil, uperrors.Newf("plan chunks", uperrors.ClassValidation, "negative file size %d", size)
	}
	if partSize <= 0 {
		return nil, uperrors.Newf("plan chunks", uperrors.ClassPackaging, "part size %d is not positive", partSize)
	}

	chunks := make([]Chunk, 0, size/partSize+1)
	var offset int64
	for remaining := size; remaining > 0; {
		length := partSize
		if remaining < partSize {
			length = remaining
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: offset,
			Length: length,
		})
		offset += length
		remaining -= length
	}

	return chunks, nil
}
