package uploader

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

// ChecksumType selects the digest algorithm reported for a file.
type ChecksumType int

const (
	ChecksumMD5 ChecksumType = iota
	ChecksumSHA1
	ChecksumSHA256
	ChecksumSHA512
)

// String returns the algorithm name in the form the Dataverse API expects.
func (t ChecksumType) String() string {
	switch t {
	case ChecksumMD5:
		return "MD5"
	case ChecksumSHA1:
		return "SHA-1"
	case ChecksumSHA256:
		return "SHA-256"
	case ChecksumSHA512:
		return "SHA-512"
	default:
		return "MD5"
	}
}

func (t ChecksumType) newHash() hash.Hash {
	switch t {
	case ChecksumSHA1:
		return sha1.New()
	case ChecksumSHA256:
		return sha256.New()
	case ChecksumSHA512:
		return sha512.New()
	default:
		return md5.New()
	}
}

func checksumOfFile(path string, typ ChecksumType) (network.Checksum, error) {
	digest := typ.newHash()

	file, err := os.Open(path)
	if err != nil {
		return network.Checksum{}, uperrors.New("checksum", uperrors.ClassValidation, err)
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(digest, file); err != nil {
		return network.Checksum{}, uperrors.New("checksum", uperrors.ClassValidation, err)
	}

	return network.Checksum{
		Type:  typ.String(),
		Value: hex.EncodeToString(digest.Sum(nil)),
	}, nil
}
