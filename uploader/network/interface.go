package network

import (
	"context"
	"io"
)

// Transport performs the remote operations of one upload session. It is
// stateless; retry handling is layered on top by the caller.
type Transport interface {
	// Allocate asks the Dataverse API for an upload ticket sized for the
	// given file.
	Allocate(ctx context.Context, size int64) (Ticket, error)

	// UploadChunk streams exactly length bytes to a presigned storage URL
	// and returns the integrity token (ETag) issued for the part.
	UploadChunk(ctx context.Context, url string, body io.Reader, length int64) (string, error)

	// CompleteMultipart reports the collected integrity tokens, in ascending
	// part order, to the ticket's completion URL.
	CompleteMultipart(ctx context.Context, completeURL string, etags []string) error

	// AbortMultipart cancels an in-flight multipart upload.
	AbortMultipart(ctx context.Context, abortURL string) error

	// RegisterFile records the uploaded file's metadata against the dataset.
	RegisterFile(ctx context.Context, reg Registration) error
}
