package uploader

import (
	"context"
	"sync"

	"github.com/gdcc/go-dvuploader/uploader/chunk"
	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

// runUnit drives one unit to a terminal state and converts it into a Result.
func (u *Uploader) runUnit(ctx context.Context, un *unit, slots chan struct{}) Result {
	u.progress.UploadStarted(un.fileName, un.size)

	err := u.process(ctx, un, slots)
	if err != nil {
		un.state = StateFailed
	} else {
		un.state = StateCompleted
	}
	u.progress.UploadFinished(un.fileName, err)

	return Result{
		Path:      un.spec.Path,
		FileName:  un.fileName,
		State:     un.state,
		StorageID: un.storageID,
		Retries:   un.retries,
		Err:       err,
	}
}

// process walks a unit through allocation, transfer and registration. Each
// remote operation retries under the configured backoff policy; retries are
// accumulated on the unit.
func (u *Uploader) process(ctx context.Context, un *unit, slots chan struct{}) error {
	var ticket network.Ticket
	retries, err := u.policy.Do(ctx, func() error {
		var aerr error
		ticket, aerr = u.transport.Allocate(ctx, un.size)
		return aerr
	})
	un.retries += retries
	if err != nil {
		return err
	}
	un.storageID = ticket.StorageID

	var plan []chunk.Chunk
	switch {
	case ticket.Multipart():
		plan, err = chunk.Plan(un.size, ticket.PartSize)
		if err != nil {
			return err
		}
	case un.size > u.config.MaxPackageSize:
		return uperrors.Newf("plan upload", uperrors.ClassPackaging,
			"%s is %d bytes but the ticket offers no part URLs", un.fileName, un.size)
	}
	un.state = StatePlanned
	if ticket.Multipart() {
		u.logger.Debugf("%s: storage %s, %d chunks of %d bytes", un.fileName, un.storageID, len(plan), ticket.PartSize)
	} else {
		u.logger.Debugf("%s: storage %s, single-shot", un.fileName, un.storageID)
	}

	un.state = StateInProgress
	if ticket.Multipart() {
		err = u.uploadMultipart(ctx, un, ticket, plan, slots)
	} else {
		// Single-shot: the whole file is one range. Empty files take this
		// path too, with a zero-length body.
		_, err = u.uploadRange(ctx, un, ticket.SingleURL, chunk.Chunk{Length: un.size}, slots)
	}
	if err != nil {
		return err
	}

	retries, err = u.policy.Do(ctx, func() error {
		return u.transport.RegisterFile(ctx, un.registration())
	})
	un.retries += retries
	return err
}

type chunkOutcome struct {
	index   int
	etag    string
	retries int
	err     error
}

// uploadMultipart transfers all chunks in parallel, waits for every one of
// them, then either completes or aborts the multipart session. The completion
// call never races an in-flight chunk.
func (u *Uploader) uploadMultipart(ctx context.Context, un *unit, ticket network.Ticket, plan []chunk.Chunk, slots chan struct{}) error {
	if len(plan) != len(ticket.PartURLs) {
		return uperrors.Newf("plan upload", uperrors.ClassPackaging,
			"%s needs %d parts but the ticket has %d URLs", un.fileName, len(plan), len(ticket.PartURLs))
	}

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan chunkOutcome, len(plan))
	var wg sync.WaitGroup
	for _, c := range plan {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			etag, retries, err := u.uploadChunk(chunkCtx, un, ticket.PartURLs[c.Index], c, slots)
			outcomes <- chunkOutcome{index: c.Index, etag: etag, retries: retries, err: err}
		}()
	}
	wg.Wait()
	close(outcomes)

	etags := make([]string, len(plan))
	var firstErr error
	for outcome := range outcomes {
		un.retries += outcome.retries
		if outcome.err != nil && firstErr == nil {
			firstErr = outcome.err
		}
		etags[outcome.index] = outcome.etag
	}
	if firstErr != nil {
		u.abort(un, ticket.AbortURL)
		return firstErr
	}

	retries, err := u.policy.Do(ctx, func() error {
		return u.transport.CompleteMultipart(ctx, ticket.CompleteURL, etags)
	})
	un.retries += retries
	if err != nil {
		u.abort(un, ticket.AbortURL)
		return err
	}
	return nil
}

func (u *Uploader) uploadChunk(ctx context.Context, un *unit, url string, c chunk.Chunk, slots chan struct{}) (string, int, error) {
	var etag string
	retries, err := u.policy.Do(ctx, func() error {
		return u.putRange(ctx, un, url, c, slots, &etag)
	})
	return etag, retries, err
}

// uploadRange uploads a single byte range under the retry policy and records
// the retries on the unit.
func (u *Uploader) uploadRange(ctx context.Context, un *unit, url string, c chunk.Chunk, slots chan struct{}) (string, error) {
	var etag string
	retries, err := u.policy.Do(ctx, func() error {
		return u.putRange(ctx, un, url, c, slots, &etag)
	})
	un.retries += retries
	return etag, err
}

// putRange performs one transfer attempt of one byte range. A fresh reader is
// opened per attempt so retries restart from the range's first byte. The
// chunk slot is held only for the duration of the attempt.
func (u *Uploader) putRange(ctx context.Context, un *unit, url string, c chunk.Chunk, slots chan struct{}, etag *string) error {
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slots }()

	reader, err := chunk.OpenReader(un.spec.Path, c)
	if err != nil {
		return err
	}
	defer reader.Close() //nolint:errcheck

	body := &countingReader{reader: reader, fileName: un.fileName, sink: u.progress}
	tag, err := u.transport.UploadChunk(ctx, url, body, c.Length)
	if err != nil {
		body.rewind()
		return err
	}
	*etag = tag
	return nil
}

// abort cancels a multipart session on a best-effort basis. The upload is
// already failed at this point; an abort failure is only logged.
func (u *Uploader) abort(un *unit, abortURL string) {
	if abortURL == "" {
		return
	}
	if err := u.transport.AbortMultipart(context.Background(), abortURL); err != nil {
		u.logger.Warnf("Could not abort multipart upload of %s: %s", un.fileName, err)
	}
}
