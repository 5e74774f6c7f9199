// Package uploader orchestrates direct uploads of local files into a
// Dataverse dataset: it validates the batch, decides single-shot vs
// multipart per file, streams chunks under bounded parallelism and registers
// completed files with the API.
package uploader

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/gdcc/go-dvuploader/uploader/backoff"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

// Uploader uploads batches of files into one dataset. Safe for sequential
// reuse; one Upload call owns its batch exclusively.
type Uploader struct {
	config    Config
	transport network.Transport
	logger    log.Logger
	progress  ProgressSink
	policy    backoff.Policy
}

// New creates an Uploader. `progress` can be nil, unless you want to observe
// transfer events.
func New(config Config, transport network.Transport, logger log.Logger, progress ProgressSink) (*Uploader, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = NopSink{}
	}
	return &Uploader{
		config:    config,
		transport: transport,
		logger:    logger,
		progress:  progress,
		policy:    config.retryPolicy(),
	}, nil
}

// Upload processes all specs and returns one Result per spec, in input
// order. A single file's failure never aborts the batch; cancelling ctx is
// the abort-all control and fails the units still in flight.
func (u *Uploader) Upload(ctx context.Context, specs []FileSpec) Summary {
	results := make([]Result, len(specs))
	units := make([]*unit, len(specs))

	// Validation pass: bad input is reported up front, without any network
	// traffic or retries.
	for i, spec := range specs {
		un, err := newUnit(spec)
		if err != nil {
			u.logger.Warnf("Skipping %s: %s", spec.Path, err)
			results[i] = Result{Path: spec.Path, State: StateFailed, Err: err}
			continue
		}
		units[i] = un
	}

	chunkSlots := make(chan struct{}, u.config.ParallelChunks)

	var g errgroup.Group
	g.SetLimit(u.config.ParallelUploads)
	for i, un := range units {
		if un == nil {
			continue
		}
		i, un := i, un
		g.Go(func() error {
			results[i] = u.runUnit(ctx, un, chunkSlots)
			return nil
		})
	}
	_ = g.Wait()

	return Summary{Results: results}
}
