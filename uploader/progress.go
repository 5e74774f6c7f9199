package uploader

import (
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// ProgressSink receives upload progress events. Implementations must be
// safe for concurrent use: chunks of one file report bytes from parallel
// goroutines. Events for one file are ordered: UploadStarted first,
// UploadFinished last. When a transfer attempt fails and restarts,
// BytesTransferred receives a negative delta rewinding the failed attempt's
// bytes, so per-file totals never exceed the file size.
type ProgressSink interface {
	UploadStarted(fileName string, totalBytes int64)
	BytesTransferred(fileName string, n int64)
	UploadFinished(fileName string, err error)
}

// NopSink discards all progress events.
type NopSink struct{}

func (NopSink) UploadStarted(string, int64)    {}
func (NopSink) BytesTransferred(string, int64) {}
func (NopSink) UploadFinished(string, error)   {}

// NewLogSink returns a sink that writes coarse progress to the given
// logger. Per-chunk byte counts are not logged.
func NewLogSink(logger log.Logger) ProgressSink {
	return &logSink{logger: logger}
}

type logSink struct {
	logger log.Logger
}

func (s *logSink) UploadStarted(fileName string, totalBytes int64) {
	s.logger.Infof("Uploading %s (%s)", fileName, units.HumanSizeWithPrecision(float64(totalBytes), 3))
}

func (s *logSink) BytesTransferred(string, int64) {}

func (s *logSink) UploadFinished(fileName string, err error) {
	if err != nil {
		s.logger.Errorf("Failed to upload %s: %s", fileName, err)
		return
	}
	s.logger.Donef("Uploaded %s", fileName)
}

// countingReader reports bytes to the sink as they are read.
type countingReader struct {
	reader   io.Reader
	fileName string
	sink     ProgressSink
	counted  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.counted += int64(n)
		c.sink.BytesTransferred(c.fileName, int64(n))
	}
	return n, err
}

// rewind takes back everything the reader has reported, for a failed attempt
// that is about to restart from the range's first byte.
func (c *countingReader) rewind() {
	if c.counted > 0 {
		c.sink.BytesTransferred(c.fileName, -c.counted)
		c.counted = 0
	}
}
