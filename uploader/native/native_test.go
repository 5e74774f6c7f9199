package native

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdcc/go-dvuploader/uploader"
	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

type addedFile struct {
	fileName string
	body     []byte
	reg      network.Registration
}

type fakeAdder struct {
	mu       sync.Mutex
	failures int
	added    []addedFile
}

func (f *fakeAdder) AddFile(_ context.Context, fileName string, content io.Reader, reg network.Registration) error {
	body, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return uperrors.Newf("native upload", uperrors.ClassLockConflict, "dataset is locked")
	}
	f.added = append(f.added, addedFile{fileName: fileName, body: body, reg: reg})
	return nil
}

func testConfig() uploader.Config {
	config := uploader.DefaultConfig()
	config.MaxRetries = 4
	config.MinRetryWait = time.Millisecond
	config.MaxRetryWait = 10 * time.Millisecond
	config.MaxPackageSize = 64
	return config
}

func TestNativeUploadBundlesSmallFiles(t *testing.T) {
	dir := t.TempDir()
	specs := []uploader.FileSpec{
		uploader.NewFileSpec(writeFile(t, dir, "a.txt", 16)),
		uploader.NewFileSpec(writeFile(t, dir, "b.txt", 16)),
	}
	specs[1].DirectoryLabel = "raw"

	adder := &fakeAdder{}
	summary := New(testConfig(), adder, log.NewLogger()).Upload(context.Background(), specs)

	require.True(t, summary.OK())
	require.Len(t, adder.added, 1)

	added := adder.added[0]
	assert.Equal(t, "package_0.zip", added.fileName)
	assert.Equal(t, "application/zip", added.reg.MIMEType)

	reader, err := zip.NewReader(bytes.NewReader(added.body), int64(len(added.body)))
	require.NoError(t, err)
	var names []string
	for _, entry := range reader.File {
		names = append(names, entry.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "raw/b.txt"}, names)
}

func TestNativeUploadSendsSingleFileUnbundled(t *testing.T) {
	dir := t.TempDir()
	spec := uploader.NewFileSpec(writeFile(t, dir, "solo.csv", 16))
	spec.Description = "by itself"

	adder := &fakeAdder{}
	summary := New(testConfig(), adder, log.NewLogger()).Upload(context.Background(), []uploader.FileSpec{spec})

	require.True(t, summary.OK())
	require.Len(t, adder.added, 1)
	added := adder.added[0]
	assert.Equal(t, "solo.csv", added.fileName)
	assert.Len(t, added.body, 16)
	assert.Equal(t, "by itself", added.reg.Description)
	assert.True(t, added.reg.TabIngest)
}

func TestNativeUploadOversizeFileTravelsAlone(t *testing.T) {
	dir := t.TempDir()
	specs := []uploader.FileSpec{
		uploader.NewFileSpec(writeFile(t, dir, "small.txt", 16)),
		uploader.NewFileSpec(writeFile(t, dir, "huge.bin", 200)),
	}

	adder := &fakeAdder{}
	summary := New(testConfig(), adder, log.NewLogger()).Upload(context.Background(), specs)

	require.True(t, summary.OK())
	require.Len(t, adder.added, 2)

	names := []string{adder.added[0].fileName, adder.added[1].fileName}
	assert.ElementsMatch(t, []string{"small.txt", "huge.bin"}, names)
}

func TestNativeUploadRetriesLockConflicts(t *testing.T) {
	dir := t.TempDir()
	spec := uploader.NewFileSpec(writeFile(t, dir, "locked.txt", 16))

	adder := &fakeAdder{failures: 2}
	summary := New(testConfig(), adder, log.NewLogger()).Upload(context.Background(), []uploader.FileSpec{spec})

	require.True(t, summary.OK())
	assert.Equal(t, 2, summary.Results[0].Retries)
	require.Len(t, adder.added, 1)
	// Retried attempts resend the file from its first byte.
	assert.Len(t, adder.added[0].body, 16)
}

func TestNativeUploadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	specs := []uploader.FileSpec{
		uploader.NewFileSpec(filepath.Join(dir, "missing.txt")),
		uploader.NewFileSpec(writeFile(t, dir, "ok.txt", 8)),
	}

	adder := &fakeAdder{}
	summary := New(testConfig(), adder, log.NewLogger()).Upload(context.Background(), specs)

	require.Len(t, summary.Failed(), 1)
	assert.Equal(t, uploader.StateFailed, summary.Results[0].State)
	assert.Equal(t, uploader.StateCompleted, summary.Results[1].State)
	require.Len(t, adder.added, 1)
	assert.Equal(t, "ok.txt", adder.added[0].fileName)
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o600))
	return path
}
