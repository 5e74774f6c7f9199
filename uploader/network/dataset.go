package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

const (
	nativeAddEndpoint = "/api/datasets/:persistentId/add"
)

// DatasetFile is one file already present in the target dataset.
type DatasetFile struct {
	ID             int64
	Label          string
	DirectoryLabel string
	Size           int64
	Checksum       Checksum
}

type datasetFilesResponse struct {
	Data []struct {
		Label          string `json:"label"`
		DirectoryLabel string `json:"directoryLabel"`
		DataFile       struct {
			ID       int64 `json:"id"`
			Filesize int64 `json:"filesize"`
			Checksum struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"checksum"`
		} `json:"dataFile"`
	} `json:"data"`
}

// retryClient returns an HTTP client with request-level retries for the
// simple idempotent GETs below. The four transport operations do not use it;
// their retry budget is owned by the caller's backoff policy.
func (c *Client) retryClient() *retryablehttp.Client {
	return retryhttp.NewClient(c.logger)
}

// ListFiles returns the files of the dataset's latest version.
func (c *Client) ListFiles(ctx context.Context) ([]DatasetFile, error) {
	endpoint, err := c.resolve(datasetFilesEndpoint)
	if err != nil {
		return nil, err
	}
	endpoint += "?" + url.Values{"persistentId": {c.persistentID}}.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, uperrors.New("list dataset files", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)

	resp, err := c.retryClient().Do(req)
	if err != nil {
		return nil, uperrors.New("list dataset files", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("list dataset files", resp)
	}

	var parsed datasetFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, uperrors.New("list dataset files", uperrors.ClassNetwork, err)
	}

	files := make([]DatasetFile, 0, len(parsed.Data))
	for _, entry := range parsed.Data {
		files = append(files, DatasetFile{
			ID:             entry.DataFile.ID,
			Label:          entry.Label,
			DirectoryLabel: entry.DirectoryLabel,
			Size:           entry.DataFile.Filesize,
			Checksum: Checksum{
				Type:  entry.DataFile.Checksum.Type,
				Value: entry.DataFile.Checksum.Value,
			},
		})
	}
	return files, nil
}

// SupportsDirectUpload probes the ticket endpoint once. Servers without
// direct upload enabled for the dataset's store answer 404.
func (c *Client) SupportsDirectUpload(ctx context.Context) (bool, error) {
	endpoint, err := c.resolve(ticketEndpoint)
	if err != nil {
		return false, err
	}
	endpoint += "?" + url.Values{
		"persistentId": {c.persistentID},
		"size":         {"1024"},
	}.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, uperrors.New("probe direct upload", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)

	resp, err := c.retryClient().Do(req)
	if err != nil {
		return false, uperrors.New("probe direct upload", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, c.statusError("probe direct upload", resp)
	}
}

// AddFile pushes file bytes through the native API, for servers where direct
// upload is unavailable. The body is buffered into the multipart form by the
// HTTP client; callers keep native packages under the package-size threshold.
func (c *Client) AddFile(ctx context.Context, fileName string, content io.Reader, reg Registration) error {
	endpoint, err := c.resolve(nativeAddEndpoint)
	if err != nil {
		return err
	}
	endpoint += "?" + url.Values{"persistentId": {c.persistentID}}.Encode()

	pipeReader, pipeWriter := io.Pipe()
	form := multipart.NewWriter(pipeWriter)

	go func() {
		err := writeNativeForm(form, fileName, content, reg)
		if closeErr := form.Close(); err == nil {
			err = closeErr
		}
		pipeWriter.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pipeReader)
	if err != nil {
		return uperrors.New("native upload", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uperrors.New("native upload", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.statusError("native upload", resp)
	}

	return nil
}

func writeNativeForm(form *multipart.Writer, fileName string, content io.Reader, reg Registration) error {
	filePart, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(filePart, content); err != nil {
		return fmt.Errorf("stream file part: %w", err)
	}

	jsonData, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal jsonData: %w", err)
	}
	field, err := form.CreateFormField("jsonData")
	if err != nil {
		return fmt.Errorf("create jsonData part: %w", err)
	}
	if _, err := field.Write(jsonData); err != nil {
		return fmt.Errorf("write jsonData part: %w", err)
	}

	return nil
}
