// Package network implements the Dataverse direct-upload transport: ticket
// allocation, presigned-URL chunk PUTs, multipart completion/abort, and file
// registration against the dataset.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

const (
	ticketEndpoint       = "/api/datasets/:persistentId/uploadurls"
	addFilesEndpoint     = "/api/datasets/:persistentId/addFiles"
	replaceFilesEndpoint = "/api/datasets/:persistentId/replaceFiles"
	datasetFilesEndpoint = "/api/datasets/:persistentId/versions/:latest/files"

	apiTokenHeader = "X-Dataverse-key"

	// Objects are tagged as temporary until registration promotes them.
	storageTagHeader = "x-amz-tagging"
	storageTagValue  = "dv-state=temp"

	maxErrorBodyBytes = 2048
)

// Checksum is the digest reported for a file during registration.
type Checksum struct {
	Type  string `json:"@type"`
	Value string `json:"@value"`
}

// Registration is the metadata recorded against the dataset for one
// uploaded file.
type Registration struct {
	FileName          string    `json:"fileName"`
	DirectoryLabel    string    `json:"directoryLabel,omitempty"`
	Description       string    `json:"description,omitempty"`
	MIMEType          string    `json:"mimeType,omitempty"`
	Categories        []string  `json:"categories,omitempty"`
	Restrict          bool      `json:"restrict"`
	TabIngest         bool      `json:"tabIngest"`
	StorageIdentifier string    `json:"storageIdentifier,omitempty"`
	Checksum          *Checksum `json:"checksum,omitempty"`
	FileToReplaceID   int64     `json:"fileToReplaceId,omitempty"`
}

// Client talks to one Dataverse instance on behalf of one dataset. It is
// safe for concurrent use and performs no retries of its own.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiToken     string
	persistentID string
	logger       log.Logger
}

// NewClient creates a transport for the given Dataverse base URL, API token
// and dataset persistent identifier. All three are treated as opaque.
func NewClient(baseURL, apiToken, persistentID string, logger log.Logger) *Client {
	return &Client{
		httpClient:   defaultHTTPClient(),
		baseURL:      baseURL,
		apiToken:     apiToken,
		persistentID: persistentID,
		logger:       logger,
	}
}

// defaultHTTPClient is tuned for long-running parallel PUTs: no client-wide
// timeout (cancellation comes from the request context), bounded idle pool.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// Allocate requests an upload ticket sized for the given file.
func (c *Client) Allocate(ctx context.Context, size int64) (Ticket, error) {
	endpoint, err := c.resolve(ticketEndpoint)
	if err != nil {
		return Ticket{}, err
	}
	endpoint += "?" + url.Values{
		"persistentId": {c.persistentID},
		"size":         {strconv.FormatInt(size, 10)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Ticket{}, uperrors.New("allocate", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ticket{}, uperrors.New("allocate", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Ticket{}, c.statusError("allocate", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Ticket{}, uperrors.New("allocate", uperrors.ClassNetwork, err)
	}

	return parseTicket(body)
}

// UploadChunk streams exactly length bytes to a presigned storage URL and
// returns the ETag issued for the part.
func (c *Client) UploadChunk(ctx context.Context, uploadURL string, body io.Reader, length int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return "", uperrors.New("upload chunk", uperrors.ClassValidation, err)
	}
	req.ContentLength = length
	req.Header.Set(storageTagHeader, storageTagValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", uperrors.New("upload chunk", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError("upload chunk", resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", uperrors.Newf("upload chunk", uperrors.ClassPackaging, "storage response carries no ETag")
	}

	return etag, nil
}

// CompleteMultipart reports the collected ETags to the ticket's completion
// URL. The payload lists parts in ascending part order; the JSON object is
// assembled by hand because encoding/json orders map keys lexicographically,
// which would put part "10" before part "2".
func (c *Client) CompleteMultipart(ctx context.Context, completeURL string, etags []string) error {
	endpoint, err := c.resolve(completeURL)
	if err != nil {
		return err
	}

	var payload bytes.Buffer
	payload.WriteByte('{')
	for i, etag := range etags {
		if i > 0 {
			payload.WriteByte(',')
		}
		key, err := json.Marshal(strconv.Itoa(i + 1))
		if err != nil {
			return uperrors.New("complete multipart", uperrors.ClassPackaging, err)
		}
		value, err := json.Marshal(etag)
		if err != nil {
			return uperrors.New("complete multipart", uperrors.ClassPackaging, err)
		}
		payload.Write(key)
		payload.WriteByte(':')
		payload.Write(value)
	}
	payload.WriteByte('}')

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, &payload)
	if err != nil {
		return uperrors.New("complete multipart", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uperrors.New("complete multipart", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.statusError("complete multipart", resp)
	}

	return nil
}

// AbortMultipart cancels an in-flight multipart upload.
func (c *Client) AbortMultipart(ctx context.Context, abortURL string) error {
	endpoint, err := c.resolve(abortURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return uperrors.New("abort multipart", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uperrors.New("abort multipart", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.statusError("abort multipart", resp)
	}

	return nil
}

// RegisterFile records the uploaded file's metadata against the dataset.
// Replacement registrations go to the replaceFiles endpoint, new files to
// addFiles.
func (c *Client) RegisterFile(ctx context.Context, reg Registration) error {
	endpoint := addFilesEndpoint
	if reg.FileToReplaceID != 0 {
		endpoint = replaceFilesEndpoint
	}
	resolved, err := c.resolve(endpoint)
	if err != nil {
		return err
	}
	resolved += "?" + url.Values{"persistentId": {c.persistentID}}.Encode()

	jsonData, err := json.Marshal([]Registration{reg})
	if err != nil {
		return uperrors.New("register file", uperrors.ClassValidation, err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	field, err := form.CreateFormField("jsonData")
	if err != nil {
		return uperrors.New("register file", uperrors.ClassValidation, err)
	}
	if _, err := field.Write(jsonData); err != nil {
		return uperrors.New("register file", uperrors.ClassValidation, err)
	}
	if err := form.Close(); err != nil {
		return uperrors.New("register file", uperrors.ClassValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolved, &body)
	if err != nil {
		return uperrors.New("register file", uperrors.ClassValidation, err)
	}
	req.Header.Set(apiTokenHeader, c.apiToken)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uperrors.New("register file", uperrors.ClassNetwork, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.statusError("register file", resp)
	}

	return nil
}

// resolve joins a possibly relative API reference against the base URL.
// Ticket complete/abort URLs come back as paths with query strings.
func (c *Client) resolve(ref string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", uperrors.Newf("resolve url", uperrors.ClassValidation, "invalid base URL %q: %v", c.baseURL, err)
	}
	target, err := url.Parse(ref)
	if err != nil {
		return "", uperrors.Newf("resolve url", uperrors.ClassPackaging, "invalid API reference %q: %v", ref, err)
	}
	return base.ResolveReference(target).String(), nil
}

// statusError maps an unexpected HTTP status onto the error taxonomy.
func (c *Client) statusError(op string, resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if readErr != nil {
		body = []byte(fmt.Sprintf("<unreadable body: %v>", readErr))
	}

	class := classifyStatus(resp.StatusCode)
	return uperrors.Newf(op, class, "HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

func classifyStatus(status int) uperrors.Class {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return uperrors.ClassAuth
	case status == http.StatusConflict || status == http.StatusLocked:
		return uperrors.ClassLockConflict
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return uperrors.ClassNetwork
	default:
		return uperrors.ClassValidation
	}
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Debugf("close response body: %s", err)
	}
}
