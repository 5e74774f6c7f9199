package network

import (
	"encoding/json"
	"strconv"

	uperrors "github.com/gdcc/go-dvuploader/uploader/errors"
)

// Ticket describes where one file's bytes must go. Single-shot tickets carry
// exactly one URL; multipart tickets carry one presigned URL per part plus
// the completion and abort endpoints.
type Ticket struct {
	StorageID   string
	PartSize    int64
	SingleURL   string
	PartURLs    []string
	CompleteURL string
	AbortURL    string
}

// Multipart reports whether the ticket prescribes a multipart upload.
func (t Ticket) Multipart() bool {
	return len(t.PartURLs) > 0
}

type ticketResponse struct {
	Data struct {
		URL               string            `json:"url"`
		URLs              map[string]string `json:"urls"`
		PartSize          int64             `json:"partSize"`
		Abort             string            `json:"abort"`
		Complete          string            `json:"complete"`
		StorageIdentifier string            `json:"storageIdentifier"`
	} `json:"data"`
}

// parseTicket validates a ticket response body and orders the part URLs by
// their numeric keys ("1".."N", as issued by the API).
func parseTicket(body []byte) (Ticket, error) {
	var resp ticketResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Ticket{}, uperrors.New("allocate", uperrors.ClassPackaging, err)
	}

	data := resp.Data
	if data.StorageIdentifier == "" {
		return Ticket{}, uperrors.Newf("allocate", uperrors.ClassPackaging, "ticket is missing a storage identifier")
	}

	ticket := Ticket{
		StorageID:   data.StorageIdentifier,
		PartSize:    data.PartSize,
		SingleURL:   data.URL,
		CompleteURL: data.Complete,
		AbortURL:    data.Abort,
	}

	if len(data.URLs) == 0 {
		if data.URL == "" {
			return Ticket{}, uperrors.Newf("allocate", uperrors.ClassPackaging, "ticket carries neither a single URL nor part URLs")
		}
		return ticket, nil
	}

	if data.PartSize <= 0 {
		return Ticket{}, uperrors.Newf("allocate", uperrors.ClassPackaging, "multipart ticket with part size %d", data.PartSize)
	}
	if data.Complete == "" || data.Abort == "" {
		return Ticket{}, uperrors.Newf("allocate", uperrors.ClassPackaging, "multipart ticket is missing complete/abort URLs")
	}

	// Part keys are 1-based and must be contiguous.
	ticket.PartURLs = make([]string, len(data.URLs))
	for key, partURL := range data.URLs {
		index, err := strconv.Atoi(key)
		if err != nil || index < 1 || index > len(data.URLs) {
			return Ticket{}, uperrors.Newf("allocate", uperrors.ClassPackaging, "unexpected part key %q", key)
		}
		ticket.PartURLs[index-1] = partURL
	}
	for i, partURL := range ticket.PartURLs {
		if partURL == "" {
			return Ticket{}, uperrors.Newf("allocate", uperrors.ClassPackaging, "missing URL for part %d", i+1)
		}
	}

	return ticket, nil
}
