package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fileAPI is the slice of the Telegram client the downloader needs.
type fileAPI interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Downloader fetches photo and document payloads from Telegram's file
// servers, capped at a configured size.
type Downloader struct {
	api      fileAPI
	token    string
	client   *http.Client
	maxBytes int64
}

// NewDownloader creates a downloader. maxBytes caps a single payload.
func NewDownloader(api fileAPI, token string, maxBytes int64) *Downloader {
	return &Downloader{
		api:      api,
		token:    token,
		client:   &http.Client{Timeout: 60 * time.Second},
		maxBytes: maxBytes,
	}
}

// Download resolves the file ID to a download URL and fetches the
// payload.
func (d *Downloader) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := d.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(d.token), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: unexpected status %d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, d.maxBytes)
	}
	return data, nil
}
