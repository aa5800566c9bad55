// Package convert holds the clients for the external conversion services:
// the LibreOffice service for office documents, the task-pipeline API for
// CAD and Keynote, the page service for PDF rasterization, and local
// ffmpeg/ffprobe for video. None of the conversion work happens in this
// process.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// OfficeConverter drives a Gotenberg-compatible LibreOffice service.
type OfficeConverter struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewOfficeConverter(baseURL, username, password string) *OfficeConverter {
	return &OfficeConverter{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// Convert asks the service to fetch fileURL and return it as PDF bytes.
func (c *OfficeConverter) Convert(ctx context.Context, fileURL string) ([]byte, error) {
	download, _ := json.Marshal([]map[string]string{{"url": fileURL}})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("downloadFrom", string(download))
	_ = mw.WriteField("quality", "75")
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "build conversion form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/forms/libreoffice/convert", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "build conversion request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "office conversion")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errors.Errorf("office conversion failed: %d - %s", resp.StatusCode, body)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read converted pdf")
	}
	return out, nil
}
