package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrBlocked means the page service refused the document as unprocessable.
// Retrying cannot fix it; callers stop the page loop immediately.
var ErrBlocked = errors.New("convert: document processing blocked")

// PageService counts and rasterizes PDF pages through the internal
// rendering endpoints.
type PageService struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewPageService(baseURL, apiKey string) *PageService {
	return &PageService{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 2 * time.Minute}}
}

func (c *PageService) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s body", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.http.Do(req)
}

func (c *PageService) PageCount(ctx context.Context, fileURL string) (int, error) {
	resp, err := c.post(ctx, "/api/mupdf/get-pages", map[string]string{"url": fileURL})
	if err != nil {
		return 0, errors.Wrap(err, "get page count")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("get page count: status %d", resp.StatusCode)
	}
	var out struct {
		NumPages int `json:"numPages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, "decode page count")
	}
	if out.NumPages < 1 {
		return 0, errors.Errorf("invalid page count %d", out.NumPages)
	}
	return out.NumPages, nil
}

type RenderPageRequest struct {
	DocumentVersionID string `json:"documentVersionId"`
	PageNumber        int    `json:"pageNumber"`
	URL               string `json:"url"`
	TeamID            string `json:"teamId"`
}

// RenderPage converts one page to an image and returns the created page
// id. A 400 naming a blocked document maps to ErrBlocked.
func (c *PageService) RenderPage(ctx context.Context, req RenderPageRequest) (string, error) {
	resp, err := c.post(ctx, "/api/mupdf/convert-page", req)
	if err != nil {
		return "", errors.Wrapf(err, "convert page %d", req.PageNumber)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "blocked") {
			return "", ErrBlocked
		}
		return "", errors.Errorf("convert page %d: status %d", req.PageNumber, resp.StatusCode)
	}
	var out struct {
		DocumentPageID string `json:"documentPageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrapf(err, "decode page %d response", req.PageNumber)
	}
	return out.DocumentPageID, nil
}
