// Package files abstracts blob storage. Workers never talk to the backing
// store directly; they resolve signed URLs and upload results through the
// storage service.
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Store is the storage-access abstraction the workers depend on.
type Store interface {
	// GetURL resolves a stored object reference to a fetchable signed URL.
	GetURL(ctx context.Context, storageType, data string) (string, error)
	// Put uploads a blob and returns where it landed.
	Put(ctx context.Context, req PutRequest) (*PutResult, error)
	// PutStream uploads from a reader without buffering the whole blob.
	PutStream(ctx context.Context, req PutRequest, body io.Reader) (*PutResult, error)
	// Delete removes a stored object by URL.
	Delete(ctx context.Context, blobURL string) error
}

type PutRequest struct {
	Name        string
	ContentType string
	TeamID      string
	DocID       string
	Data        []byte // used by Put; ignored by PutStream
}

type PutResult struct {
	StorageType string `json:"storageType"`
	Data        string `json:"data"`
}

// ServiceClient talks to the internal storage service over HTTP.
type ServiceClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewServiceClient(baseURL, apiKey string) *ServiceClient {
	return &ServiceClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *ServiceClient) GetURL(ctx context.Context, storageType, data string) (string, error) {
	body, _ := json.Marshal(map[string]string{"storageType": storageType, "data": data})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/url", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build signed url request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "get signed url")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", errors.Errorf("get signed url: status %d: %s", resp.StatusCode, b)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode signed url response")
	}
	if out.URL == "" {
		return "", errors.New("storage service returned empty url")
	}
	return out.URL, nil
}

func (c *ServiceClient) Put(ctx context.Context, req PutRequest) (*PutResult, error) {
	return c.PutStream(ctx, req, bytes.NewReader(req.Data))
}

func (c *ServiceClient) PutStream(ctx context.Context, put PutRequest, body io.Reader) (*PutResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("teamId", put.TeamID)
	_ = mw.WriteField("docId", put.DocID)
	_ = mw.WriteField("contentType", put.ContentType)
	fw, err := mw.CreateFormFile("file", put.Name)
	if err != nil {
		return nil, errors.Wrap(err, "build upload form")
	}
	if _, err := io.Copy(fw, body); err != nil {
		return nil, errors.Wrap(err, "copy upload body")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "finish upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload file")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("upload file: status %d: %s", resp.StatusCode, b)
	}
	var out PutResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode upload response")
	}
	if out.Data == "" || out.StorageType == "" {
		return nil, errors.New("storage service returned incomplete upload result")
	}
	return &out, nil
}

func (c *ServiceClient) Delete(ctx context.Context, blobURL string) error {
	body, _ := json.Marshal(map[string]string{"url": blobURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build delete request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "delete blob")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete blob: status %d", resp.StatusCode)
	}
	return nil
}
