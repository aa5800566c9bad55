// Package intapi is the client for the application's internal jobs API,
// the endpoints workers call to send notifications, run exports and flip
// billing state.
package intapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

type Response struct {
	Status int
	Body   string
}

func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// PostJob sends a JSON body to an internal endpoint. Transport failures
// return an error; HTTP status policy is the caller's decision, so non-2xx
// responses come back as a Response.
func (c *Client) PostJob(ctx context.Context, path string, body interface{}) (*Response, error) {
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

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &Response{Status: resp.StatusCode, Body: string(respBody)}, nil
}
