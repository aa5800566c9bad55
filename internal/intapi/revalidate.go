package intapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Revalidator busts the cached public link pages after a document's pages
// change.
type Revalidator struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewRevalidator(endpoint, token string) *Revalidator {
	return &Revalidator{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Revalidator) Revalidate(ctx context.Context, documentID string) error {
	q := url.Values{}
	q.Set("secret", r.token)
	q.Set("documentId", documentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "build revalidate request")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "revalidate document %s", documentID)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("revalidate document %s: status %d", documentID, resp.StatusCode)
	}
	return nil
}
