package workers

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/pkg/errors"

	"github.com/you/docpipe/internal/files"
	"github.com/you/docpipe/internal/intapi"
	"github.com/you/docpipe/internal/queue"
)

func mustJob(t *testing.T, id string, payload interface{}) *queue.Job {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return queue.NewLocalJob(id, b)
}

// apiCall is one recorded internal-API invocation.
type apiCall struct {
	Path string
	Body interface{}
}

// fakeAPI implements JobPoster with per-path canned responses.
type fakeAPI struct {
	calls     []apiCall
	responses map[string]*intapi.Response
	errs      map[string]error
	// failNth fails the nth call (1-based) regardless of path.
	failNth int
}

func (f *fakeAPI) PostJob(_ context.Context, path string, body interface{}) (*intapi.Response, error) {
	f.calls = append(f.calls, apiCall{Path: path, Body: body})
	if f.failNth > 0 && len(f.calls) == f.failNth {
		return &intapi.Response{Status: 500, Body: "boom"}, nil
	}
	if err := f.errs[path]; err != nil {
		return nil, err
	}
	if resp := f.responses[path]; resp != nil {
		return resp, nil
	}
	return &intapi.Response{Status: 200, Body: "{}"}, nil
}

// fakeFiles implements files.Store in memory.
type fakeFiles struct {
	url     string
	urlErr  error
	put     *files.PutResult
	putErr  error
	puts    []files.PutRequest
	deleted []string
	delErr  map[string]error
}

func (f *fakeFiles) GetURL(_ context.Context, _, _ string) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	if f.url == "" {
		return "https://signed.example/file", nil
	}
	return f.url, nil
}

func (f *fakeFiles) Put(_ context.Context, req files.PutRequest) (*files.PutResult, error) {
	f.puts = append(f.puts, req)
	if f.putErr != nil {
		return nil, f.putErr
	}
	if f.put != nil {
		return f.put, nil
	}
	return &files.PutResult{StorageType: "S3_PATH", Data: "stored/" + req.Name}, nil
}

func (f *fakeFiles) PutStream(ctx context.Context, req files.PutRequest, body io.Reader) (*files.PutResult, error) {
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	return f.Put(ctx, req)
}

func (f *fakeFiles) Delete(_ context.Context, blobURL string) error {
	if err := f.delErr[blobURL]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, blobURL)
	return nil
}

var errTransient = errors.New("temporarily unavailable")
