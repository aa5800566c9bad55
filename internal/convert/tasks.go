package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// TaskConverter drives the task-pipeline conversion API used for CAD and
// Keynote files: import by URL, convert with the right engine, export.
type TaskConverter struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewTaskConverter(url, apiKey string) *TaskConverter {
	return &TaskConverter{url: url, apiKey: apiKey, http: &http.Client{Timeout: 5 * time.Minute}}
}

type TaskRequest struct {
	FileURL     string
	Filename    string
	InputFormat string
	Kind        string // cad | keynote
}

func (c *TaskConverter) Convert(ctx context.Context, treq TaskRequest) ([]byte, error) {
	engine := "iwork"
	if treq.Kind == "cad" {
		engine = "cadconverter"
	}

	convertTask := map[string]interface{}{
		"operation":     "convert",
		"input":         []string{"import-file-v1"},
		"input_format":  treq.InputFormat,
		"output_format": "pdf",
		"engine":        engine,
	}
	if treq.Kind == "cad" {
		convertTask["all_layouts"] = true
		convertTask["auto_zoom"] = false
	}

	payload := map[string]interface{}{
		"tasks": map[string]interface{}{
			"import-file-v1": map[string]interface{}{
				"operation": "import/url",
				"url":       treq.FileURL,
				"filename":  treq.Filename,
			},
			"convert-file-v1": convertTask,
			"export-file-v1": map[string]interface{}{
				"operation":              "export/url",
				"input":                  []string{"convert-file-v1"},
				"inline":                 false,
				"archive_multiple_files": false,
			},
		},
		"redirect": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal task payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build task request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "task conversion")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errors.Errorf("task conversion failed: %d - %s", resp.StatusCode, b)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read converted pdf")
	}
	return out, nil
}

// ExtensionForContentType maps the content types we convert to the input
// format the pipeline expects.
func ExtensionForContentType(contentType string) string {
	switch contentType {
	case "application/vnd.ms-powerpoint":
		return "ppt"
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return "pptx"
	case "application/msword":
		return "doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "application/vnd.ms-excel":
		return "xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	case "application/vnd.oasis.opendocument.text":
		return "odt"
	case "application/vnd.oasis.opendocument.presentation":
		return "odp"
	case "image/vnd.dwg":
		return "dwg"
	case "image/vnd.dxf":
		return "dxf"
	case "application/vnd.apple.keynote", "application/x-iwork-keynote-sffkey":
		return "key"
	case "application/vnd.apple.pages":
		return "pages"
	case "application/vnd.apple.numbers":
		return "numbers"
	default:
		return "pdf"
	}
}
