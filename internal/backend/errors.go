package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is read into the error.
const maxErrorBody = 4 << 10

// ErrNotPDF is returned by UploadPDF for a file name without a .pdf suffix.
var ErrNotPDF = errors.New("only PDF files are supported")

// RequestFailedError is returned for any non-2xx response.
type RequestFailedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RequestFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 or 403 from a collaborator.
func IsUnauthorized(err error) bool {
	var rf *RequestFailedError
	if !errors.As(err, &rf) {
		return false
	}
	return rf.StatusCode == http.StatusUnauthorized || rf.StatusCode == http.StatusForbidden
}

func requestFailed(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RequestFailedError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(body),
	}
}

// errorMessage prefers a JSON detail, message or error field over the raw
// body text.
func errorMessage(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := fields[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}
