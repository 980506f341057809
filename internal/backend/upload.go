package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// UploadOutcome tells a freshly stored document from one the service
// already had.
type UploadOutcome string

const (
	UploadStored    UploadOutcome = "stored"
	UploadDuplicate UploadOutcome = "duplicate"
)

// duplicateMarker is the phrase the upload service uses when a document is
// already indexed for the user.
const duplicateMarker = "already been uploaded"

// UploadResult is the upload service reply.
type UploadResult struct {
	Message  string        `json:"message"`
	FileID   string        `json:"file_id,omitempty"`
	Hash     string        `json:"hash,omitempty"`
	FileName string        `json:"file_name,omitempty"`
	Chunks   int           `json:"chunks"`
	Outcome  UploadOutcome `json:"outcome"`
}

type uploadResponse struct {
	Message   string `json:"message"`
	FileID    string `json:"file_id"`
	Hash      string `json:"hash"`
	PDFHash   string `json:"pdf_hash"`
	FileName  string `json:"file_name"`
	Chunks    int    `json:"chunks"`
	Duplicate *bool  `json:"duplicate"`
	Status    string `json:"status"`
}

// UploadPDF sends r as the multipart field "file".
func (c *Client) UploadPDF(ctx context.Context, token, filename string, r io.Reader) (*UploadResult, error) {
	filename = filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("upload %q: %w", filename, ErrNotPDF)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/upload-pdf", pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("upload: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setBearer(req, token)

	var out uploadResponse
	if err := c.do("upload", req, &out); err != nil {
		return nil, err
	}

	res := &UploadResult{
		Message:  out.Message,
		FileID:   out.FileID,
		Hash:     out.Hash,
		FileName: out.FileName,
		Chunks:   out.Chunks,
		Outcome:  classifyUpload(out),
	}
	if res.Hash == "" {
		res.Hash = out.PDFHash
	}
	if res.FileName == "" {
		res.FileName = filename
	}
	return res, nil
}

// classifyUpload trusts a structured duplicate flag and falls back to the
// message text.
func classifyUpload(out uploadResponse) UploadOutcome {
	if out.Duplicate != nil {
		if *out.Duplicate {
			return UploadDuplicate
		}
		return UploadStored
	}
	switch strings.ToLower(out.Status) {
	case "duplicate":
		return UploadDuplicate
	case "stored", "created":
		return UploadStored
	}
	if strings.Contains(strings.ToLower(out.Message), duplicateMarker) {
		return UploadDuplicate
	}
	return UploadStored
}
