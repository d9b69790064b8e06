// Package extract turns statement documents into plain text. OCR and PDF
// extraction run in an external service; this package only calls it.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"payment-reconciliation-engine/pkg/errors"
)

// Document is a statement as received, before text extraction
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// TextDocument wraps already-extracted text
func TextDocument(name, text string) Document {
	return Document{Name: name, ContentType: "text/plain", Data: []byte(text)}
}

// LoadDocument reads a statement file. The content type comes from the file
// extension, or from the content when the extension is unknown.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, errors.ParseError(errors.CodeExtractionFailed, path, "", err).
			WithSuggestion("Check that the statement file exists and is readable")
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Document{Name: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

// Extractor returns the plain text of a document
type Extractor interface {
	ExtractText(ctx context.Context, doc Document) (string, error)
}

// PlainTextExtractor passes text documents through and rejects anything else
type PlainTextExtractor struct{}

// ExtractText returns the document bytes as text
func (PlainTextExtractor) ExtractText(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, "", err)
	}
	if doc.ContentType != "" && !strings.HasPrefix(doc.ContentType, "text/") {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, doc.ContentType,
			fmt.Errorf("content type %s needs an extraction service", doc.ContentType))
	}
	if !utf8.Valid(doc.Data) || bytes.IndexByte(doc.Data, 0) >= 0 {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, "",
			fmt.Errorf("document is not UTF-8 text"))
	}
	return string(doc.Data), nil
}

// HTTPExtractor posts documents to an extraction service that answers with
// the plain text body
type HTTPExtractor struct {
	Endpoint string
	Client   *http.Client
	// MaxResponseBytes caps the returned text, larger responses fail; 0 means
	// 16 MiB
	MaxResponseBytes int64
}

// NewHTTPExtractor creates an extractor for endpoint
func NewHTTPExtractor(endpoint string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

// ExtractText sends the document and returns the extracted text. Every
// failure, including timeouts, is reported as an extraction failure for this
// document.
func (e *HTTPExtractor) ExtractText(ctx context.Context, doc Document) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(doc.Data))
	if err != nil {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, "",
			errors.NetworkError(errors.CodeConnectionFailed, e.Endpoint, err))
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/plain")
	if doc.Name != "" {
		req.Header.Set("X-Document-Name", doc.Name)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		code := errors.CodeConnectionFailed
		if ctx.Err() == context.DeadlineExceeded {
			code = errors.CodeTimeout
		}
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, "",
			errors.NetworkError(code, e.Endpoint, err))
	}
	defer resp.Body.Close()

	limit := e.MaxResponseBytes
	if limit <= 0 {
		limit = 16 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, "",
			errors.NetworkError(errors.CodeConnectionFailed, e.Endpoint, err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, resp.Status,
			fmt.Errorf("extraction service returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}
	if int64(len(body)) > limit {
		return "", errors.ParseError(errors.CodeExtractionFailed, doc.Name, "",
			fmt.Errorf("extracted text exceeds %d bytes", limit)).
			WithContext("max_response_bytes", limit)
	}

	return string(body), nil
}
