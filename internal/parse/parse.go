// Package parse extracts layout-aware elements from PDF documents by
// delegating to an external parsing service.
//
// The service exposes a single conversion endpoint that accepts a PDF and
// returns its decomposition into typed elements (text blocks, tables, titles
// and figure images) with page numbers and bounding boxes. Parsing quality
// lives entirely in the service; this package only speaks its wire contract
// and normalizes the result into element.Element values.
package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fagpt/fagpt/internal/element"
)

// Sentinel errors for parse outcomes callers branch on.
var (
	// ErrNoElements indicates the service parsed the file but produced
	// nothing usable. Such documents are quarantined, not retried.
	ErrNoElements = errors.New("document produced no elements")

	// ErrUnsupportedFormat indicates the file is not a PDF.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// DefaultTimeout bounds a single conversion call. Large scanned manuals
// can take minutes to lay out, so this is deliberately generous.
const DefaultTimeout = 5 * time.Minute

// Client converts PDF files into elements via the parsing service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-conversion timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a parsing client for the service at baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("parser base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// wireElement is one element as the parsing service reports it.
type wireElement struct {
	Type      string       `json:"type"`
	Content   string       `json:"content"`
	Page      int          `json:"page"`
	BBox      element.BBox `json:"bbox"`
	ImageData []byte       `json:"image_data,omitempty"`
}

type convertResponse struct {
	Filename  string        `json:"filename"`
	PageCount int           `json:"page_count"`
	Elements  []wireElement `json:"elements"`
}

// ParseFile converts one PDF into its document record and elements.
// Every returned element carries a fresh ID and the document's filename
// as its source; elements with types the pipeline does not know are
// dropped with a warning rather than failing the whole document.
func (c *Client) ParseFile(ctx context.Context, path string) (element.Document, []element.Element, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return element.Document{}, nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	resp, err := c.convert(ctx, path)
	if err != nil {
		return element.Document{}, nil, err
	}

	filename := filepath.Base(path)
	now := time.Now().UTC()
	doc := element.Document{
		ID:        uuid.New(),
		Filename:  filename,
		Path:      path,
		Parsed:    true,
		PageCount: resp.PageCount,
	}

	elements := make([]element.Element, 0, len(resp.Elements))
	for _, w := range resp.Elements {
		typ := element.Type(strings.ToLower(w.Type))
		if !typ.Valid() {
			c.logger.Warn("skipping element of unknown type",
				"source_doc", filename,
				"type", w.Type,
				"page", w.Page)
			continue
		}
		elements = append(elements, element.Element{
			ID:        uuid.New(),
			SourceDoc: filename,
			Type:      typ,
			Page:      w.Page,
			BBox:      w.BBox,
			Content:   w.Content,
			ImageData: w.ImageData,
			CreatedAt: now,
		})
	}

	if len(elements) == 0 {
		return element.Document{}, nil, fmt.Errorf("%s: %w", filename, ErrNoElements)
	}

	c.logger.Info("parsed document",
		"source_doc", filename,
		"pages", resp.PageCount,
		"elements", len(elements))
	return doc, elements, nil
}

// convert uploads the file to the service's conversion endpoint.
func (c *Client) convert(ctx context.Context, path string) (*convertResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing upload: %w", err)
	}

	url := c.baseURL + "/v1/convert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("creating convert request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading parser response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("parser error (status %d): %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var out convertResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding parser response: %w", err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
