package pdftext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const convertPath = "/v1/convert/file"

// Structural sends documents to a docling-serve compatible conversion service, which runs
// layout analysis and OCR.
type Structural struct {
	baseURL string
	client  *http.Client
}

// NewStructural returns a Structural client, or nil when baseURL is empty.
func NewStructural(baseURL string, timeout time.Duration) *Structural {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Structural{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type convertResponse struct {
	Status   string `json:"status"`
	Document struct {
		MarkdownContent string `json:"md_content"`
		TextContent     string `json:"text_content"`
	} `json:"document"`
	Errors []json.RawMessage `json:"errors"`
}

// ExtractText implements TextExtractor.
func (s *Structural) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	if s == nil {
		return "", ErrDisabled
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("to_formats", "md"); err != nil {
		return "", fmt.Errorf("write form: %w", err)
	}
	if err := mw.WriteField("to_formats", "text"); err != nil {
		return "", fmt.Errorf("write form: %w", err)
	}
	part, err := mw.CreateFormFile("files", "document.pdf")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+convertPath, &body)
	if err != nil {
		return "", fmt.Errorf("build convert request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("convert request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("convert returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode convert response: %w", err)
	}
	if out.Status != "" && out.Status != "success" && out.Status != "partial_success" {
		return "", fmt.Errorf("convert status %q", out.Status)
	}
	if out.Document.MarkdownContent != "" {
		return out.Document.MarkdownContent, nil
	}
	return out.Document.TextContent, nil
}
