// Package pdftext extracts the text layer of PDF documents. A Chain tries an OCR-capable
// structural converter first and falls back to a plain text-layer reader.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrUnparsable is returned when no extractor produced text.
	ErrUnparsable = errors.New("pdf unparsable")
	// ErrTooLarge is returned for payloads above the configured size cap.
	ErrTooLarge = errors.New("pdf exceeds size limit")
	// ErrEmptyText is returned by an extractor that ran but found no text.
	ErrEmptyText = errors.New("pdf has no extractable text")
	// ErrDisabled is returned by an extractor that is not configured.
	ErrDisabled = errors.New("extractor disabled")
)

// TextExtractor returns the text layer of a PDF.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Chain runs Structural, then Plain. Both are attempted before a document is declared
// unparsable.
type Chain struct {
	Structural TextExtractor
	Plain      TextExtractor
	MaxBytes   int
	Logger     *zap.Logger
}

// ExtractText implements TextExtractor.
func (c Chain) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	if c.MaxBytes > 0 && len(pdf) > c.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(pdf), c.MaxBytes)
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	structuralErr := ErrDisabled
	if c.Structural != nil {
		text, err := run(ctx, c.Structural, pdf)
		if err == nil {
			return text, nil
		}
		structuralErr = err
		logger.Info("structural extraction failed, falling back to plain text", zap.Error(err))
	}

	plainErr := ErrDisabled
	if c.Plain != nil {
		text, err := run(ctx, c.Plain, pdf)
		if err == nil {
			return text, nil
		}
		plainErr = err
	}

	return "", fmt.Errorf("%w: %w", ErrUnparsable, errors.Join(
		fmt.Errorf("structural: %w", structuralErr),
		fmt.Errorf("plain: %w", plainErr),
	))
}

func run(ctx context.Context, x TextExtractor, pdf []byte) (string, error) {
	text, err := x.ExtractText(ctx, pdf)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return text, nil
}
