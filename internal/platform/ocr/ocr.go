// Package ocr turns uploaded scans into plain text. Images go through an
// Engine (Tesseract in-process or a remote OCR service); PDFs with a text
// layer are read directly.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoTextLayer       = errors.New("PDF has no extractable text layer")
)

// Input is a single file submitted for recognition.
type Input struct {
	// Name is the original file name; its extension selects the decoder.
	Name      string
	Data      []byte
	Languages []string
}

// Result is the recognized text. Confidence is in [0,1]; zero means the
// engine did not report one.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
	Pages      int     `json:"pages,omitempty"`
}

// Engine recognizes text in a single raster image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// ServiceError is a failure reported by the OCR backend itself, as opposed to
// a transport failure. Detail carries the backend's payload for the client.
type ServiceError struct {
	Message string
	Detail  map[string]any
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("ocr failed: %s", e.Message)
}
