package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Recognizer routes an upload to the right reader and bounds the call.
type Recognizer struct {
	engine    Engine
	languages []string
	timeout   time.Duration
	pdfText   func([]byte) (string, int, error)
	logger    zerolog.Logger
}

func NewRecognizer(engine Engine, languages []string, timeout time.Duration, logger zerolog.Logger) *Recognizer {
	return &Recognizer{
		engine:    engine,
		languages: languages,
		timeout:   timeout,
		pdfText:   PDFText,
		logger:    logger,
	}
}

// Recognize extracts text from an image or PDF.
func (r *Recognizer) Recognize(ctx context.Context, name string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmptyInput
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		res Result
		err error
	)
	switch KindOf(name) {
	case KindPDF:
		res, err = r.recognizePDF(ctx, name, data)
	case KindImage:
		res, err = r.recognizeImage(ctx, name, data)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return Result{}, err
	}

	res.Text = strings.TrimSpace(res.Text)
	r.logger.Debug().
		Str("file", name).
		Str("engine", res.Engine).
		Int("chars", len(res.Text)).
		Float64("confidence", res.Confidence).
		Dur("elapsed", time.Since(start)).
		Msg("ocr complete")
	return res, nil
}

func (r *Recognizer) recognizeImage(ctx context.Context, name string, data []byte) (Result, error) {
	if r.engine == nil {
		return Result{}, fmt.Errorf("no OCR engine configured")
	}
	prepared, err := PrepareImage(name, data)
	if err != nil {
		return Result{}, err
	}
	return r.engine.Recognize(ctx, Input{Name: name, Data: prepared, Languages: r.languages})
}

// recognizePDF reads the text layer first. Scanned PDFs without one are handed
// to the engine only when it accepts PDFs (the remote service rasterizes them).
func (r *Recognizer) recognizePDF(ctx context.Context, name string, data []byte) (Result, error) {
	text, pages, err := r.pdfText(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return Result{Text: text, Confidence: 1, Engine: "pdf-text", Pages: pages}, nil
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("file", name).Msg("pdf text extraction failed")
	}

	if pe, ok := r.engine.(interface{ AcceptsPDF() bool }); ok && pe.AcceptsPDF() {
		return r.engine.Recognize(ctx, Input{Name: name, Data: data, Languages: r.languages})
	}
	if err != nil {
		return Result{}, err
	}
	return Result{}, ErrNoTextLayer
}
