package ocr

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

// RemoteEngine posts files to an OCR service exposing POST <base>/extract-text
// and answering {success, text} or {success: false, error}.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
}

func NewRemoteEngine(baseURL string, timeout time.Duration) *RemoteEngine {
	return &RemoteEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *RemoteEngine) Name() string { return "remote" }

// AcceptsPDF is true: the service rasterizes PDFs itself.
func (e *RemoteEngine) AcceptsPDF() bool { return true }

func (e *RemoteEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", in.Name)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	if _, err := fw.Write(in.Data); err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	if len(in.Languages) > 0 {
		_ = mw.WriteField("lang", strings.Join(in.Languages, "+"))
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract-text", &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call OCR service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read OCR response: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("invalid OCR response (status %d): %w", resp.StatusCode, err)
	}

	if ok, _ := payload["success"].(bool); !ok {
		msg, _ := payload["error"].(string)
		if msg == "" {
			msg = "OCR failed"
		}
		return Result{}, &ServiceError{Message: msg, Detail: payload}
	}

	text, _ := payload["text"].(string)
	conf, _ := payload["confidence"].(float64)
	return Result{Text: text, Confidence: conf, Engine: e.Name()}, nil
}
