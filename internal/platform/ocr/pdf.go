package ocr

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

var licenseOnce sync.Once

// SetPDFLicense registers a metered unidoc key. Without one, text extraction
// still works in unlicensed mode.
func SetPDFLicense(key string) error {
	var err error
	if key == "" {
		return nil
	}
	licenseOnce.Do(func() {
		err = license.SetMeteredKey(key)
	})
	return err
}

// PDFText extracts the embedded text layer page by page. Pages that fail to
// parse are skipped.
func PDFText(data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, ErrEmptyInput
	}

	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	encrypted, err := reader.IsEncrypted()
	if err != nil {
		return "", 0, fmt.Errorf("check encryption: %w", err)
	}
	if encrypted {
		ok, err := reader.Decrypt([]byte(""))
		if err != nil {
			return "", 0, fmt.Errorf("decrypt pdf: %w", err)
		}
		if !ok {
			return "", 0, fmt.Errorf("pdf is password protected")
		}
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", 0, fmt.Errorf("page count: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), numPages, nil
}
