package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"path"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Kind classifies an upload by extension.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindPDF
)

func KindOf(name string) Kind {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp":
		return KindImage
	case ".pdf":
		return KindPDF
	default:
		return KindUnknown
	}
}

// PrepareImage returns bytes Tesseract can read. PNG and JPEG pass through;
// BMP and TIFF are decoded and re-encoded as PNG since leptonica builds often
// lack those codecs.
func PrepareImage(name string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	var (
		img image.Image
		err error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return data, nil
	case ".bmp":
		img, err = bmp.Decode(bytes.NewReader(data))
	case ".tiff", ".tif":
		img, err = tiff.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path.Ext(name))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
