package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/bmp"
)

type stubEngine struct {
	got   Input
	res   Result
	err   error
	calls int
	pdf   bool
}

func (s *stubEngine) Name() string     { return "stub" }
func (s *stubEngine) AcceptsPDF() bool { return s.pdf }
func (s *stubEngine) Recognize(_ context.Context, in Input) (Result, error) {
	s.calls++
	s.got = in
	return s.res, s.err
}

func tinyImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Black)
	return img
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"a.PNG":  KindImage,
		"a.jpeg": KindImage,
		"a.tif":  KindImage,
		"a.pdf":  KindPDF,
		"a.txt":  KindUnknown,
		"a":      KindUnknown,
	}
	for name, want := range cases {
		if got := KindOf(name); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPrepareImage_BMPBecomesPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, tinyImage()); err != nil {
		t.Fatal(err)
	}
	out, err := PrepareImage("scan.bmp", buf.Bytes())
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("expected png output: %v", err)
	}
}

func TestPrepareImage_PassThroughAndErrors(t *testing.T) {
	in := []byte("jpegbytes")
	out, err := PrepareImage("a.jpg", in)
	if err != nil || !bytes.Equal(out, in) {
		t.Errorf("expected pass-through, got %q %v", out, err)
	}
	if _, err := PrepareImage("a.bmp", nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := PrepareImage("a.gif", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := PrepareImage("a.tiff", []byte("garbage")); err == nil {
		t.Error("expected decode error for garbage tiff")
	}
}

func TestRecognizer_Image(t *testing.T) {
	eng := &stubEngine{res: Result{Text: "  Age: 34 \n", Confidence: 0.9, Engine: "stub"}}
	r := NewRecognizer(eng, []string{"eng"}, time.Second, zerolog.Nop())

	res, err := r.Recognize(context.Background(), "a.png", []byte("png"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "Age: 34" {
		t.Errorf("expected trimmed text, got %q", res.Text)
	}
	if len(eng.got.Languages) != 1 || eng.got.Languages[0] != "eng" {
		t.Errorf("languages not forwarded: %v", eng.got.Languages)
	}
}

func TestRecognizer_PDFTextLayer(t *testing.T) {
	eng := &stubEngine{}
	r := NewRecognizer(eng, nil, 0, zerolog.Nop())
	r.pdfText = func([]byte) (string, int, error) { return "Patient: Jane Doe", 1, nil }

	res, err := r.Recognize(context.Background(), "a.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Engine != "pdf-text" || res.Text != "Patient: Jane Doe" || res.Pages != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if eng.calls != 0 {
		t.Error("engine must not run when the text layer is present")
	}
}

func TestRecognizer_ScannedPDF(t *testing.T) {
	empty := func([]byte) (string, int, error) { return "", 1, nil }

	r := NewRecognizer(&stubEngine{}, nil, 0, zerolog.Nop())
	r.pdfText = empty
	if _, err := r.Recognize(context.Background(), "a.pdf", []byte("%PDF")); !errors.Is(err, ErrNoTextLayer) {
		t.Errorf("expected ErrNoTextLayer, got %v", err)
	}

	remote := &stubEngine{pdf: true, res: Result{Text: "scanned", Engine: "stub"}}
	r = NewRecognizer(remote, nil, 0, zerolog.Nop())
	r.pdfText = empty
	res, err := r.Recognize(context.Background(), "a.pdf", []byte("%PDF"))
	if err != nil || res.Text != "scanned" {
		t.Errorf("expected PDF-capable engine fallback, got %+v %v", res, err)
	}
}

func TestRecognizer_Rejects(t *testing.T) {
	r := NewRecognizer(&stubEngine{}, nil, 0, zerolog.Nop())
	if _, err := r.Recognize(context.Background(), "a.png", nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := r.Recognize(context.Background(), "a.docx", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRemoteEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ocr/extract-text" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		if hdr.Filename == "bad.png" {
			w.Write([]byte(`{"success": false, "error": "Tesseract not found"}`))
			return
		}
		w.Write([]byte(`{"success": true, "text": "got ` + string(data) + `"}`))
	}))
	defer srv.Close()

	eng := NewRemoteEngine(srv.URL+"/api/ocr/", time.Second)

	res, err := eng.Recognize(context.Background(), Input{Name: "a.png", Data: []byte("abc")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "got abc" {
		t.Errorf("unexpected text %q", res.Text)
	}

	_, err = eng.Recognize(context.Background(), Input{Name: "bad.png", Data: []byte("abc")})
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if se.Message != "Tesseract not found" || se.Detail["success"] != false {
		t.Errorf("unexpected service error %+v", se)
	}
}

func TestPDFText_Invalid(t *testing.T) {
	if _, _, err := PDFText(nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, _, err := PDFText([]byte("not a pdf")); err == nil {
		t.Error("expected error for invalid pdf")
	}
}
