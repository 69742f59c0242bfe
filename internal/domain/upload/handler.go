package upload

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meddigitize/meddigitize/internal/extraction"
	"github.com/meddigitize/meddigitize/internal/platform/auth"
	"github.com/meddigitize/meddigitize/internal/platform/blobstore"
	"github.com/meddigitize/meddigitize/internal/platform/ocr"
)

// formField is the multipart field carrying the scan.
const formField = "file"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /upload on a group that accepts anonymous callers and
// the OCR helpers on the authenticated group.
func (h *Handler) RegisterRoutes(optional, api *echo.Group) {
	optional.POST("/upload", h.Upload)

	g := api.Group("/ocr")
	g.POST("/extract-text", h.ExtractText)
	g.POST("/extract-fields", h.ExtractFields)
}

func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile(formField)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload").SetInternal(err)
	}
	defer f.Close()

	owner := optionalOwner(c)
	out, err := h.svc.Upload(c.Request().Context(), owner, fh.Filename, f)
	if err != nil {
		var oe *OCRError
		if errors.As(err, &oe) {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"success":    false,
				"url":        oe.URL,
				"ocr_error":  oe.Error(),
				"ocr_detail": oe.Detail,
			})
		}
		var mf *MissingFieldsError
		if errors.As(err, &mf) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":  mf.Error(),
				"fields": mf.Fields,
			})
		}
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":    true,
		"record_id":  out.RecordID,
		"fields":     out.Fields,
		"confidence": out.Confidence,
		"engine":     out.Engine,
		"url":        out.URL,
	})
}

func (h *Handler) ExtractText(c echo.Context) error {
	fh, err := c.FormFile(formField)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload").SetInternal(err)
	}
	defer f.Close()

	res, err := h.svc.ExtractText(c.Request().Context(), fh.Filename, f)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"text":       res.Text,
		"confidence": res.Confidence,
		"engine":     res.Engine,
		"pages":      res.Pages,
	})
}

type extractFieldsRequest struct {
	Text string `json:"text"`
}

// ExtractFields accepts either a scan under "file" or JSON {"text": ...}.
func (h *Handler) ExtractFields(c echo.Context) error {
	var text string
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile(formField)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
		}
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload").SetInternal(err)
		}
		defer f.Close()
		res, err := h.svc.ExtractText(c.Request().Context(), fh.Filename, f)
		if err != nil {
			return mapError(err)
		}
		text = res.Text
	} else {
		var req extractFieldsRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
		}
		text = req.Text
	}

	if strings.TrimSpace(text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No text provided")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"fields":   extraction.ExtractFields(text),
		"vitals":   extraction.ExtractVitals(text),
		"raw_text": text,
	})
}

func optionalOwner(c echo.Context) *uuid.UUID {
	id, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return nil
	}
	return &id
}

func mapError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, "No file selected")
	case errors.Is(err, blobstore.ErrUnsupportedExtension):
		return echo.NewHTTPError(http.StatusBadRequest, "File type not allowed")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "File too large")
	case errors.Is(err, ocr.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, "Empty file")
	case errors.Is(err, ocr.ErrUnsupportedFormat), errors.Is(err, ocr.ErrNoTextLayer):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "upload failed").SetInternal(err)
	}
}
