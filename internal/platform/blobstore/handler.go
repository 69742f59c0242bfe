package blobstore

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ServeHandler answers GET /uploads/:name. Scans are cacheable for a minute
// and readable cross-origin so the web client can show them in <img>.
func ServeHandler(store BlobStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		rc, meta, err := store.Open(c.Request().Context(), c.Param("name"))
		if err != nil {
			if errors.Is(err, ErrBlobNotFound) || errors.Is(err, ErrInvalidName) {
				return echo.NewHTTPError(http.StatusNotFound, "file not found")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to read file").SetInternal(err)
		}
		defer rc.Close()

		h := c.Response().Header()
		h.Set("Cache-Control", "public, max-age=60")
		if h.Get(echo.HeaderAccessControlAllowOrigin) == "" {
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
		}
		h.Set("X-Content-Type-Options", "nosniff")
		return c.Stream(http.StatusOK, meta.ContentType, rc)
	}
}
