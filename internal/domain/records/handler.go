package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
	"github.com/meddigitize/meddigitize/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /medical-records on a group that already requires a
// valid token.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/medical-records")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/stats", h.Stats)
	g.GET("/export.csv", h.Export)
	g.POST("/normalize", h.Normalize)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

type listResponse struct {
	Success bool               `json:"success"`
	Records []NormalizedRecord `json:"records"`
	pagination.Meta
}

func (h *Handler) List(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	page, err := h.svc.List(c.Request().Context(), owner, Query{
		Search: c.QueryParam("q"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list records").SetInternal(err)
	}
	return c.JSON(http.StatusOK, listResponse{
		Success: true,
		Records: NormalizeAll(page.Records),
		Meta:    pagination.NewMeta(pg, page.Total),
	})
}

func (h *Handler) Stats(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), owner)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute stats").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":        true,
		"total_patients": st.TotalPatients,
		"diagnoses":      st.Diagnoses,
	})
}

func (h *Handler) Export(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}
	res := c.Response()
	out := &csvAttachment{res: res, name: fmt.Sprintf("medical_records_%s.csv", time.Now().UTC().Format("20060102_150405"))}
	err = h.svc.ExportCSV(c.Request().Context(), owner, c.QueryParam("q"), out)
	if err == nil {
		if !res.Committed {
			out.commit()
		}
		return nil
	}
	if !res.Committed {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to export records").SetInternal(err)
	}
	// the status line is gone; the client sees a truncated file
	h.svc.logger.Error().Err(err).Str("owner", owner.String()).Msg("records export aborted mid-stream")
	return nil
}

// csvAttachment sets the download headers on the first write.
type csvAttachment struct {
	res  *echo.Response
	name string
}

func (a *csvAttachment) commit() {
	a.res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	a.res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", a.name))
	a.res.WriteHeader(http.StatusOK)
}

func (a *csvAttachment) Write(p []byte) (int, error) {
	if !a.res.Committed {
		a.commit()
	}
	return a.res.Write(p)
}

func (h *Handler) Create(c echo.Context) error {
	owner, err := caller(c)
	if err != nil {
		return err
	}
	body, err := bindBody(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Create(c.Request().Context(), &owner, body)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":   true,
		"record_id": rec.ID,
		"record":    rec,
	})
}

// Normalize runs the record normalizer on an arbitrary JSON object.
func (h *Handler) Normalize(c echo.Context) error {
	body, err := bindBody(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"record":  Normalize(body),
	})
}

func (h *Handler) Get(c echo.Context) error {
	owner, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), owner, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"record":     rec,
		"normalized": Normalize(rec.Map()),
	})
}

func (h *Handler) Update(c echo.Context) error {
	owner, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	body, err := bindBody(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Update(c.Request().Context(), owner, id, body)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"record":  rec,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	owner, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), owner, id); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

// bindBody decodes a JSON object body. An empty body is an empty object.
func bindBody(c echo.Context) (map[string]any, error) {
	body := map[string]any{}
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body").SetInternal(err)
	}
	return body, nil
}

func caller(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func callerAndID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	owner, err := caller(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// ids are only ever uuids, so a malformed one cannot exist
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return owner, id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrMissingRequired), errors.Is(err, ErrNoFields):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "database error").SetInternal(err)
	}
}
