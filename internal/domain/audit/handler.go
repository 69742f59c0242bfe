package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := auth.RequireRole(auth.RoleAdmin)
	g := api.Group("/audit-logs")
	g.GET("", h.List, admin)
	g.GET("/export.csv", h.Export, admin)
	g.POST("", h.Create)
	g.DELETE("/:id", h.Delete, admin)
}

func parseQuery(c echo.Context) (Query, error) {
	q := Query{Action: c.QueryParam("action")}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		q.Limit = n
	}
	if v := c.QueryParam("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		q.UserID = &id
	}
	return q, nil
}

func (h *Handler) List(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	logs, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit logs").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"logs": logs})
}

func (h *Handler) Export(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"audit_export_%s.csv\"", time.Now().UTC().Format("20060102_150405")))
	res.WriteHeader(http.StatusOK)
	return h.svc.ExportCSV(c.Request().Context(), q, res)
}

// Create records an entry on behalf of the caller unless the body names
// another user.
func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == nil {
		if id, ok := auth.UserUUIDFromContext(c.Request().Context()); ok {
			req.UserID = &id
		}
	}
	e, err := h.svc.Create(c.Request().Context(), req)
	if errors.Is(err, ErrMissingAction) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to write audit log").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"id": e.ID})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit log not found")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete audit log").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}
