package identity

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
)

type Handler struct {
	svc         *Service
	resetSecret string
}

// NewHandler wires the auth and doctor endpoints. resetSecret unlocks
// /auth/reset-admin for non-loopback callers through the X-LOCAL-RESET
// header; an empty secret disables that path.
func NewHandler(svc *Service, resetSecret string) *Handler {
	return &Handler{svc: svc, resetSecret: resetSecret}
}

// RegisterRoutes mounts the public auth endpoints on public and everything
// else on api, which must already require a valid token.
func (h *Handler) RegisterRoutes(public, api *echo.Group) {
	pub := public.Group("/auth")
	pub.POST("/signup", h.Signup)
	pub.POST("/signin", h.Signin)
	pub.POST("/reset-admin", h.ResetAdmin)

	a := api.Group("/auth")
	a.GET("/me", h.Me)
	a.DELETE("/delete", h.DeleteAccount)
	a.POST("/logout", h.Logout)
	a.POST("/change-password", h.ChangePassword)

	admin := auth.RequireRole(auth.RoleAdmin)
	d := api.Group("/doctors")
	d.GET("", h.ListDoctors)
	d.POST("", h.CreateDoctor, admin)
	d.PUT("/:id", h.UpdateDoctor, admin)
	d.DELETE("/:id", h.DeleteDoctor, admin)
}

// -- Auth Handlers --

func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Signup(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"user":    viewOf(u),
	})
}

func (h *Handler) Signin(c echo.Context) error {
	var req SigninRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	token, u, err := h.svc.Signin(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"access_token": token,
		"user":         viewOf(u),
	})
}

func (h *Handler) Me(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, viewOf(u))
}

func (h *Handler) DeleteAccount(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	username := auth.UsernameFromContext(c.Request().Context())
	if err := h.svc.DeleteAccount(c.Request().Context(), id, username); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) Logout(c echo.Context) error {
	h.svc.Logout(c.Request().Context(), auth.ClaimsFromContext(c.Request().Context()))
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) ChangePassword(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), id, req); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

// ResetAdmin is reachable from loopback, or from anywhere with the reset
// secret.
func (h *Handler) ResetAdmin(c echo.Context) error {
	if !isLoopback(c.Request().RemoteAddr) && !h.secretMatches(c.Request().Header.Get("X-LOCAL-RESET")) {
		return echo.NewHTTPError(http.StatusForbidden, "Not allowed")
	}
	if err := h.svc.ResetAdmin(c.Request().Context()); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "admin password reset and role enforced",
	})
}

func (h *Handler) secretMatches(got string) bool {
	return h.resetSecret != "" && got != "" &&
		subtle.ConstantTimeCompare([]byte(got), []byte(h.resetSecret)) == 1
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// -- Doctor Handlers --

func (h *Handler) ListDoctors(c echo.Context) error {
	doctors, err := h.svc.ListDoctors(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"doctors": doctors,
	})
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req DoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), actor(c), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"doctor":  d,
	})
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, ErrUserNotFound.Error())
	}
	var req DoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.UpdateDoctor(c.Request().Context(), actor(c), id, req); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, ErrDoctorNotFound.Error())
	}
	if err := h.svc.DeleteDoctor(c.Request().Context(), actor(c), id); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func actor(c echo.Context) *uuid.UUID {
	if id, ok := auth.UserUUIDFromContext(c.Request().Context()); ok {
		return &id
	}
	return nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrMissingPasswords),
		errors.Is(err, ErrMissingDoctor), errors.Is(err, ErrMissingDoctorPass):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrReservedUsername), errors.Is(err, ErrProtectedAdmin),
		errors.Is(err, ErrAdminImmutable), errors.Is(err, ErrWrongPassword):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrDoctorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateUsername):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
