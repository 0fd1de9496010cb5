package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialworks/protocol-server/internal/platform/apperr"
	"github.com/trialworks/protocol-server/internal/platform/auth"
	"github.com/trialworks/protocol-server/pkg/apiresp"
	"github.com/trialworks/protocol-server/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes wires the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.POST("/auth/login", h.Login)
}

// RegisterRoutes wires the endpoints that require a valid token.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register, auth.RequireRole()) // admin only
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
	api.GET("/users", h.ListUsers, auth.RequireRole())
	api.PUT("/users/:id/active", h.SetActive, auth.RequireRole())
}

func fail(c echo.Context, err error) error {
	return apiresp.Fail(c, apperr.HTTPStatus(err), apperr.UserMessage(err))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	token, user, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, loginResponse{Token: token, User: user})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	u := &User{Email: req.Email, Name: req.Name, Role: req.Role}
	if err := h.svc.Register(c.Request().Context(), u, req.Password); err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, u)
}

// Logout is a stateless no-op: tokens expire on their own and clients drop
// theirs on logout.
func (h *Handler) Logout(c echo.Context) error {
	return apiresp.Message(c, "logged out")
}

func (h *Handler) Me(c echo.Context) error {
	idStr := auth.UserIDFromContext(c.Request().Context())
	id, err := uuid.Parse(idStr)
	if err != nil {
		return apiresp.Fail(c, http.StatusUnauthorized, "invalid session")
	}
	u, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), p.PageSize, p.Offset())
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) SetActive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid id")
	}
	var body struct {
		IsActive bool `json:"isActive"`
	}
	if err := c.Bind(&body); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.SetActive(c.Request().Context(), id, body.IsActive)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, u)
}
