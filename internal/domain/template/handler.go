package template

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialworks/protocol-server/internal/domain/forms"
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole(auth.RoleMedico, auth.RoleInvestigadorPrincipal)

	g := api.Group("/templates", role)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/activities", h.AddActivity)
	g.PUT("/:id/activities/:activityId", h.UpdateActivity)
	g.DELETE("/:id/activities/:activityId", h.DeleteActivity)

	at := api.Group("/activity-templates", role)
	at.GET("", h.ListActivityTemplates)
	at.POST("", h.CreateActivityTemplate)
	at.GET("/:id", h.GetActivityTemplate)
	at.PUT("/:id", h.UpdateActivityTemplate)
	at.DELETE("/:id", h.DeleteActivityTemplate)
}

func fail(c echo.Context, err error) error {
	return apiresp.Fail(c, apperr.HTTPStatus(err), apperr.UserMessage(err))
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid %s", name)
	}
	return id, nil
}

// -- Templates --

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), p.PageSize, p.Offset())
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*Template{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) Create(c echo.Context) error {
	var t Template
	if err := c.Bind(&t); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), &t); err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, t)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var t Template
	if err := c.Bind(&t); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.Update(c.Request().Context(), &t); err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, t)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	return apiresp.Message(c, "template deleted")
}

func (h *Handler) AddActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var act forms.Activity
	if err := c.Bind(&act); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.AddActivity(c.Request().Context(), id, act)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, t)
}

func (h *Handler) UpdateActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	activityID, err := pathID(c, "activityId")
	if err != nil {
		return fail(c, err)
	}
	var act forms.Activity
	if err := c.Bind(&act); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.UpdateActivity(c.Request().Context(), id, activityID, act)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, t)
}

func (h *Handler) DeleteActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	activityID, err := pathID(c, "activityId")
	if err != nil {
		return fail(c, err)
	}
	t, err := h.svc.DeleteActivity(c.Request().Context(), id, activityID)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, t)
}

// -- ActivityTemplates --

func (h *Handler) ListActivityTemplates(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListActivityTemplates(c.Request().Context(), p.PageSize, p.Offset())
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*ActivityTemplate{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) CreateActivityTemplate(c echo.Context) error {
	var t ActivityTemplate
	if err := c.Bind(&t); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateActivityTemplate(c.Request().Context(), &t); err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, t)
}

func (h *Handler) GetActivityTemplate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	t, err := h.svc.GetActivityTemplate(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, t)
}

func (h *Handler) UpdateActivityTemplate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var t ActivityTemplate
	if err := c.Bind(&t); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.UpdateActivityTemplate(c.Request().Context(), &t); err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, t)
}

func (h *Handler) DeleteActivityTemplate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := h.svc.DeleteActivityTemplate(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	return apiresp.Message(c, "activity template deleted")
}
