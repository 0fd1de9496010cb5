package protocol

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

	g := api.Group("/protocols", role)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete, auth.RequireRole()) // admin only

	g.POST("/:id/visits", h.AddVisit)
	g.PUT("/:id/visits/order", h.ReorderVisits)
	g.PUT("/:id/visits/:visitId", h.UpdateVisit)
	g.DELETE("/:id/visits/:visitId", h.DeleteVisit)

	g.POST("/:id/visits/:visitId/activities", h.AddActivity)
	g.PUT("/:id/visits/:visitId/activities/order", h.ReorderActivities)
	g.PUT("/:id/visits/:visitId/activities/:activityId", h.UpdateActivity)
	g.DELETE("/:id/visits/:visitId/activities/:activityId", h.DeleteActivity)

	g.POST("/:id/visits/:visitId/import-template", h.ImportTemplate)
	g.POST("/:id/visits/:visitId/apply-template/:templateId", h.ApplyActivityTemplate)

	g.POST("/:id/rules", h.AddRule)
	g.PUT("/:id/rules/:ruleId", h.UpdateRule)
	g.DELETE("/:id/rules/:ruleId", h.DeleteRule)
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

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := ListFilter{Status: c.QueryParam("status")}
	items, total, err := h.svc.List(c.Request().Context(), f, p.PageSize, p.Offset())
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*Protocol{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) Create(c echo.Context) error {
	var p Protocol
	if err := c.Bind(&p); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in Protocol
	if err := c.Bind(&in); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), id, &in)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	return apiresp.Message(c, "protocol deleted")
}

// -- Visits --

func (h *Handler) AddVisit(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var v Visit
	if err := c.Bind(&v); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.AddVisit(c.Request().Context(), id, v)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, p)
}

func (h *Handler) UpdateVisit(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	var v Visit
	if err := c.Bind(&v); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdateVisit(c.Request().Context(), id, visitID, v)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.svc.DeleteVisit(c.Request().Context(), id, visitID)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) ReorderVisits(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Visits []OrderUpdate `json:"visits"`
	}
	if err := c.Bind(&body); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.ReorderVisits(c.Request().Context(), id, body.Visits)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

// -- Visit activities --

func (h *Handler) AddActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	var act forms.Activity
	if err := c.Bind(&act); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.AddActivity(c.Request().Context(), id, visitID, act)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, p)
}

func (h *Handler) UpdateActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
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
	p, err := h.svc.UpdateActivity(c.Request().Context(), id, visitID, activityID, act)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) DeleteActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	activityID, err := pathID(c, "activityId")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.svc.DeleteActivity(c.Request().Context(), id, visitID, activityID)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) ReorderActivities(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Activities []OrderUpdate `json:"activities"`
	}
	if err := c.Bind(&body); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.ReorderActivities(c.Request().Context(), id, visitID, body.Activities)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

// -- Template imports --

func (h *Handler) ImportTemplate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		TemplateID uuid.UUID `json:"templateId"`
	}
	if err := c.Bind(&body); err != nil || body.TemplateID == uuid.Nil {
		return apiresp.Fail(c, http.StatusBadRequest, "templateId is required")
	}
	p, err := h.svc.ImportTemplate(c.Request().Context(), id, visitID, body.TemplateID)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) ApplyActivityTemplate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return fail(c, err)
	}
	templateID, err := pathID(c, "templateId")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.svc.ApplyActivityTemplate(c.Request().Context(), id, visitID, templateID)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

// -- Clinical rules --

func (h *Handler) AddRule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var rule ClinicalRule
	if err := c.Bind(&rule); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.AddRule(c.Request().Context(), id, rule)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.Created(c, p)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ruleID, err := pathID(c, "ruleId")
	if err != nil {
		return fail(c, err)
	}
	var rule ClinicalRule
	if err := c.Bind(&rule); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdateRule(c.Request().Context(), id, ruleID, rule)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ruleID, err := pathID(c, "ruleId")
	if err != nil {
		return fail(c, err)
	}
	p, err := h.svc.DeleteRule(c.Request().Context(), id, ruleID)
	if err != nil {
		return fail(c, err)
	}
	return apiresp.OK(c, p)
}
