package narrative

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialworks/protocol-server/internal/platform/apperr"
	"github.com/trialworks/protocol-server/pkg/apiresp"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/protocols/:id/visits/:visitId/clinical-history", h.GenerateClinicalHistory)
}

func pdfFilename(protocolCode, visitName string) string {
	visit := strings.Join(strings.Fields(visitName), "-")
	return fmt.Sprintf("historia-clinica-%s-%s.pdf", protocolCode, visit)
}

func (h *Handler) GenerateClinicalHistory(c echo.Context) error {
	protocolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid id")
	}
	visitID, err := uuid.Parse(c.Param("visitId"))
	if err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid visitId")
	}

	var body struct {
		VisitData VisitData `json:"visitData"`
	}
	if err := c.Bind(&body); err != nil {
		return apiresp.Fail(c, http.StatusBadRequest, "invalid request body")
	}

	// The PDF is buffered so failures can still answer with a JSON error.
	var buf bytes.Buffer
	res, err := h.svc.GenerateClinicalHistory(c.Request().Context(), protocolID, visitID, body.VisitData, &buf)
	if err != nil {
		return apiresp.Fail(c, apperr.HTTPStatus(err), apperr.UserMessage(err))
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, res.Filename))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}
