package protocol

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialworks/protocol-server/pkg/apiresp"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo, _ := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func TestHandler_CreateProtocol(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"name":"Ensayo Cardio","code":"card-01","sponsor":"Acme Pharma"}`
	req := httptest.NewRequest(http.MethodPost, "/api/protocols", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var env apiresp.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if !env.Success {
		t.Error("expected success envelope")
	}
}

func TestHandler_CreateProtocol_DuplicateCode(t *testing.T) {
	h, _, e := newTestHandler()

	for i, want := range []int{http.StatusCreated, http.StatusBadRequest} {
		body := `{"name":"Ensayo","code":"CARD-01"}`
		req := httptest.NewRequest(http.MethodPost, "/api/protocols", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := h.Create(c); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if rec.Code != want {
			t.Errorf("attempt %d: expected %d, got %d", i, want, rec.Code)
		}
	}
}

func TestHandler_GetProtocol_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ImportTemplate_RequiresTemplateID(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "visitId")
	c.SetParamValues(uuid.New().String(), uuid.New().String())

	if err := h.ImportTemplate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_AddVisit(t *testing.T) {
	h, repo, e := newTestHandler()

	seed := &Protocol{Name: "Ensayo", Code: "X-01", Status: StatusDraft}
	repo.Create(nil, seed)

	body := `{"name":"Screening","type":"presencial"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(seed.ID.String())

	if err := h.AddVisit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(repo.store[seed.ID].Visits) != 1 {
		t.Error("expected visit to be persisted")
	}
}

func TestHandler_ListProtocols_StatusFilter(t *testing.T) {
	h, repo, e := newTestHandler()

	repo.Create(nil, &Protocol{Name: "A", Code: "A-01", Status: StatusActive})
	repo.Create(nil, &Protocol{Name: "B", Code: "B-01", Status: StatusDraft})

	req := httptest.NewRequest(http.MethodGet, "/api/protocols?status=active", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Protocol `json:"data"`
		Total int        `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 active protocol, got %d", resp.Total)
	}
}

func TestHandler_DeleteProtocol(t *testing.T) {
	h, repo, e := newTestHandler()

	seed := &Protocol{Name: "Ensayo", Code: "X-01", Status: StatusDraft}
	repo.Create(nil, seed)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(seed.ID.String())

	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if _, ok := repo.store[seed.ID]; ok {
		t.Error("expected protocol to be deleted")
	}
}
