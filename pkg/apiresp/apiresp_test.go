package apiresp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newCtx(t *testing.T) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestOK(t *testing.T) {
	c, rec := newCtx(t)
	if err := OK(c, map[string]string{"id": "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !env.Success {
		t.Error("expected success true")
	}
	if env.Error != "" {
		t.Errorf("expected no error field, got %q", env.Error)
	}
}

func TestCreated(t *testing.T) {
	c, rec := newCtx(t)
	if err := Created(c, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestFail(t *testing.T) {
	c, rec := newCtx(t)
	if err := Fail(c, http.StatusConflict, "version conflict"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if env.Success {
		t.Error("expected success false")
	}
	if env.Error != "version conflict" {
		t.Errorf("unexpected error message %q", env.Error)
	}
	if strings.Contains(rec.Body.String(), `"data"`) {
		t.Error("error responses must omit the data field")
	}
}
