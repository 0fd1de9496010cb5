package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRequest(t *testing.T) {
	p := NewProvider("test")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/protocols", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/protocols")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := p.Middleware()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := testutil.CollectAndCount(p.requestDuration)
	if count != 1 {
		t.Errorf("expected 1 duration series, got %d", count)
	}
	if got := testutil.ToFloat64(p.activeRequests); got != 0 {
		t.Errorf("expected active requests back to 0, got %v", got)
	}
}

func TestDomainCounters(t *testing.T) {
	p := NewProvider("test")

	p.MergeObserved("import", "merged")
	p.MergeObserved("import", "merged")
	p.MergeObserved("import", "skipped")
	p.ConflictObserved()
	p.NarrativeObserved("success", 2*time.Second)
	p.SetActiveProtocols(7)

	if got := testutil.ToFloat64(p.mergeOps.WithLabelValues("import", "merged")); got != 2 {
		t.Errorf("expected 2 merged, got %v", got)
	}
	if got := testutil.ToFloat64(p.mergeOps.WithLabelValues("import", "skipped")); got != 1 {
		t.Errorf("expected 1 skipped, got %v", got)
	}
	if got := testutil.ToFloat64(p.versionConflicts); got != 1 {
		t.Errorf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(p.narrativesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 narrative, got %v", got)
	}
	if got := testutil.ToFloat64(p.protocolsActive); got != 7 {
		t.Errorf("expected 7 active protocols, got %v", got)
	}
}

func TestWatchDBPool_RefreshesUntilStopped(t *testing.T) {
	p := NewProvider("test")
	snaps := make(chan struct{}, 64)

	stop := p.WatchDBPool(time.Millisecond, func() (int32, int32) {
		snaps <- struct{}{}
		return 3, 1
	})

	for i := 0; i < 2; i++ {
		select {
		case <-snaps:
		case <-time.After(time.Second):
			t.Fatal("gauge refresh never ran")
		}
	}

	stop()
	stop() // safe to call twice

	// Drain anything in flight, then verify the loop has exited.
	time.Sleep(10 * time.Millisecond)
	for len(snaps) > 0 {
		<-snaps
	}
	time.Sleep(20 * time.Millisecond)
	if len(snaps) != 0 {
		t.Error("refresh loop kept running after stop")
	}

	if got := testutil.ToFloat64(p.dbPoolAcquiredConn); got != 3 {
		t.Errorf("expected acquired gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(p.dbPoolIdleConn); got != 1 {
		t.Errorf("expected idle gauge 1, got %v", got)
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	p := NewProvider("test")
	p.ConflictObserved()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "protocol_version_conflicts_total") {
		t.Error("expected conflict counter in exposition output")
	}
}
