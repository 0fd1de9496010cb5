package db

import (
	"errors"
	"net/http"
	"testing"
)

func TestHealthEnvelope_Healthy(t *testing.T) {
	ph := &PoolHealth{TotalConns: 3, IdleConns: 2}

	status, body := healthEnvelope(nil, ph)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !body.Success {
		t.Error("expected success envelope")
	}
	if body.Error != "" {
		t.Errorf("expected no error field, got %q", body.Error)
	}
	if !ph.Healthy {
		t.Error("expected healthy flag set on successful ping")
	}
}

func TestHealthEnvelope_PingFailure(t *testing.T) {
	ph := &PoolHealth{TotalConns: 3, Healthy: true}

	status, body := healthEnvelope(errors.New("dial tcp: connection refused"), ph)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if body.Success {
		t.Error("expected failure envelope")
	}
	if body.Error != "database unreachable" {
		t.Errorf("unexpected error message %q", body.Error)
	}
	if ph.Healthy {
		t.Error("expected healthy flag cleared on ping failure")
	}
	if body.Data == nil {
		t.Error("expected pool counters alongside the error")
	}
}
