package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/trialworks/protocol-server/pkg/apiresp"
)

const healthPingTimeout = 5 * time.Second

// PoolHealth is the payload served at /health/db.
type PoolHealth struct {
	TotalConns      int32  `json:"totalConns"`
	IdleConns       int32  `json:"idleConns"`
	AcquiredConns   int32  `json:"acquiredConns"`
	MaxConns        int32  `json:"maxConns"`
	AcquireCount    int64  `json:"acquireCount"`
	AcquireDuration string `json:"acquireDuration"`
	Healthy         bool   `json:"healthy"`
}

// SnapshotPool captures the current pool counters. Healthy is left for the
// caller to decide from a live ping.
func SnapshotPool(pool *pgxpool.Pool) *PoolHealth {
	stat := pool.Stat()
	return &PoolHealth{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

func healthEnvelope(pingErr error, ph *PoolHealth) (int, apiresp.Envelope) {
	if pingErr != nil {
		ph.Healthy = false
		return http.StatusServiceUnavailable, apiresp.Envelope{
			Success: false,
			Error:   "database unreachable",
			Data:    ph,
		}
	}
	ph.Healthy = true
	return http.StatusOK, apiresp.Envelope{Success: true, Data: ph}
}

// HealthHandler serves the database health endpoint. It answers with the
// standard API envelope so probes and operators see the same shape as the
// rest of the API.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		status, body := healthEnvelope(pool.Ping(ctx), SnapshotPool(pool))
		return c.JSON(status, body)
	}
}
