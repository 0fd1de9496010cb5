// Package stats serves the read-only dashboard aggregates.
package stats

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SponsorCount struct {
	Sponsor   string `json:"sponsor"`
	Protocols int    `json:"protocols"`
}

// Dashboard is the payload of GET /api/stats/dashboard.
type Dashboard struct {
	ActiveProtocols   int            `json:"activeProtocols"`
	ActiveUsersByRole map[string]int `json:"activeUsersByRole"`
	TopSponsors       []SponsorCount `json:"topSponsors"`
}

// Repository runs the dashboard's protocol-side queries.
type Repository interface {
	ActiveProtocolCount(ctx context.Context) (int, error)
	TopSponsors(ctx context.Context, limit int) ([]SponsorCount, error)
}

// UserCounter is satisfied by the identity service.
type UserCounter interface {
	ActiveCountsByRole(ctx context.Context) (map[string]int, error)
}

// Metrics is satisfied by the telemetry provider.
type Metrics interface {
	SetActiveProtocols(n int)
}

type noopMetrics struct{}

func (noopMetrics) SetActiveProtocols(int) {}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) ActiveProtocolCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM protocols WHERE status = 'active'`).Scan(&n)
	return n, err
}

func (r *repoPG) TopSponsors(ctx context.Context, limit int) ([]SponsorCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sponsor, COUNT(*) AS n FROM protocols
		WHERE sponsor <> ''
		GROUP BY sponsor ORDER BY n DESC, sponsor ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SponsorCount
	for rows.Next() {
		var sc SponsorCount
		if err := rows.Scan(&sc.Sponsor, &sc.Protocols); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

const topSponsorLimit = 5

type Service struct {
	repo    Repository
	users   UserCounter
	metrics Metrics
}

func NewService(repo Repository, users UserCounter, metrics Metrics) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{repo: repo, users: users, metrics: metrics}
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	active, err := s.repo.ActiveProtocolCount(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetActiveProtocols(active)

	byRole, err := s.users.ActiveCountsByRole(ctx)
	if err != nil {
		return nil, err
	}

	sponsors, err := s.repo.TopSponsors(ctx, topSponsorLimit)
	if err != nil {
		return nil, err
	}
	if sponsors == nil {
		sponsors = []SponsorCount{}
	}
	if byRole == nil {
		byRole = map[string]int{}
	}
	return &Dashboard{
		ActiveProtocols:   active,
		ActiveUsersByRole: byRole,
		TopSponsors:       sponsors,
	}, nil
}
