package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trialworks/protocol-server/internal/platform/apperr"
	"github.com/trialworks/protocol-server/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const protocolColumns = `id, name, code, sponsor, description, status, visits, clinical_rules, version, created_at, updated_at`

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	var visits, rules []byte
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Sponsor, &p.Description, &p.Status,
		&visits, &rules, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("protocol not found")
		}
		return nil, err
	}
	if err := json.Unmarshal(visits, &p.Visits); err != nil {
		return nil, fmt.Errorf("decode protocol visits: %w", err)
	}
	if err := json.Unmarshal(rules, &p.ClinicalRules); err != nil {
		return nil, fmt.Errorf("decode protocol clinical rules: %w", err)
	}
	if p.Visits == nil {
		p.Visits = []Visit{}
	}
	if p.ClinicalRules == nil {
		p.ClinicalRules = []ClinicalRule{}
	}
	return &p, nil
}

func encodeAggregate(p *Protocol) (visits, rules []byte, err error) {
	visits, err = json.Marshal(p.Visits)
	if err != nil {
		return nil, nil, fmt.Errorf("encode protocol visits: %w", err)
	}
	rules, err = json.Marshal(p.ClinicalRules)
	if err != nil {
		return nil, nil, fmt.Errorf("encode protocol clinical rules: %w", err)
	}
	return visits, rules, nil
}

func (r *repoPG) Create(ctx context.Context, p *Protocol) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1
	visits, rules, err := encodeAggregate(p)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO protocols (id, name, code, sponsor, description, status, visits, clinical_rules, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Code, p.Sponsor, p.Description, p.Status, visits, rules, p.Version,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, "protocols_code_key") {
		return apperr.Duplicate("a protocol with code %q already exists", p.Code)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Protocol, error) {
	return scanProtocol(r.pool.QueryRow(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE id = $1`, id))
}

// Update writes the whole aggregate guarded by the version it was read at.
// Zero rows affected means either a concurrent writer bumped the version or
// the row is gone; a follow-up existence check tells them apart.
func (r *repoPG) Update(ctx context.Context, p *Protocol) error {
	visits, rules, err := encodeAggregate(p)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE protocols
		SET name=$3, code=$4, sponsor=$5, description=$6, status=$7,
		    visits=$8, clinical_rules=$9, version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$2`,
		p.ID, p.Version, p.Name, p.Code, p.Sponsor, p.Description, p.Status, visits, rules)
	if db.IsUniqueViolation(err, "protocols_code_key") {
		return apperr.Duplicate("a protocol with code %q already exists", p.Code)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM protocols WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("protocol not found")
		}
		return apperr.Conflict("protocol was modified concurrently")
	}
	p.Version++
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM protocols WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("protocol not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Protocol, int, error) {
	where := ""
	args := []interface{}{}
	if f.Status != "" {
		where = ` WHERE status = $1`
		args = append(args, f.Status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM protocols`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + protocolColumns + ` FROM protocols` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
