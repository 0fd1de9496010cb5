package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trialworks/protocol-server/internal/domain/forms"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
	"github.com/trialworks/protocol-server/internal/platform/db"
)

// foldedNameIndex backs the unique index on LOWER(TRIM(name)); two instances
// provisioning the basic template at once race to this index, and the loser
// must see a Duplicate rather than a raw driver error.
const foldedNameIndex = "idx_templates_folded_name"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Template Repository ===========

type templateRepoPG struct{ q queryable }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{q: pool}
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var activities []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &activities, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("template not found")
		}
		return nil, err
	}
	if err := json.Unmarshal(activities, &t.Activities); err != nil {
		return nil, fmt.Errorf("decode template activities: %w", err)
	}
	if t.Activities == nil {
		t.Activities = []forms.Activity{}
	}
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	activities, err := json.Marshal(t.Activities)
	if err != nil {
		return fmt.Errorf("encode template activities: %w", err)
	}
	err = r.q.QueryRow(ctx, `
		INSERT INTO templates (id, name, description, activities)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Description, activities,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if db.IsUniqueViolation(err, foldedNameIndex) {
		return apperr.Duplicate("a template named %q already exists", t.Name)
	}
	return err
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	return scanTemplate(r.q.QueryRow(ctx, `
		SELECT id, name, description, activities, created_at, updated_at
		FROM templates WHERE id = $1`, id))
}

func (r *templateRepoPG) GetByFoldedName(ctx context.Context, foldedName string) (*Template, error) {
	return scanTemplate(r.q.QueryRow(ctx, `
		SELECT id, name, description, activities, created_at, updated_at
		FROM templates WHERE LOWER(TRIM(name)) = $1`, foldedName))
}

func (r *templateRepoPG) Update(ctx context.Context, t *Template) error {
	activities, err := json.Marshal(t.Activities)
	if err != nil {
		return fmt.Errorf("encode template activities: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE templates SET name=$2, description=$3, activities=$4, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Description, activities)
	if err != nil {
		if db.IsUniqueViolation(err, foldedNameIndex) {
			return apperr.Duplicate("a template named %q already exists", t.Name)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("template not found")
	}
	return nil
}

func (r *templateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("template not found")
	}
	return nil
}

func (r *templateRepoPG) List(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM templates`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, name, description, activities, created_at, updated_at
		FROM templates ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== ActivityTemplate Repository ===========

type activityTemplateRepoPG struct{ q queryable }

func NewActivityTemplateRepoPG(pool *pgxpool.Pool) ActivityTemplateRepository {
	return &activityTemplateRepoPG{q: pool}
}

func scanActivityTemplate(row pgx.Row) (*ActivityTemplate, error) {
	var t ActivityTemplate
	var activities []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &activities, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("activity template not found")
		}
		return nil, err
	}
	if err := json.Unmarshal(activities, &t.Activities); err != nil {
		return nil, fmt.Errorf("decode activity template activities: %w", err)
	}
	if t.Activities == nil {
		t.Activities = []forms.Activity{}
	}
	return &t, nil
}

func (r *activityTemplateRepoPG) Create(ctx context.Context, t *ActivityTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	activities, err := json.Marshal(t.Activities)
	if err != nil {
		return fmt.Errorf("encode activity template activities: %w", err)
	}
	return r.q.QueryRow(ctx, `
		INSERT INTO activity_templates (id, name, description, activities)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Description, activities,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *activityTemplateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ActivityTemplate, error) {
	return scanActivityTemplate(r.q.QueryRow(ctx, `
		SELECT id, name, description, activities, created_at, updated_at
		FROM activity_templates WHERE id = $1`, id))
}

func (r *activityTemplateRepoPG) Update(ctx context.Context, t *ActivityTemplate) error {
	activities, err := json.Marshal(t.Activities)
	if err != nil {
		return fmt.Errorf("encode activity template activities: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE activity_templates SET name=$2, description=$3, activities=$4, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Description, activities)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("activity template not found")
	}
	return nil
}

func (r *activityTemplateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM activity_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("activity template not found")
	}
	return nil
}

func (r *activityTemplateRepoPG) List(ctx context.Context, limit, offset int) ([]*ActivityTemplate, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM activity_templates`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, name, description, activities, created_at, updated_at
		FROM activity_templates ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ActivityTemplate
	for rows.Next() {
		t, err := scanActivityTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
