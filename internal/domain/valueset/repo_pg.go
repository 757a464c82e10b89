package valueset

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emcare/forms/internal/platform/db"
	"github.com/emcare/forms/internal/platform/fhir"
)

type valueSetRepoPG struct{ pool *pgxpool.Pool }

func NewValueSetRepoPG(pool *pgxpool.Pool) ValueSetRepository {
	return &valueSetRepoPG{pool: pool}
}

func (r *valueSetRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const vsCols = `url, COALESCE(fhir_id, ''), COALESCE(name, ''), COALESCE(title, ''), status, resource, created_at, updated_at`

func (r *valueSetRepoPG) scanRow(row pgx.Row) (*ValueSet, error) {
	var vs ValueSet
	var raw []byte
	err := row.Scan(&vs.URL, &vs.FHIRID, &vs.Name, &vs.Title, &vs.Status, &raw, &vs.CreatedAt, &vs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	vs.Resource, err = fhir.DecodeResource(raw)
	if err != nil {
		return nil, fmt.Errorf("decode stored value set %s: %w", vs.URL, err)
	}
	return &vs, nil
}

func (r *valueSetRepoPG) Upsert(ctx context.Context, vs *ValueSet) error {
	raw, err := fhir.EncodeResource(vs.Resource)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO value_set (url, fhir_id, name, title, status, resource)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		ON CONFLICT (url) DO UPDATE SET
			fhir_id = EXCLUDED.fhir_id, name = EXCLUDED.name, title = EXCLUDED.title,
			status = EXCLUDED.status, resource = EXCLUDED.resource, updated_at = NOW()
		RETURNING created_at, updated_at`,
		vs.URL, vs.FHIRID, vs.Name, vs.Title, vs.Status, raw,
	).Scan(&vs.CreatedAt, &vs.UpdatedAt)
}

func (r *valueSetRepoPG) GetByURL(ctx context.Context, url string) (*ValueSet, error) {
	vs, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+vsCols+` FROM value_set WHERE url = $1`, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return vs, err
}

func (r *valueSetRepoPG) List(ctx context.Context) ([]*ValueSet, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vsCols+` FROM value_set ORDER BY url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ValueSet
	for rows.Next() {
		vs, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, vs)
	}
	return items, rows.Err()
}
