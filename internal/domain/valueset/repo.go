package valueset

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories for an unknown URL.
var ErrNotFound = errors.New("value set not found")

type ValueSetRepository interface {
	Upsert(ctx context.Context, vs *ValueSet) error
	GetByURL(ctx context.Context, url string) (*ValueSet, error)
	List(ctx context.Context) ([]*ValueSet, error)
}
