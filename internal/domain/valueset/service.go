package valueset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/emcare/forms/internal/platform/fhir"
)

type Service struct {
	repo   ValueSetRepository
	logger zerolog.Logger
}

func NewService(repo ValueSetRepository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Import stores a ValueSet document, replacing any stored one with the same
// canonical URL. A Bundle imports every ValueSet entry it contains.
func (s *Service) Import(ctx context.Context, data []byte) ([]*ValueSet, error) {
	res, err := fhir.DecodeResource(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValueSet, err)
	}

	var docs []fhir.Resource
	if fhir.ResourceType(res) == "Bundle" {
		for _, entry := range fhir.BundleEntries(res) {
			r, _ := entry["resource"].(map[string]interface{})
			if fhir.ResourceType(r) == "ValueSet" {
				docs = append(docs, r)
			}
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("%w: bundle holds no ValueSet", ErrInvalidValueSet)
		}
	} else {
		docs = append(docs, res)
	}

	out := make([]*ValueSet, 0, len(docs))
	for _, doc := range docs {
		vs, err := FromResource(doc)
		if err != nil {
			return out, err
		}
		if err := s.repo.Upsert(ctx, vs); err != nil {
			return out, fmt.Errorf("store value set %s: %w", vs.URL, err)
		}
		s.logger.Info().Str("url", vs.URL).Int("codes", len(vs.Codes())).Msg("value set imported")
		out = append(out, vs)
	}
	return out, nil
}

// Lookup returns the codings of the value set with the given canonical URL.
// A trailing "|version" is ignored. Unknown URLs yield an empty list.
func (s *Service) Lookup(ctx context.Context, url string) ([]fhir.Coding, error) {
	url = stripVersion(url)
	vs, err := s.repo.GetByURL(ctx, url)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug().Str("url", url).Msg("value set not stored")
		return []fhir.Coding{}, nil
	}
	if err != nil {
		return nil, err
	}
	codes := vs.Codes()
	if codes == nil {
		codes = []fhir.Coding{}
	}
	return codes, nil
}

// Get returns the stored value set for url.
func (s *Service) Get(ctx context.Context, url string) (*ValueSet, error) {
	return s.repo.GetByURL(ctx, stripVersion(url))
}

func (s *Service) List(ctx context.Context) ([]*ValueSet, error) {
	return s.repo.List(ctx)
}

func stripVersion(url string) string {
	if i := strings.LastIndex(url, "|"); i >= 0 {
		return url[:i]
	}
	return url
}
