package forms

import (
	"context"
	"fmt"

	"github.com/emcare/forms/internal/platform/fhir"
)

// StructureMapResolver returns the structure map for a canonical URL.
type StructureMapResolver = func(ctx context.Context, canonicalURL string) ([]byte, error)

// Extractor turns a completed QuestionnaireResponse into an output Bundle
// using structure maps obtained through resolve.
type Extractor interface {
	Extract(ctx context.Context, questionnaire, response []byte, resolve StructureMapResolver) ([]byte, error)
}

// SingleMapResolver returns a resolver that answers every URL with the same
// structure map. It serves one map per session and is not a general lookup;
// imported or chained maps resolve to the session map as well.
func SingleMapResolver(structureMap []byte) StructureMapResolver {
	return func(context.Context, string) ([]byte, error) {
		return structureMap, nil
	}
}

// ExtractResult is the single notification delivered by ExtractAsync.
type ExtractResult struct {
	Bundle []byte
	Err    error
}

// Extract forwards the completed response, the session questionnaire and a
// resolver for the session structure map to the extractor. It does not retry.
func (p *Preparer) Extract(ctx context.Context, s *Session, response []byte) ([]byte, error) {
	if p.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", ErrExtraction)
	}

	res, err := fhir.DecodeResource(response)
	if err != nil {
		return nil, fmt.Errorf("%w: response: %w", ErrExtraction, err)
	}
	if rt := fhir.ResourceType(res); rt != "QuestionnaireResponse" {
		return nil, fmt.Errorf("%w: expected QuestionnaireResponse, got %q", ErrExtraction, rt)
	}

	bundle, err := p.extractor.Extract(ctx, s.Questionnaire, response, SingleMapResolver(s.StructureMap))
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", string(s.Topic)).Msg("extraction failed")
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	evt := p.logger.Info().Str("topic", string(s.Topic)).Int("bytes", len(bundle))
	if out, err := fhir.DecodeResource(bundle); err == nil {
		evt = evt.Int("entries", len(fhir.BundleEntries(out)))
	}
	evt.Msg("extracted bundle")

	return bundle, nil
}

// ExtractAsync runs Extract on its own goroutine and delivers exactly one
// result on the returned channel, which is then closed. Cancelling ctx does not
// stop a started extraction; only its values are carried over.
func (p *Preparer) ExtractAsync(ctx context.Context, s *Session, response []byte) <-chan ExtractResult {
	done := make(chan ExtractResult, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		bundle, err := p.Extract(ctx, s, response)
		done <- ExtractResult{Bundle: bundle, Err: err}
	}()
	return done
}
