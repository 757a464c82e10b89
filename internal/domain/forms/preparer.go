package forms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emcare/forms/internal/platform/assets"
	"github.com/emcare/forms/internal/platform/fhir"
)

// Session is the result of loading a form. It is a value: nothing in the
// preparer keeps a reference to it, and its byte fields are never modified
// after LoadForm returns.
type Session struct {
	Topic Topic
	// Questionnaire is the canonical JSON of the questionnaire with every
	// placeholder replaced.
	Questionnaire []byte
	// Response is the canonical JSON of the QuestionnaireResponse skeleton.
	Response []byte
	// StructureMap is the structure map asset, byte for byte.
	StructureMap []byte

	QuestionnaireURL string
	SubjectID        string
	EncounterID      string
	// InjectedIDs are the identifiers substituted for placeholders, in
	// document order.
	InjectedIDs []string

	loaded   fhir.Resource
	prepared fhir.Resource
	skeleton fhir.Resource
}

// LoadedQuestionnaire returns a copy of the questionnaire as parsed from the
// asset, before placeholder substitution.
func (s *Session) LoadedQuestionnaire() fhir.Resource { return fhir.CloneResource(s.loaded) }

// PreparedQuestionnaire returns a copy of the questionnaire after placeholder
// substitution.
func (s *Session) PreparedQuestionnaire() fhir.Resource { return fhir.CloneResource(s.prepared) }

// ResponseSkeleton returns a copy of the QuestionnaireResponse skeleton.
func (s *Session) ResponseSkeleton() fhir.Resource { return fhir.CloneResource(s.skeleton) }

// Preparer loads form assets and prepares them for rendering and extraction.
type Preparer struct {
	store     assets.Store
	extractor Extractor
	newID     func() string
	logger    zerolog.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Preparer) { p.newID = fn }
}

// WithLogger sets the logger used for load and extraction events.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Preparer) { p.logger = logger }
}

// NewPreparer creates a Preparer reading from store. extractor may be nil for
// callers that only load forms; Extract then fails with ErrExtraction.
func NewPreparer(store assets.Store, extractor Extractor, opts ...Option) *Preparer {
	p := &Preparer{
		store:     store,
		extractor: extractor,
		newID:     uuid.NewString,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadForm reads the topic's questionnaire and structure map, replaces
// identifier placeholders in the questionnaire and builds a response skeleton
// with freshly generated subject and encounter identifiers. Every call starts
// a new session with new identifiers.
func (p *Preparer) LoadForm(ctx context.Context, topic Topic) (*Session, error) {
	qName, smName, err := topic.Assets()
	if err != nil {
		return nil, err
	}

	loaded, parsedLoaded, err := p.readQuestionnaire(ctx, qName)
	if err != nil {
		return nil, err
	}

	prepared, injected := InjectIdentifiers(loaded, p.newID)
	s, err := p.buildSession(topic, loaded, prepared, parsedLoaded.URL)
	if err != nil {
		return nil, err
	}
	s.InjectedIDs = injected

	s.StructureMap, err = p.readAsset(ctx, smName)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("topic", string(topic)).
		Str("questionnaire", s.QuestionnaireURL).
		Int("items", parsedLoaded.CountItems()).
		Int("identifiers_injected", len(injected)).
		Msg("form loaded")

	return s, nil
}

// Resume rebuilds a session around a questionnaire that was prepared earlier,
// for example one a client received from LoadForm and now submits back with
// its completed response. The questionnaire must carry the canonical URL of
// the topic's asset. No placeholder substitution is performed and no response
// skeleton is built; the structure map is read from the asset store again.
func (p *Preparer) Resume(ctx context.Context, topic Topic, questionnaire []byte) (*Session, error) {
	qName, smName, err := topic.Assets()
	if err != nil {
		return nil, err
	}

	res, err := fhir.DecodeResource(questionnaire)
	if err != nil {
		return nil, fmt.Errorf("%w: questionnaire: %w", ErrParse, err)
	}
	parsed, err := fhir.ParseQuestionnaire(res)
	if err != nil {
		return nil, fmt.Errorf("%w: questionnaire: %w", ErrParse, err)
	}

	_, asset, err := p.readQuestionnaire(ctx, qName)
	if err != nil {
		return nil, err
	}
	if asset.URL != "" && parsed.URL != asset.URL {
		return nil, fmt.Errorf("%w: questionnaire %q does not belong to topic %q", ErrParse, parsed.URL, topic)
	}

	questionnaireJSON, err := fhir.EncodeResource(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	s := &Session{
		Topic:            topic,
		Questionnaire:    questionnaireJSON,
		QuestionnaireURL: parsed.URL,
		loaded:           res,
		prepared:         res,
	}
	s.StructureMap, err = p.readAsset(ctx, smName)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Preparer) readQuestionnaire(ctx context.Context, name string) (fhir.Resource, *fhir.ParsedQuestionnaire, error) {
	data, err := p.readAsset(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	res, err := fhir.DecodeResource(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrParse, name, err)
	}
	parsed, err := fhir.ParseQuestionnaire(res)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrParse, name, err)
	}
	return res, parsed, nil
}

func (p *Preparer) readAsset(ctx context.Context, name string) ([]byte, error) {
	data, err := p.store.Read(ctx, name)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrAssetNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrAssetNotFound, name, err)
}
