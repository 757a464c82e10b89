package forms

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/emcare/forms/internal/platform/assets"
)

const testQuestionnaire = `{
  "resourceType": "Questionnaire",
  "id": "emcare.b23.classification",
  "url": "http://fhir.dk.swisstph-mis.ch/matchbox/fhir/Questionnaire/emcare.b23.classification",
  "status": "active",
  "item": [
    {"linkId": "encounterId", "type": "string", "initial": [{"valueString": "uuid()"}, {"valueString": "other"}]},
    {"linkId": "age", "text": "Age", "type": "integer", "definition": "http://example.org/StructureDefinition/age", "initial": [{"valueInteger": 3}]},
    {"linkId": "group", "type": "group", "item": [
      {"linkId": "group.id", "type": "string", "initial": [{"valueString": "uuid()"}]},
      {"linkId": "group.note", "type": "string", "initial": [{"valueString": "keep"}, {"valueString": "uuid()"}]}
    ]}
  ]
}`

const testStructureMap = `{"resourceType":"StructureMap","id":"emcare.b23.classification","url":"http://example.org/StructureMap/emcare.b23.classification"}`

// newMemStore returns an asset store holding the fixture pair for topic.
func newMemStore(topic Topic) *assets.FSStore {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/assets/"+topic.QuestionnaireAsset(), []byte(testQuestionnaire), 0o644)
	_ = afero.WriteFile(fs, "/assets/"+topic.StructureMapAsset(), []byte(testStructureMap), 0o644)
	return assets.NewFSStore(fs, "/assets")
}

// countingStore records every read and serves from a map.
type countingStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
	reads []string
}

func (s *countingStore) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, name)
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", assets.ErrAssetNotFound, name)
	}
	return data, nil
}

// sequentialIDs yields id-1, id-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// fakeExtractor records its inputs and returns a canned bundle or error.
type fakeExtractor struct {
	mu            sync.Mutex
	calls         int
	questionnaire []byte
	response      []byte
	resolved      []byte
	bundle        []byte
	err           error
	block         chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, questionnaire, response []byte, resolve StructureMapResolver) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	sm, err := resolve(ctx, "http://example.org/StructureMap/anything")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.questionnaire = questionnaire
	f.response = response
	f.resolved = sm
	if f.err != nil {
		return nil, f.err
	}
	return f.bundle, nil
}

const testBundle = `{"resourceType":"Bundle","type":"collection","entry":[{"resource":{"resourceType":"Observation","id":"o1"}}]}`

const testResponse = `{"resourceType":"QuestionnaireResponse","status":"completed","item":[{"linkId":"age","answer":[{"valueInteger":3}]}]}`
