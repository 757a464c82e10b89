package forms

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/emcare/forms/internal/platform/fhir"
)

func TestLoadForm_ReadsTopicAssets(t *testing.T) {
	store := &countingStore{files: map[string][]byte{
		DefaultTopic.QuestionnaireAsset(): []byte(testQuestionnaire),
		DefaultTopic.StructureMapAsset():  []byte(testStructureMap),
	}}
	p := NewPreparer(store, nil)

	s, err := p.LoadForm(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.reads) != 2 {
		t.Fatalf("expected 2 reads, got %v", store.reads)
	}
	if store.reads[0] != "questionnaire-emcare.b23.classification.json" {
		t.Errorf("first read = %q", store.reads[0])
	}
	if store.reads[1] != "structuremap-emcare.b23.classification.json" {
		t.Errorf("second read = %q", store.reads[1])
	}
	if string(s.StructureMap) != testStructureMap {
		t.Errorf("structure map not returned byte for byte: %s", s.StructureMap)
	}
}

func TestLoadForm_InjectsRandomUUIDs(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil)

	s, err := p.LoadForm(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := s.PreparedQuestionnaire()
	for _, path := range [][]int{{0}, {2, 0}} {
		got := initialStrings(itemAt(t, q, path...))
		if len(got) != 1 {
			t.Fatalf("item %v: expected one initial, got %v", path, got)
		}
		if len(got[0]) != 36 {
			t.Errorf("item %v: %q is not a 36-character identifier", path, got[0])
		}
		if _, err := uuid.Parse(got[0]); err != nil {
			t.Errorf("item %v: %q is not a UUID: %v", path, got[0], err)
		}
	}
	if got := initialStrings(itemAt(t, q, 2, 1)); got[0] != "keep" {
		t.Errorf("non-placeholder item changed: %v", got)
	}

	loaded := s.LoadedQuestionnaire()
	if got := initialStrings(itemAt(t, loaded, 0)); got[0] != UUIDPlaceholder {
		t.Errorf("loaded questionnaire should keep placeholder, got %v", got)
	}
}

func TestLoadForm_SessionJSONMatchesPrepared(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil, WithIDGenerator(sequentialIDs()))

	s, err := p.LoadForm(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, err := fhir.DecodeResource(s.Questionnaire)
	if err != nil {
		t.Fatalf("decode questionnaire: %v", err)
	}
	if got := initialStrings(itemAt(t, q, 0)); len(got) != 1 || got[0] != "id-1" {
		t.Errorf("serialized questionnaire initial = %v", got)
	}
	if len(s.InjectedIDs) != 2 {
		t.Errorf("expected 2 injected ids, got %v", s.InjectedIDs)
	}
}

func TestLoadForm_ResponseSkeleton(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil)

	s, err := p.LoadForm(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	qr, err := fhir.DecodeResource(s.Response)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if fhir.ResourceType(qr) != "QuestionnaireResponse" {
		t.Fatalf("resourceType = %q", fhir.ResourceType(qr))
	}
	if qr["status"] != fhir.ResponseStatusInProgress {
		t.Errorf("status = %v", qr["status"])
	}
	if qr["questionnaire"] != s.QuestionnaireURL || s.QuestionnaireURL == "" {
		t.Errorf("questionnaire = %v, url = %q", qr["questionnaire"], s.QuestionnaireURL)
	}

	items, ok := qr["item"].([]interface{})
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3 item stubs, got %v", qr["item"])
	}
	for i, want := range []string{"encounterId", "age", "group"} {
		stub := items[i].(map[string]interface{})
		if stub["linkId"] != want {
			t.Errorf("stub %d linkId = %v, want %s", i, stub["linkId"], want)
		}
		if _, ok := stub["answer"]; ok {
			t.Errorf("stub %d should have no answer", i)
		}
		if _, ok := stub["item"]; ok {
			t.Errorf("stub %d should not mirror nested items", i)
		}
	}
	if items[1].(map[string]interface{})["text"] != "Age" {
		t.Errorf("stub text not copied: %v", items[1])
	}

	subject := qr["subject"].(map[string]interface{})
	encounter := qr["encounter"].(map[string]interface{})
	if subject["reference"] != "Patient/"+s.SubjectID {
		t.Errorf("subject reference = %v", subject["reference"])
	}
	if encounter["reference"] != "Encounter/"+s.EncounterID {
		t.Errorf("encounter reference = %v", encounter["reference"])
	}
	if subject["identifier"].(map[string]interface{})["value"] != s.SubjectID {
		t.Errorf("subject identifier = %v", subject["identifier"])
	}
}

func TestLoadForm_IdentifiersAreDistinct(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil)

	s, err := p.LoadForm(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range append([]string{s.SubjectID, s.EncounterID}, s.InjectedIDs...) {
		if seen[id] {
			t.Errorf("identifier %s generated twice", id)
		}
		seen[id] = true
	}
	if s.SubjectID == s.EncounterID {
		t.Error("subject and encounter share an identifier")
	}
}

func TestLoadForm_NotIdempotent(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil)
	ctx := context.Background()

	first, err := p.LoadForm(ctx, DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.LoadForm(ctx, DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.SubjectID == second.SubjectID || first.EncounterID == second.EncounterID {
		t.Error("sessions share subject or encounter identifiers")
	}
	if first.InjectedIDs[0] == second.InjectedIDs[0] {
		t.Error("sessions share injected identifiers")
	}
	if string(first.StructureMap) != string(second.StructureMap) {
		t.Error("structure map differs between sessions")
	}
}

func TestLoadForm_UnknownTopicReadsNothing(t *testing.T) {
	store := &countingStore{files: map[string][]byte{}}
	p := NewPreparer(store, nil)

	_, err := p.LoadForm(context.Background(), Topic("emcare.unknown"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if len(store.reads) != 0 {
		t.Errorf("store was read for unknown topic: %v", store.reads)
	}
}

func TestLoadForm_MissingQuestionnaire(t *testing.T) {
	store := &countingStore{files: map[string][]byte{
		DefaultTopic.StructureMapAsset(): []byte(testStructureMap),
	}}
	p := NewPreparer(store, nil)

	_, err := p.LoadForm(context.Background(), DefaultTopic)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestLoadForm_MissingStructureMap(t *testing.T) {
	store := &countingStore{files: map[string][]byte{
		DefaultTopic.QuestionnaireAsset(): []byte(testQuestionnaire),
	}}
	p := NewPreparer(store, nil)

	_, err := p.LoadForm(context.Background(), DefaultTopic)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestLoadForm_ReadFailureIsAssetNotFound(t *testing.T) {
	store := &countingStore{err: errors.New("disk on fire")}
	p := NewPreparer(store, nil)

	_, err := p.LoadForm(context.Background(), DefaultTopic)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestLoadForm_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"resourceType": "Questionnaire",`},
		{"wrong resource", `{"resourceType": "Patient", "id": "p1"}`},
		{"no resource type", `{"item": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{files: map[string][]byte{
				DefaultTopic.QuestionnaireAsset(): []byte(tt.body),
				DefaultTopic.StructureMapAsset():  []byte(testStructureMap),
			}}
			p := NewPreparer(store, nil)

			_, err := p.LoadForm(context.Background(), DefaultTopic)
			if !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestResume_KeepsPreparedQuestionnaire(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil)
	ctx := context.Background()

	s, err := p.LoadForm(ctx, DefaultTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resumed, err := p.Resume(ctx, DefaultTopic, s.Questionnaire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resumed.Questionnaire) != string(s.Questionnaire) {
		t.Error("resumed questionnaire differs from the prepared one")
	}
	if len(resumed.InjectedIDs) != 0 {
		t.Errorf("resume should not inject identifiers, got %v", resumed.InjectedIDs)
	}
	if string(resumed.StructureMap) != testStructureMap {
		t.Errorf("structure map = %s", resumed.StructureMap)
	}
	if resumed.Response != nil || resumed.SubjectID != "" || resumed.EncounterID != "" {
		t.Error("resume should not build a response skeleton")
	}
}

func TestResume_RejectsQuestionnaireOfAnotherForm(t *testing.T) {
	store := &countingStore{files: map[string][]byte{
		DefaultTopic.QuestionnaireAsset(): []byte(testQuestionnaire),
		DefaultTopic.StructureMapAsset():  []byte(testStructureMap),
	}}
	p := NewPreparer(store, nil)

	other := `{"resourceType":"Questionnaire","url":"http://example.org/Questionnaire/emcareb.registration.e","status":"active"}`
	_, err := p.Resume(context.Background(), DefaultTopic, []byte(other))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if len(store.reads) != 1 || store.reads[0] != DefaultTopic.QuestionnaireAsset() {
		t.Errorf("reads = %v, want only the questionnaire asset", store.reads)
	}
}

func TestResume_Errors(t *testing.T) {
	p := NewPreparer(newMemStore(DefaultTopic), nil)
	ctx := context.Background()

	if _, err := p.Resume(ctx, Topic("nope"), []byte(testQuestionnaire)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	if _, err := p.Resume(ctx, DefaultTopic, []byte(`{"resourceType":"Patient"}`)); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
	if _, err := p.Resume(ctx, Topics[0], []byte(testQuestionnaire)); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}
