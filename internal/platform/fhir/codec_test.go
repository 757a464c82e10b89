package fhir

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeResource(t *testing.T) {
	res, err := DecodeResource([]byte(`{"resourceType":"Questionnaire","id":"q1","item":[{"linkId":"1"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ResourceType(res) != "Questionnaire" {
		t.Errorf("unexpected resourceType %q", ResourceType(res))
	}
}

func TestDecodeResource_Malformed(t *testing.T) {
	for _, in := range []string{`{`, `[1,2]`, `null`, `{"id":"x"}`, `{"resourceType":"A"} {}`} {
		if _, err := DecodeResource([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestDecodeResource_MissingResourceType(t *testing.T) {
	_, err := DecodeResource([]byte(`{"id":"x"}`))
	if !errors.Is(err, ErrNotAResource) {
		t.Errorf("expected ErrNotAResource, got %v", err)
	}
}

func TestEncodeResource_SortedKeysAndNumbers(t *testing.T) {
	res, err := DecodeResource([]byte(`{"resourceType":"Observation","valueDecimal":1.50,"id":"o1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := EncodeResource(res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := string(out)
	if got != `{"id":"o1","resourceType":"Observation","valueDecimal":1.50}` {
		t.Errorf("unexpected canonical form %s", got)
	}
}

func TestCloneResource_IsDeep(t *testing.T) {
	orig := Resource{
		"resourceType": "Questionnaire",
		"item": []interface{}{
			map[string]interface{}{"linkId": "1"},
		},
	}
	cp := CloneResource(orig)
	cp["item"].([]interface{})[0].(map[string]interface{})["linkId"] = "changed"

	if orig["item"].([]interface{})[0].(map[string]interface{})["linkId"] != "1" {
		t.Error("mutating the clone changed the original")
	}
}

func TestParseOperationOutcome(t *testing.T) {
	oo := ParseOperationOutcome([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","diagnostics":"bad map"}]}`))
	if oo == nil {
		t.Fatal("expected an OperationOutcome")
	}
	if !oo.HasErrors() {
		t.Error("expected HasErrors to be true")
	}
	if !strings.Contains(oo.Diagnostics(), "bad map") {
		t.Errorf("unexpected diagnostics %q", oo.Diagnostics())
	}
	if ParseOperationOutcome([]byte(`{"resourceType":"Bundle"}`)) != nil {
		t.Error("expected nil for a non-OperationOutcome body")
	}
}
