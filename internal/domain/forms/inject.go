package forms

import (
	"github.com/emcare/forms/internal/platform/fhir"
)

// UUIDPlaceholder is the initial value that asks for a generated identifier.
const UUIDPlaceholder = "uuid()"

// InjectIdentifiers returns a copy of questionnaire in which every item, at
// any depth, whose first initial value reads "uuid()" has its whole initial
// list replaced by a single valueString holding a fresh identifier. The input
// is not modified. The generated identifiers are returned in document order.
func InjectIdentifiers(questionnaire fhir.Resource, newID func() string) (fhir.Resource, []string) {
	out := fhir.CloneResource(questionnaire)
	var generated []string
	if items, ok := out["item"].([]interface{}); ok {
		injectItems(items, newID, &generated)
	}
	return out, generated
}

func injectItems(items []interface{}, newID func() string, generated *[]string) {
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if hasPlaceholder(item) {
			id := newID()
			item["initial"] = []interface{}{
				map[string]interface{}{"valueString": id},
			}
			*generated = append(*generated, id)
		}
		if children, ok := item["item"].([]interface{}); ok {
			injectItems(children, newID, generated)
		}
	}
}

// hasPlaceholder inspects only the first initial value.
func hasPlaceholder(item map[string]interface{}) bool {
	initial, ok := item["initial"].([]interface{})
	if !ok || len(initial) == 0 {
		return false
	}
	first, ok := initial[0].(map[string]interface{})
	if !ok {
		return false
	}
	return fhir.ParseInitialValue(first).Text() == UUIDPlaceholder
}
