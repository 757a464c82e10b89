package fhir

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetStructureMapExtension names the structure map a Questionnaire's
// responses are extracted with.
const TargetStructureMapExtension = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-targetStructureMap"

// QuestionnaireItem represents a parsed questionnaire item.
type QuestionnaireItem struct {
	LinkID     string
	Text       string
	Type       string // group, display, boolean, decimal, integer, date, dateTime, time, string, text, url, choice, open-choice, attachment, reference, quantity
	Definition string
	Required   bool
	Repeats    bool
	ReadOnly   bool
	Initial    []InitialValue
	Item       []QuestionnaireItem
}

// InitialValue is a default value for an item. Only primitive value[x]
// variants are kept; complex ones are recorded as present but textless.
type InitialValue struct {
	ValueString   string
	ValueURI      string
	ValueDate     string
	ValueDateTime string
	ValueTime     string
	ValueBoolean  *bool
	ValueNumber   string // valueInteger or valueDecimal as written
	Complex       bool   // valueCoding, valueQuantity, valueReference, valueAttachment
}

// Text returns the textual content of a primitive initial value, or "" for
// complex values.
func (iv InitialValue) Text() string {
	switch {
	case iv.ValueString != "":
		return iv.ValueString
	case iv.ValueURI != "":
		return iv.ValueURI
	case iv.ValueDate != "":
		return iv.ValueDate
	case iv.ValueDateTime != "":
		return iv.ValueDateTime
	case iv.ValueTime != "":
		return iv.ValueTime
	case iv.ValueBoolean != nil:
		return strconv.FormatBool(*iv.ValueBoolean)
	case iv.ValueNumber != "":
		return iv.ValueNumber
	}
	return ""
}

// ParsedQuestionnaire holds parsed questionnaire data.
type ParsedQuestionnaire struct {
	ID                 string
	URL                string
	Title              string
	Status             string
	TargetStructureMap string
	Items              []QuestionnaireItem
}

// ParseQuestionnaire parses a FHIR Questionnaire into structured items.
func ParseQuestionnaire(data Resource) (*ParsedQuestionnaire, error) {
	if data == nil {
		return nil, fmt.Errorf("Questionnaire data is nil")
	}

	rt, _ := data["resourceType"].(string)
	if rt != "Questionnaire" {
		return nil, fmt.Errorf("expected resourceType Questionnaire, got %q", rt)
	}

	parsed := &ParsedQuestionnaire{}
	parsed.ID, _ = data["id"].(string)
	parsed.URL, _ = data["url"].(string)
	parsed.Title, _ = data["title"].(string)
	parsed.Status, _ = data["status"].(string)
	parsed.TargetStructureMap = extensionString(data, TargetStructureMapExtension)

	if itemsRaw, ok := data["item"].([]interface{}); ok {
		parsed.Items = parseQuestionnaireItems(itemsRaw)
	}

	return parsed, nil
}

// CountItems counts every item in the tree, nested ones included.
func (q *ParsedQuestionnaire) CountItems() int {
	n := 0
	WalkItems(q.Items, func(*QuestionnaireItem) { n++ })
	return n
}

// WalkItems visits every item depth-first, parents before children.
func WalkItems(items []QuestionnaireItem, fn func(*QuestionnaireItem)) {
	for i := range items {
		fn(&items[i])
		WalkItems(items[i].Item, fn)
	}
}

func parseQuestionnaireItems(itemsRaw []interface{}) []QuestionnaireItem {
	var items []QuestionnaireItem
	for _, raw := range itemsRaw {
		itemMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		items = append(items, parseQuestionnaireItem(itemMap))
	}
	return items
}

func parseQuestionnaireItem(m map[string]interface{}) QuestionnaireItem {
	item := QuestionnaireItem{}

	item.LinkID, _ = m["linkId"].(string)
	item.Text, _ = m["text"].(string)
	item.Type, _ = m["type"].(string)
	item.Definition, _ = m["definition"].(string)
	item.Required, _ = m["required"].(bool)
	item.Repeats, _ = m["repeats"].(bool)
	item.ReadOnly, _ = m["readOnly"].(bool)

	if initRaw, ok := m["initial"].([]interface{}); ok {
		for _, init := range initRaw {
			initMap, ok := init.(map[string]interface{})
			if !ok {
				continue
			}
			item.Initial = append(item.Initial, ParseInitialValue(initMap))
		}
	}

	if subItems, ok := m["item"].([]interface{}); ok {
		item.Item = parseQuestionnaireItems(subItems)
	}

	return item
}

// ParseInitialValue reads the value[x] of a single Questionnaire.item.initial
// element.
func ParseInitialValue(m map[string]interface{}) InitialValue {
	iv := InitialValue{}
	iv.ValueString, _ = m["valueString"].(string)
	iv.ValueURI, _ = m["valueUri"].(string)
	iv.ValueDate, _ = m["valueDate"].(string)
	iv.ValueDateTime, _ = m["valueDateTime"].(string)
	iv.ValueTime, _ = m["valueTime"].(string)
	if vb, ok := m["valueBoolean"].(bool); ok {
		iv.ValueBoolean = &vb
	}
	for _, key := range []string{"valueInteger", "valueDecimal"} {
		if v, ok := m[key]; ok {
			iv.ValueNumber = fmt.Sprintf("%v", v)
			break
		}
	}
	for k := range m {
		switch k {
		case "valueCoding", "valueQuantity", "valueReference", "valueAttachment":
			iv.Complex = true
		}
	}
	return iv
}

// extensionString returns the first string-valued value[x] of the extension
// with the given URL, or "".
func extensionString(data map[string]interface{}, url string) string {
	exts, ok := data["extension"].([]interface{})
	if !ok {
		return ""
	}
	for _, raw := range exts {
		ext, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if u, _ := ext["url"].(string); u != url {
			continue
		}
		for k, v := range ext {
			if !strings.HasPrefix(k, "value") {
				continue
			}
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
