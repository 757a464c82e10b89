package fhir

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrNotAResource is returned when a document is valid JSON but not a FHIR
// resource object.
var ErrNotAResource = errors.New("document is not a FHIR resource")

// DecodeResource parses a FHIR JSON document into its generic object form.
// Numbers are kept as json.Number so decimals survive a round trip unchanged.
func DecodeResource(data []byte) (Resource, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var res Resource
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode resource: trailing data after resource")
	}
	if res == nil {
		return nil, ErrNotAResource
	}
	if rt, _ := res["resourceType"].(string); rt == "" {
		return nil, fmt.Errorf("%w: missing resourceType", ErrNotAResource)
	}
	return res, nil
}

// EncodeResource renders a resource in canonical form: compact JSON with
// object keys in sorted order.
func EncodeResource(res Resource) ([]byte, error) {
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	return out, nil
}

// Unmarshal decodes JSON into v using the same codec as DecodeResource.
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Marshal encodes v using the same codec as EncodeResource.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// ResourceType returns the resourceType of a decoded resource.
func ResourceType(res Resource) string {
	rt, _ := res["resourceType"].(string)
	return rt
}

// CloneResource returns a deep copy of a decoded resource. Only the value
// kinds produced by DecodeResource are copied structurally; anything else is
// shared.
func CloneResource(res Resource) Resource {
	if res == nil {
		return nil
	}
	return cloneValue(res).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
