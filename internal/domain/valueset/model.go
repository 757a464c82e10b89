package valueset

import (
	"errors"
	"fmt"
	"time"

	"github.com/emcare/forms/internal/platform/fhir"
)

// ErrInvalidValueSet is returned when an imported document is not a usable
// ValueSet.
var ErrInvalidValueSet = errors.New("invalid value set")

// ValueSet maps to the value_set table. Resource holds the full FHIR document.
type ValueSet struct {
	URL       string        `db:"url" json:"url"`
	FHIRID    string        `db:"fhir_id" json:"fhir_id,omitempty"`
	Name      string        `db:"name" json:"name,omitempty"`
	Title     string        `db:"title" json:"title,omitempty"`
	Status    string        `db:"status" json:"status"`
	Resource  fhir.Resource `db:"resource" json:"resource"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

var validStatuses = map[string]bool{
	"draft": true, "active": true, "retired": true, "unknown": true,
}

// FromResource builds a ValueSet row from a decoded ValueSet resource.
func FromResource(res fhir.Resource) (*ValueSet, error) {
	if rt := fhir.ResourceType(res); rt != "ValueSet" {
		return nil, fmt.Errorf("%w: expected ValueSet, got %q", ErrInvalidValueSet, rt)
	}
	vs := &ValueSet{Resource: res, Status: "active"}
	vs.URL, _ = res["url"].(string)
	if vs.URL == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidValueSet)
	}
	vs.FHIRID, _ = res["id"].(string)
	vs.Name, _ = res["name"].(string)
	vs.Title, _ = res["title"].(string)
	if s, _ := res["status"].(string); s != "" {
		if !validStatuses[s] {
			return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidValueSet, s)
		}
		vs.Status = s
	}
	return vs, nil
}

// Codes flattens compose.include[].concept[] into codings, each carrying its
// include's system and version. Includes without enumerated concepts
// contribute nothing; expansion.contains[] is used when compose is empty.
func (vs *ValueSet) Codes() []fhir.Coding {
	var out []fhir.Coding
	compose, _ := vs.Resource["compose"].(map[string]interface{})
	includes, _ := compose["include"].([]interface{})
	for _, raw := range includes {
		inc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		system, _ := inc["system"].(string)
		version, _ := inc["version"].(string)
		concepts, _ := inc["concept"].([]interface{})
		for _, rc := range concepts {
			c, ok := rc.(map[string]interface{})
			if !ok {
				continue
			}
			code, _ := c["code"].(string)
			if code == "" {
				continue
			}
			display, _ := c["display"].(string)
			out = append(out, fhir.Coding{System: system, Version: version, Code: code, Display: display})
		}
	}
	if len(out) > 0 {
		return out
	}

	expansion, _ := vs.Resource["expansion"].(map[string]interface{})
	contains, _ := expansion["contains"].([]interface{})
	for _, raw := range contains {
		c, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		coding := fhir.Coding{}
		coding.System, _ = c["system"].(string)
		coding.Version, _ = c["version"].(string)
		coding.Code, _ = c["code"].(string)
		coding.Display, _ = c["display"].(string)
		if coding.Code != "" {
			out = append(out, coding)
		}
	}
	return out
}
