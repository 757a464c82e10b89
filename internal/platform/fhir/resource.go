package fhir

// Resource is a FHIR resource held in its generic JSON object form.
type Resource = map[string]interface{}

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Reference is a FHIR Reference. ID is the element id, not the target id.
type Reference struct {
	ID         string      `json:"id,omitempty"`
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// ToMap converts the reference into its generic JSON object form.
func (r Reference) ToMap() map[string]interface{} {
	m := map[string]interface{}{}
	if r.ID != "" {
		m["id"] = r.ID
	}
	if r.Reference != "" {
		m["reference"] = r.Reference
	}
	if r.Type != "" {
		m["type"] = r.Type
	}
	if r.Identifier != nil {
		ident := map[string]interface{}{}
		if r.Identifier.System != "" {
			ident["system"] = r.Identifier.System
		}
		if r.Identifier.Value != "" {
			ident["value"] = r.Identifier.Value
		}
		m["identifier"] = ident
	}
	if r.Display != "" {
		m["display"] = r.Display
	}
	return m
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// HasErrors returns true if any issue has severity error or fatal.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// Diagnostics joins the diagnostics of every issue with "; ".
func (o *OperationOutcome) Diagnostics() string {
	out := ""
	for _, issue := range o.Issue {
		if issue.Diagnostics == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += issue.Diagnostics
	}
	return out
}
