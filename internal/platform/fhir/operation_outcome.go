package fhir

// OperationOutcome severity levels (FHIR R4).
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes (FHIR R4).
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeTransient    = "transient"
)

// ParseOperationOutcome decodes an OperationOutcome body. It returns nil when
// the payload is not an OperationOutcome.
func ParseOperationOutcome(data []byte) *OperationOutcome {
	var oo OperationOutcome
	if err := Unmarshal(data, &oo); err != nil {
		return nil
	}
	if oo.ResourceType != "OperationOutcome" {
		return nil
	}
	return &oo
}
