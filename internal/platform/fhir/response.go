package fhir

// QuestionnaireResponse status codes used by this service.
const (
	ResponseStatusInProgress = "in-progress"
	ResponseStatusCompleted  = "completed"
)

// BuildEmptyQuestionnaireResponse creates an empty QuestionnaireResponse shell
// for the questionnaire: one item stub per top-level item, in order, and the
// given subject and encounter references. Nested items are not mirrored.
func BuildEmptyQuestionnaireResponse(questionnaire *ParsedQuestionnaire, subject, encounter *Reference) Resource {
	qr := Resource{
		"resourceType": "QuestionnaireResponse",
		"status":       ResponseStatusInProgress,
	}

	if questionnaire.URL != "" {
		qr["questionnaire"] = questionnaire.URL
	} else if questionnaire.ID != "" {
		qr["questionnaire"] = "Questionnaire/" + questionnaire.ID
	}

	if subject != nil {
		qr["subject"] = subject.ToMap()
	}
	if encounter != nil {
		qr["encounter"] = encounter.ToMap()
	}

	items := make([]interface{}, 0, len(questionnaire.Items))
	for i := range questionnaire.Items {
		items = append(items, BuildResponseItemStub(&questionnaire.Items[i]))
	}
	if len(items) > 0 {
		qr["item"] = items
	}

	return qr
}

// BuildResponseItemStub builds an unanswered QuestionnaireResponse.item for a
// questionnaire item.
func BuildResponseItemStub(item *QuestionnaireItem) map[string]interface{} {
	stub := map[string]interface{}{
		"linkId": item.LinkID,
	}
	if item.Text != "" {
		stub["text"] = item.Text
	}
	if item.Definition != "" {
		stub["definition"] = item.Definition
	}
	return stub
}
