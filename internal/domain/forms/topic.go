package forms

import (
	"fmt"
	"strconv"
)

// Topic selects a questionnaire / structure map asset pair.
type Topic string

// Topics is the ordered set of known form topics. Index 7 is the
// classification form the service opens by default.
var Topics = []Topic{
	"emcareb.registration.e",
	"emcarea.registration.p",
	"emcare.b7.lti-dangersigns",
	"emcare.b18-21.symptoms.2m.m",
	"emcare.b10-14.symptoms.2m.p",
	"emcare.b18-21.signs.2m.m",
	"emcare.b10-16.signs.2m.p",
	"emcare.b23.classification",
}

// DefaultTopic is Topics[7].
const DefaultTopic Topic = "emcare.b23.classification"

// ParseTopic resolves a topic by name or by its index in Topics.
func ParseTopic(s string) (Topic, error) {
	for _, t := range Topics {
		if string(t) == s {
			return t, nil
		}
	}
	if idx, err := strconv.Atoi(s); err == nil && strconv.Itoa(idx) == s {
		if idx >= 0 && idx < len(Topics) {
			return Topics[idx], nil
		}
	}
	return "", fmt.Errorf("%w: unknown topic %q", ErrConfiguration, s)
}

// Valid reports whether t is one of Topics.
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// QuestionnaireAsset is the asset name of the topic's questionnaire.
func (t Topic) QuestionnaireAsset() string {
	return fmt.Sprintf("questionnaire-%s.json", t)
}

// StructureMapAsset is the asset name of the topic's structure map.
func (t Topic) StructureMapAsset() string {
	return fmt.Sprintf("structuremap-%s.json", t)
}

// Assets resolves the topic to its questionnaire and structure map asset
// names, failing with ErrConfiguration for unknown topics.
func (t Topic) Assets() (questionnaire, structureMap string, err error) {
	if !t.Valid() {
		return "", "", fmt.Errorf("%w: unknown topic %q", ErrConfiguration, t)
	}
	return t.QuestionnaireAsset(), t.StructureMapAsset(), nil
}
