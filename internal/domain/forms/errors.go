package forms

import (
	"errors"

	"github.com/emcare/forms/internal/platform/assets"
)

// Failure kinds reported by the preparer. Every error returned by LoadForm,
// Resume and Extract wraps exactly one of them.
var (
	// ErrConfiguration reports an unknown topic key.
	ErrConfiguration = errors.New("configuration error")
	// ErrAssetNotFound reports a missing or unreadable asset.
	ErrAssetNotFound = assets.ErrAssetNotFound
	// ErrParse reports asset bytes that are not the expected FHIR document.
	ErrParse = errors.New("parse error")
	// ErrExtraction reports a failure of the extraction collaborator or a
	// malformed completed response.
	ErrExtraction = errors.New("extraction error")
)
