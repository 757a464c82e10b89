// Package assets provides read-only access to the bundled form assets
// (questionnaires, structure maps, value sets). Assets are addressed by a flat
// file name such as "questionnaire-emcare.b23.classification.json".
package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidName   = errors.New("invalid asset name")
	ErrAssetTooLarge = errors.New("asset exceeds maximum allowed size")
)

// MaxAssetSize bounds a single asset read (16 MB).
const MaxAssetSize = 16 * 1024 * 1024

// Store is a read-only key to bytes store.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// ValidateName rejects names that are empty or would escape the asset root.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name != path.Clean(name) || name == ".." || name == "." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
