package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// FSStore serves assets from a directory of an afero filesystem.
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewFSStore returns a store rooted at dir on fsys.
func NewFSStore(fsys afero.Fs, dir string) *FSStore {
	return &FSStore{fs: fsys, root: dir}
}

// NewOSStore returns a store rooted at dir on the host filesystem.
func NewOSStore(dir string) *FSStore {
	return NewFSStore(afero.NewOsFs(), dir)
}

// Read returns the content of the named asset.
func (s *FSStore) Read(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
		}
		return nil, fmt.Errorf("open asset %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}
	if len(data) > MaxAssetSize {
		return nil, fmt.Errorf("%w: %s", ErrAssetTooLarge, name)
	}
	return data, nil
}

// Names lists asset names matching the glob pattern, sorted.
func (s *FSStore) Names(pattern string) ([]string, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.root, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob assets: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}
