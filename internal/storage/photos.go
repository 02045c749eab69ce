// Package storage keeps uploaded photos on the local filesystem. Reference
// photos live under the media directory keyed by identity id; probe photos
// are spooled to a temp area and removed once verification finishes.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PhotoStore manages reference and probe photo files under a media root.
type PhotoStore struct {
	root string
}

// NewPhotoStore ensures the media directories exist.
func NewPhotoStore(root string) (*PhotoStore, error) {
	for _, dir := range []string{
		filepath.Join(root, "reference"),
		filepath.Join(root, "probe"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create media dir: %w", err)
		}
	}
	return &PhotoStore{root: root}, nil
}

// SaveReference stores the reference photo for an identity and returns its path.
func (s *PhotoStore) SaveReference(identityID string, src io.Reader) (string, error) {
	path := filepath.Join(s.root, "reference", identityID+".img")
	if err := writeFile(path, src); err != nil {
		return "", fmt.Errorf("storage: save reference photo: %w", err)
	}
	return path, nil
}

// SaveProbe spools a probe photo to a temp file. The returned cleanup removes
// it and must be called once verification finishes.
func (s *PhotoStore) SaveProbe(src io.Reader) (string, func(), error) {
	f, err := os.CreateTemp(filepath.Join(s.root, "probe"), "probe-*.img")
	if err != nil {
		return "", nil, fmt.Errorf("storage: create probe file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("storage: write probe file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("storage: close probe file: %w", err)
	}

	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

// Remove deletes a stored photo. Removing an absent file is not an error.
func (s *PhotoStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove photo: %w", err)
	}
	return nil
}

func writeFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
