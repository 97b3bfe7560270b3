package encryption

import (
	"fmt"
	"path"

	"github.com/spf13/afero"

	"github.com/strongroomhq/strongroom/uid"
)

// ExternalStore keeps ciphertext for large binary resource types outside
// the database, so blob rows stay small. The locator persisted with the
// blob is the path relative to the store root.
type ExternalStore struct {
	fs   afero.Fs
	root string
}

func NewExternalStore(fs afero.Fs, root string) *ExternalStore {
	return &ExternalStore{fs: fs, root: root}
}

// Write stores ciphertext for one resource under one key version and
// returns its locator. Each key version gets its own file: re-encryption
// during rotation writes a new file and never touches the one the blob row
// still points at, so a rolled back batch leaves the row decryptable.
func (s *ExternalStore) Write(tenantID uid.ID, resourceType, resourceID string, keyVersion int, cipherText []byte) (string, error) {
	locator := path.Join(tenantID.String(), resourceType, fmt.Sprintf("%s.v%d.bin", resourceID, keyVersion))

	full := path.Join(s.root, locator)
	if err := s.fs.MkdirAll(path.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	if err := afero.WriteFile(s.fs, full, cipherText, 0o600); err != nil {
		return "", fmt.Errorf("writing external ciphertext: %w", err)
	}

	return locator, nil
}

// Remove deletes the ciphertext stored at locator, used to clean up a
// superseded key version's file once its migration batch has committed.
func (s *ExternalStore) Remove(locator string) error {
	return s.fs.Remove(path.Join(s.root, locator))
}

// Read returns the ciphertext stored at locator.
func (s *ExternalStore) Read(locator string) ([]byte, error) {
	b, err := afero.ReadFile(s.fs, path.Join(s.root, locator))
	if err != nil {
		return nil, fmt.Errorf("reading external ciphertext: %w", err)
	}
	return b, nil
}
