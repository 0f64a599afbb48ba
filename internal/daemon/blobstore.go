package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalBlobStore is a local-filesystem-backed ingest.BlobStore. Production
// deployments put object storage (the reference service uploads to
// Cloudinary) behind this same narrow Put/Delete interface; this
// implementation exists so the daemon has something concrete to run
// against without an external account. internal/ingest's tests do not use
// it; they use their own in-memory fake of the same interface.
type LocalBlobStore struct {
	root string
}

// NewLocalBlobStore creates a LocalBlobStore rooted at dir, creating it if
// it does not already exist.
func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root %s: %w", dir, err)
	}
	return &LocalBlobStore{root: dir}, nil
}

// Put writes data under a fresh UUID-derived name within mediaType's
// subdirectory and returns a file:// URL identifying it.
func (b *LocalBlobStore) Put(mediaType, filename string, data []byte) (string, error) {
	dir := filepath.Join(b.root, mediaType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blobstore: creating %s: %w", dir, err)
	}

	ext := filepath.Ext(filename)
	name := uuid.NewString() + ext
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: writing %s: %w", path, err)
	}

	return "file://" + path, nil
}

// Delete removes the blob named by a URL previously returned from Put.
func (b *LocalBlobStore) Delete(url string) error {
	path, ok := trimFileScheme(url)
	if !ok {
		return fmt.Errorf("blobstore: unrecognized url %q", url)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: removing %s: %w", path, err)
	}
	return nil
}

func trimFileScheme(url string) (string, bool) {
	const prefix = "file://"
	if len(url) < len(prefix) || url[:len(prefix)] != prefix {
		return "", false
	}
	return url[len(prefix):], true
}
