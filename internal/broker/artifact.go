package broker

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArtifactStore writes binary payloads to uniquely named temp files so they
// can be handed to the CLI by path. One artifact belongs to exactly one
// request and lives only until that request reaches a terminal state.
type ArtifactStore struct {
	dir string
	log zerolog.Logger
}

// NewArtifactStore returns a store rooted at dir, or os.TempDir() when empty.
func NewArtifactStore(dir string, log zerolog.Logger) *ArtifactStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ArtifactStore{dir: dir, log: log}
}

// Dir returns the directory artifacts are written under.
func (s *ArtifactStore) Dir() string { return s.dir }

// Put writes payload to a freshly generated unique path and returns it.
func (s *ArtifactStore) Put(payload []byte) (string, error) {
	path := filepath.Join(s.dir, "brokerd-"+uuid.NewString())
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", ErrArtifactIO(err.Error())
	}
	return path, nil
}

// Remove deletes the artifact at path. Best effort: an already-gone file is
// fine, any other failure is logged and swallowed (cleanup never fails the
// request).
func (s *ArtifactStore) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Str("path", path).Err(err).Msg("artifact cleanup failed")
	}
}
