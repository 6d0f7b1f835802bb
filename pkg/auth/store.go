package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/onstar-go/onstar/internal/log"
)

// Kind selects which of the two persisted token artifacts an operation applies to.
type Kind string

const (
	KindIdentity Kind = "identity" // the identity provider's token set
	KindAPI      Kind = "api"      // the exchanged vendor API token
)

func (k Kind) filename() string {
	if k == KindAPI {
		return "api_tokens.json"
	}
	return "identity_tokens.json"
}

// Store persists the two token artifacts across process invocations.
type Store interface {
	LoadIdentity() *TokenSet
	LoadAPI() *APIToken
	SaveIdentity(*TokenSet) error
	SaveAPI(*APIToken) error
	Invalidate(Kind) error
}

// FileStore keeps each token kind in its own JSON file under Dir. Loads validate ownership
// against Username before returning anything; a token that belongs to someone else, or that
// cannot be decoded, is reported as absent rather than as an error.
type FileStore struct {
	Dir      string
	Username string
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir, username string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{Dir: dir, Username: username}, nil
}

func (s *FileStore) path(kind Kind) string {
	return filepath.Join(s.Dir, kind.filename())
}

// LoadIdentity returns the stored identity token set, or nil if it is absent, unreadable, or
// owned by a different account. Expiry is not checked here: an expired set still carries a
// refresh token the session manager may be able to use.
func (s *FileStore) LoadIdentity() *TokenSet {
	var stored TokenSet
	if !s.read(KindIdentity, &stored) {
		return nil
	}
	id, err := DecodeIdentity(stored.AccessToken)
	if err != nil {
		log.Debug("Ignoring stored identity tokens: %s", err)
		return nil
	}
	if !id.Matches(s.Username) {
		log.Debug("Stored identity tokens belong to a different account; ignoring")
		return nil
	}
	return &stored
}

// LoadAPI returns the stored API token if it is owned by the configured account and still
// inside the validity window, or nil otherwise.
func (s *FileStore) LoadAPI() *APIToken {
	var stored APIToken
	if !s.read(KindAPI, &stored) {
		return nil
	}
	id, err := DecodeIdentity(stored.AccessToken)
	if err != nil {
		log.Debug("Ignoring stored API token: %s", err)
		return nil
	}
	if !id.Matches(s.Username) {
		log.Debug("Stored API token belongs to a different account; ignoring")
		return nil
	}
	if !stored.Valid() {
		log.Debug("Stored API token expired or expiring soon; ignoring")
		return nil
	}
	return &stored
}

func (s *FileStore) SaveIdentity(tokens *TokenSet) error {
	return s.write(KindIdentity, tokens)
}

func (s *FileStore) SaveAPI(token *APIToken) error {
	return s.write(KindAPI, token)
}

// Invalidate renames the on-disk artifact aside so a rejected token is not re-read. The old
// file is kept with an .old suffix for debugging.
func (s *FileStore) Invalidate(kind Kind) error {
	path := s.path(kind)
	aside := strings.TrimSuffix(path, filepath.Ext(path)) + ".old"
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	log.Debug("Invalidated %s tokens (%s)", kind, aside)
	return nil
}

func (s *FileStore) read(kind Kind, out interface{}) bool {
	data, err := os.ReadFile(s.path(kind))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug("Could not read %s tokens: %s", kind, err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Debug("Could not decode %s tokens: %s", kind, err)
		return false
	}
	return true
}

// write replaces the artifact with a full overwrite; there is no partial merge.
func (s *FileStore) write(kind Kind, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(kind), data, 0600)
}
