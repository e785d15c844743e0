// Package secretstore provides a process-local cache over the OS secret
// store (keychain / secret-service) for session secrets, per-repo keys, and
// independently generated user key pairs.
package secretstore

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/milieu-dev/milieu/internal/errs"
)

// serviceName is the OS keychain service identifier every entry is stored
// under.
const serviceName = "milieu"

// SessionSecret is the per-profile bundle persisted as a single serialized
// value. Every field is independently optional.
type SessionSecret struct {
	AuthToken      string `json:"auth_token,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	UMK            []byte `json:"umk,omitempty"`
	RecoveryPhrase string `json:"recovery_phrase,omitempty"`
	Email          string `json:"email,omitempty"`
}

// Store is a process-wide mutable cache mirrored to the OS secret store.
// The zero value is not usable; construct with New.
type Store struct {
	mu    sync.Mutex
	cache map[string][]byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{cache: make(map[string][]byte)}
}

func normalizeProfile(profile string) string {
	return strings.ToLower(strings.TrimSpace(profile))
}

func sessionKey(profile string) string {
	return "session:" + normalizeProfile(profile)
}

func repoKeyKey(email, repoID string) string {
	return "repo_key:" + email + ":" + repoID
}

func userKeypairKey(email string) string {
	return "user_keypair:" + email
}

// get is the shared best-effort read path: a cache hit returns immediately
// under the lock; a cache miss falls through to the OS store without
// holding the lock.
func (s *Store) get(key string) ([]byte, error) {
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	raw, err := keyring.Get(serviceName, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	v := []byte(raw)
	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, nil
}

// set is the write-through path: writes both the cache and the OS store.
func (s *Store) set(key string, value []byte) error {
	if err := keyring.Set(serviceName, key, string(value)); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

// delete removes both the cache entry and the OS entry.
func (s *Store) delete(key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	err := keyring.Delete(serviceName, key)
	if err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}

// LoadSession returns the cached SessionSecret for profile, or
// errs.ErrNotFound if none is cached.
func (s *Store) LoadSession(profile string) (SessionSecret, error) {
	raw, err := s.get(sessionKey(profile))
	if err != nil {
		return SessionSecret{}, err
	}
	var sec SessionSecret
	if err := json.Unmarshal(raw, &sec); err != nil {
		return SessionSecret{}, err
	}
	return sec, nil
}

// SaveSession persists sec for profile, overwriting any existing value.
func (s *Store) SaveSession(profile string, sec SessionSecret) error {
	raw, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	return s.set(sessionKey(profile), raw)
}

// DeleteSession removes the cached session secret for profile (used by
// logout).
func (s *Store) DeleteSession(profile string) error {
	return s.delete(sessionKey(profile))
}

// LoadRepoKey returns the cached 32-byte repo key for (email, repoID).
func (s *Store) LoadRepoKey(email, repoID string) ([]byte, error) {
	return s.get(repoKeyKey(email, repoID))
}

// SaveRepoKey caches the unwrapped repo key for (email, repoID).
func (s *Store) SaveRepoKey(email, repoID string, key []byte) error {
	return s.set(repoKeyKey(email, repoID), key)
}

// UserKeypairBlob is the at-rest representation of an independently
// generated user key pair.
type UserKeypairBlob struct {
	PrivateKey []byte    `json:"private_key"`
	PublicKey  []byte    `json:"public_key"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LoadUserKeypair returns the cached key pair for email.
func (s *Store) LoadUserKeypair(email string) (UserKeypairBlob, error) {
	raw, err := s.get(userKeypairKey(email))
	if err != nil {
		return UserKeypairBlob{}, err
	}
	var blob UserKeypairBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return UserKeypairBlob{}, err
	}
	return blob, nil
}

// SaveUserKeypair persists a key pair for email.
func (s *Store) SaveUserKeypair(email string, blob UserKeypairBlob) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return s.set(userKeypairKey(email), raw)
}
