// Package errs contains the error taxonomy shared across the key hierarchy,
// secret store, manifest, remote gateway, and sync engine layers.
package errs

import (
	"errors"
	"fmt"
)

// Sentinels usable with errors.Is. Categories that need no extra payload
// are represented this way; categories that carry a message or identifier
// use the typed errors below instead.
var (
	// ErrNotFound indicates the requested entity does not exist (e.g. a 404
	// from the remote that is not itself an error condition for the caller).
	ErrNotFound = errors.New("not found")

	// ErrRepoNotInitialized indicates the current directory has no
	// .milieu/manifest.toml.
	ErrRepoNotInitialized = errors.New("repo not initialized")

	// ErrConfigMissing indicates the global config location could not be
	// resolved (no XDG_CONFIG_HOME and no home directory).
	ErrConfigMissing = errors.New("config missing")

	// ErrAuthMissing indicates no bearer token is cached for the profile.
	ErrAuthMissing = errors.New("auth missing: run milieu login")

	// ErrUserIDMissing indicates the session secret has no user_id cached.
	ErrUserIDMissing = errors.New("user id missing")

	// ErrUMKMissing indicates the session secret has no UMK cached.
	ErrUMKMissing = errors.New("umk missing: run milieu login")
)

// CryptoError reports a failure inside the primitives/key-hierarchy layer:
// malformed base64, wrong key/nonce length, Argon2 parameter validation, or
// AEAD tag verification failure. It is a single category, distinguished
// only by its message.
type CryptoError struct {
	Msg string
}

func (e *CryptoError) Error() string { return "crypto: " + e.Msg }

// NewCrypto builds a CryptoError with a formatted message.
func NewCrypto(format string, args ...any) error {
	return &CryptoError{Msg: fmt.Sprintf(format, args...)}
}

// IsCrypto reports whether err is (or wraps) a CryptoError.
func IsCrypto(err error) bool {
	var c *CryptoError
	return errors.As(err, &c)
}

// BranchNotFoundError names the missing branch.
type BranchNotFoundError struct {
	Name string
}

func (e *BranchNotFoundError) Error() string { return fmt.Sprintf("branch not found: %s", e.Name) }

// NewBranchNotFound constructs a BranchNotFoundError.
func NewBranchNotFound(name string) error { return &BranchNotFoundError{Name: name} }

// CommandFailedError is a user-facing failure raised by the sync engine or
// remote gateway (push conflicts, non-2xx HTTP responses, read-only repos).
type CommandFailedError struct {
	Msg string
}

func (e *CommandFailedError) Error() string { return e.Msg }

// NewCommandFailed builds a CommandFailedError with a formatted message.
func NewCommandFailed(format string, args ...any) error {
	return &CommandFailedError{Msg: fmt.Sprintf(format, args...)}
}

// IsCommandFailed reports whether err is (or wraps) a CommandFailedError.
func IsCommandFailed(err error) bool {
	var c *CommandFailedError
	return errors.As(err, &c)
}
