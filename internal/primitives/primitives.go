// Package primitives implements the client's raw cryptographic operations:
// AEAD encrypt/decrypt, Argon2id key derivation, and the canonical AAD
// construction. Nothing here knows about repos, branches, or manifests —
// those live in internal/keys and internal/sync.
package primitives

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/milieu-dev/milieu/internal/errs"
)

const (
	// KeyLen is the size in bytes of every symmetric key in this system
	// (UMK, repo key, wrap key).
	KeyLen = 32

	// NonceLen is the XChaCha20-Poly1305 nonce size.
	NonceLen = chacha20poly1305.NonceSizeX

	// SchemaVersion is the current AAD/wire schema version.
	SchemaVersion = 1
)

// KDFParams is an Argon2id configuration, persisted on the remote alongside
// the encrypted UMK blob. Immutable for a given UMK blob version.
type KDFParams struct {
	Salt        []byte `toml:"salt" json:"salt"`
	MemoryKiB   uint32 `toml:"memory_kib" json:"memory_kib"`
	Iterations  uint32 `toml:"iterations" json:"iterations"`
	Parallelism uint8  `toml:"parallelism" json:"parallelism"`
	KeyLen      uint32 `toml:"key_len" json:"key_len"`
}

// DefaultKDFParams returns the default Argon2id configuration with a
// freshly generated 16-byte salt.
func DefaultKDFParams() (KDFParams, error) {
	salt, err := RandBytes(16)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{
		Salt:        salt,
		MemoryKiB:   65536,
		Iterations:  3,
		Parallelism: 1,
		KeyLen:      KeyLen,
	}, nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return b, nil
}

// DeriveKey runs Argon2id over passphrase under the given parameters,
// producing a KeyLen-byte (by default 32-byte) key.
func DeriveKey(passphrase string, params KDFParams) ([]byte, error) {
	if len(params.Salt) == 0 {
		return nil, errs.NewCrypto("empty kdf salt")
	}
	keyLen := params.KeyLen
	if keyLen == 0 {
		keyLen = KeyLen
	}
	return argon2.IDKey([]byte(passphrase), params.Salt, params.Iterations, params.MemoryKiB, params.Parallelism, keyLen), nil
}

// GenerateUMK returns a fresh 32-byte user master key from the CSPRNG.
func GenerateUMK() ([]byte, error) {
	return RandBytes(KeyLen)
}

// AADFor constructs the canonical associated-data byte string
// "v{V}|{repo_id}|{branch}|{path}|{tag or "-"}" — this exact layout is part
// of the on-wire contract and must be byte-identical across implementations.
func AADFor(schemaVersion int, repoID, branch, path string, tag *string) []byte {
	t := "-"
	if tag != nil && *tag != "" {
		t = *tag
	}
	return []byte(fmt.Sprintf("v%d|%s|%s|%s|%s", schemaVersion, repoID, branch, path, t))
}

// Encrypt seals plaintext under key with aad as associated data, returning
// base64-encoded nonce and ciphertext (ciphertext includes the Poly1305 tag
// in the standard AEAD layout).
func Encrypt(key, aad, plaintext []byte) (nonceB64, ciphertextB64 string, err error) {
	if len(key) != KeyLen {
		return "", "", errs.NewCrypto("invalid key length %d", len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", "", errs.NewCrypto("new aead: %v", err)
	}
	nonce, err := RandBytes(NonceLen)
	if err != nil {
		return "", "", err
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return base64.StdEncoding.EncodeToString(nonce), base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens a base64 nonce/ciphertext pair under key and aad. It fails
// with a *errs.CryptoError on malformed base64, a wrong nonce length, a
// wrong key length, or AEAD tag mismatch.
func Decrypt(key []byte, aad []byte, nonceB64, ciphertextB64 string) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, errs.NewCrypto("invalid key length %d", len(key))
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, errs.NewCrypto("malformed nonce base64: %v", err)
	}
	if len(nonce) != NonceLen {
		return nil, errs.NewCrypto("invalid nonce length %d", len(nonce))
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, errs.NewCrypto("malformed ciphertext base64: %v", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.NewCrypto("new aead: %v", err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, errs.NewCrypto("aead open: %v", err)
	}
	return pt, nil
}
