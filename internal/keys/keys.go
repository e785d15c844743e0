// Package keys implements the key hierarchy: deriving the user's X25519
// key pair deterministically from their UMK, wrapping and unwrapping
// per-repository symmetric keys, and the BIP-39 recovery phrase that seeds
// the whole chain.
package keys

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/primitives"
	"github.com/milieu-dev/milieu/internal/remote"
	"github.com/milieu-dev/milieu/internal/secretstore"
)

// Algorithm is the published identifier for the user key pair's curve and
// wrap scheme, stored alongside the public key on the remote.
const Algorithm = "x25519-hkdf-xchacha20poly1305"

// userKeypairInfo is the HKDF info string for deriving the user's X25519
// seed deterministically from the UMK.
const userKeypairInfo = "milieu:user-keypair:v1"

// repoKeyWrapInfo is the HKDF info string for the ephemeral-DH repo-key wrap.
const repoKeyWrapInfo = "milieu:repo-key-wrap"

// repoKeyWrapAAD is the AEAD associated data bound into every repo-key wrap
// blob.
const repoKeyWrapAAD = "milieu:repo-key:v1"

// umkBlobAAD is the AEAD associated data bound into the UMK-at-rest blob.
const umkBlobAAD = "milieu:umk:v1"

// wrapBlobVersion is the only recognized repo-key wrap blob version prefix.
const wrapBlobVersion = "v1"

// RotateAfter is the advisory age at which a user key pair should be
// rotated.
const RotateAfter = 90 * 24 * time.Hour

// KeyPair is an X25519 key pair, 32-byte halves.
type KeyPair struct {
	Private []byte
	Public  []byte
}

func hkdfExpand(ikm []byte, info string, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errs.NewCrypto("hkdf expand: %v", err)
	}
	return out, nil
}

// DerivePrivateKey runs HKDF-SHA256 over umk with info
// "milieu:user-keypair:v1" to produce the deterministic 32-byte X25519 seed
// for this account. Rotating the UMK therefore rotates the key pair; no
// separate private-key storage is needed.
func DerivePrivateKey(umk []byte) ([]byte, error) {
	if len(umk) != primitives.KeyLen {
		return nil, errs.NewCrypto("invalid umk length %d", len(umk))
	}
	return hkdfExpand(umk, userKeypairInfo, 32)
}

// PublicFromPrivate computes the X25519 public key for a private scalar.
func PublicFromPrivate(priv []byte) ([]byte, error) {
	if len(priv) != 32 {
		return nil, errs.NewCrypto("invalid private key length %d", len(priv))
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, errs.NewCrypto("scalar basemult: %v", err)
	}
	return pub, nil
}

// KeypairFromUMK derives the account's full key pair from the UMK.
func KeypairFromUMK(umk []byte) (KeyPair, error) {
	priv, err := DerivePrivateKey(umk)
	if err != nil {
		return KeyPair{}, err
	}
	pub, err := PublicFromPrivate(priv)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// sharedSecret runs X25519 Diffie-Hellman between a local private scalar and
// a peer's public key.
func sharedSecret(priv, peerPub []byte) ([]byte, error) {
	s, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, errs.NewCrypto("dh: %v", err)
	}
	return s, nil
}

// WrapRepoKeyForUser wraps repoKey for recipientPublicKey using ephemeral
// X25519 Diffie-Hellman + HKDF-SHA256 + XChaCha20-Poly1305: generate an
// ephemeral key pair, derive a wrap key from the shared secret, seal
// repoKey under it, and encode everything into a single versioned blob
// "v1:<ephemeral pub>:<nonce>:<ciphertext>".
func WrapRepoKeyForUser(recipientPublicKey, repoKey []byte) (string, error) {
	if len(repoKey) != primitives.KeyLen {
		return "", errs.NewCrypto("invalid repo key length %d", len(repoKey))
	}
	ephPriv, err := primitives.RandBytes(32)
	if err != nil {
		return "", err
	}
	ephPub, err := PublicFromPrivate(ephPriv)
	if err != nil {
		return "", err
	}
	shared, err := sharedSecret(ephPriv, recipientPublicKey)
	if err != nil {
		return "", err
	}
	wrapKey, err := hkdfExpand(shared, repoKeyWrapInfo, primitives.KeyLen)
	if err != nil {
		return "", err
	}
	nonceB64, ctB64, err := primitives.Encrypt(wrapKey, []byte(repoKeyWrapAAD), repoKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s:%s", wrapBlobVersion, base64.StdEncoding.EncodeToString(ephPub), nonceB64, ctB64), nil
}

// UnwrapRepoKey reverses WrapRepoKeyForUser with the recipient's private
// key. An unrecognized version prefix, or an AEAD failure (the repo key was
// wrapped for a different public key), is an error.
func UnwrapRepoKey(privateKey []byte, blob string) ([]byte, error) {
	parts := strings.SplitN(blob, ":", 4)
	if len(parts) != 4 {
		return nil, errs.NewCrypto("malformed repo key blob")
	}
	if parts[0] != wrapBlobVersion {
		return nil, errs.NewCrypto("unrecognized repo key blob version %q", parts[0])
	}
	ephPub, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errs.NewCrypto("malformed ephemeral public key: %v", err)
	}
	shared, err := sharedSecret(privateKey, ephPub)
	if err != nil {
		return nil, err
	}
	wrapKey, err := hkdfExpand(shared, repoKeyWrapInfo, primitives.KeyLen)
	if err != nil {
		return nil, err
	}
	return primitives.Decrypt(wrapKey, []byte(repoKeyWrapAAD), parts[2], parts[3])
}

// GenerateRepoKey returns a fresh 32-byte repo symmetric key.
func GenerateRepoKey() ([]byte, error) {
	return primitives.RandBytes(primitives.KeyLen)
}

// GenerateRecoveryPhrase returns a fresh 12-word BIP-39 English mnemonic
// encoding 128 bits of entropy.
func GenerateRecoveryPhrase() (string, error) {
	entropy, err := primitives.RandBytes(16)
	if err != nil {
		return "", err
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errs.NewCrypto("bip39 mnemonic: %v", err)
	}
	return phrase, nil
}

// ValidateRecoveryPhrase reports whether phrase is a well-formed BIP-39
// mnemonic.
func ValidateRecoveryPhrase(phrase string) bool {
	return bip39.IsMnemonicValid(phrase)
}

// EncryptUMKBlob seals umk under the passphrase-derived key (pdk),
// producing the "<nonce>:<ciphertext>" at-rest representation stored on the
// remote.
func EncryptUMKBlob(pdk, umk []byte) (string, error) {
	nonceB64, ctB64, err := primitives.Encrypt(pdk, []byte(umkBlobAAD), umk)
	if err != nil {
		return "", err
	}
	return nonceB64 + ":" + ctB64, nil
}

// DecryptUMKBlob reverses EncryptUMKBlob.
func DecryptUMKBlob(pdk []byte, blob string) ([]byte, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return nil, errs.NewCrypto("malformed umk blob")
	}
	umk, err := primitives.Decrypt(pdk, []byte(umkBlobAAD), parts[0], parts[1])
	if err != nil {
		return nil, err
	}
	if len(umk) != primitives.KeyLen {
		return nil, errs.NewCrypto("invalid umk length %d", len(umk))
	}
	return umk, nil
}

// EnsureUserKeypair derives the local key pair for
// profile's UMK, then reconciles it with whatever is published on the
// remote: if the remote has none, or a different public key, the client is
// authoritative and republishes its local public key (this avoids the user
// locking themselves out by trusting a stale or tampered remote value).
func EnsureUserKeypair(ctx context.Context, store *secretstore.Store, client *remote.Client, profile string) (KeyPair, error) {
	sec, err := store.LoadSession(profile)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return KeyPair{}, err
	}
	if len(sec.UMK) == 0 {
		return KeyPair{}, errs.ErrUMKMissing
	}
	kp, err := KeypairFromUMK(sec.UMK)
	if err != nil {
		return KeyPair{}, err
	}

	remoteKey, err := client.GetUserKey(ctx)
	if err != nil {
		return KeyPair{}, err
	}
	if remoteKey == nil || subtle.ConstantTimeCompare(remoteKey.PublicKey, kp.Public) != 1 {
		if err := client.PutUserKey(ctx, remote.UserKey{
			PublicKey: kp.Public,
			Algorithm: Algorithm,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return KeyPair{}, err
		}
	}
	return kp, nil
}

// GetOrFetchRepoKey returns the symmetric key for repoID, owned by the
// account behind profile. A secret-store cache hit returns immediately;
// otherwise the wrapped blob is fetched from the remote, unwrapped with the
// account's private key, and cached.
func GetOrFetchRepoKey(ctx context.Context, store *secretstore.Store, client *remote.Client, profile, repoID string) ([]byte, error) {
	sec, err := store.LoadSession(profile)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if sec.Email == "" {
		return nil, errs.NewCommandFailed("missing email; run milieu login")
	}

	if key, err := store.LoadRepoKey(sec.Email, repoID); err == nil {
		return key, nil
	}

	if len(sec.UMK) == 0 {
		return nil, errs.ErrUMKMissing
	}
	priv, err := DerivePrivateKey(sec.UMK)
	if err != nil {
		return nil, err
	}

	wrapped, err := client.GetRepoKey(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if wrapped == nil {
		return nil, errs.NewCommandFailed("repo key not shared yet; ask the owner to run milieu repos manage share")
	}

	repoKey, err := UnwrapRepoKey(priv, wrapped.Blob)
	if err != nil {
		return nil, err
	}
	if err := store.SaveRepoKey(sec.Email, repoID, repoKey); err != nil {
		return nil, err
	}
	return repoKey, nil
}

// RotationAdvisory reports the age of a key and whether it has crossed the
// 90-day rotation threshold.
func RotationAdvisory(updatedAt time.Time) (age time.Duration, shouldRotate bool) {
	age = time.Since(updatedAt)
	return age, age >= RotateAfter
}

// ShowPhrase returns the cached recovery phrase for profile, or a
// CommandFailedError if none is cached.
func ShowPhrase(store *secretstore.Store, profile string) (string, error) {
	sec, err := store.LoadSession(profile)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return "", err
	}
	if sec.RecoveryPhrase == "" {
		return "", errs.NewCommandFailed("no recovery phrase found in keychain")
	}
	return sec.RecoveryPhrase, nil
}

// PhraseStatus reports whether a recovery phrase is cached for profile,
// without revealing it.
func PhraseStatus(store *secretstore.Store, profile string) (bool, error) {
	sec, err := store.LoadSession(profile)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return false, err
	}
	return sec.RecoveryPhrase != "", nil
}
