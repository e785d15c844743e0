package secretstore

import (
	"testing"

	"github.com/zalando/go-keyring"
	"github.com/stretchr/testify/require"

	"github.com/milieu-dev/milieu/internal/errs"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	m.Run()
}

func TestSession_SaveLoadDelete(t *testing.T) {
	s := New()
	sec := SessionSecret{AuthToken: "tok", UserID: "u1", UMK: []byte{1, 2, 3}, Email: "a@b.com"}

	require.NoError(t, s.SaveSession("Default", sec))

	got, err := s.LoadSession("default")
	require.NoError(t, err)
	require.Equal(t, sec, got)

	require.NoError(t, s.DeleteSession("DEFAULT"))
	_, err = s.LoadSession("default")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSession_CacheHitAvoidsOSStore(t *testing.T) {
	s := New()
	require.NoError(t, s.SaveSession("p", SessionSecret{UserID: "u"}))

	// Corrupt the OS-level entry directly; the in-memory cache must still
	// serve the correct value without re-reading it.
	require.NoError(t, keyring.Set(serviceName, sessionKey("p"), "not json"))

	got, err := s.LoadSession("p")
	require.NoError(t, err)
	require.Equal(t, "u", got.UserID)
}

func TestRepoKey_RoundTrip(t *testing.T) {
	s := New()
	key := []byte("01234567890123456789012345678901")
	require.NoError(t, s.SaveRepoKey("a@b.com", "R1", key))

	got, err := s.LoadRepoKey("a@b.com", "R1")
	require.NoError(t, err)
	require.Equal(t, key, got)

	_, err = s.LoadRepoKey("a@b.com", "R2")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserKeypair_RoundTrip(t *testing.T) {
	s := New()
	blob := UserKeypairBlob{PrivateKey: []byte("priv"), PublicKey: []byte("pub")}
	require.NoError(t, s.SaveUserKeypair("a@b.com", blob))

	got, err := s.LoadUserKeypair("a@b.com")
	require.NoError(t, err)
	require.Equal(t, blob.PrivateKey, got.PrivateKey)
	require.Equal(t, blob.PublicKey, got.PublicKey)
}
