package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/milieu-dev/milieu/internal/primitives"
)

func nowMinus(days int) time.Time {
	return time.Now().Add(-time.Duration(days) * 24 * time.Hour)
}

func TestKeypairFromUMK_Deterministic(t *testing.T) {
	t.Parallel()
	umk, err := primitives.GenerateUMK()
	require.NoError(t, err)

	kp1, err := KeypairFromUMK(umk)
	require.NoError(t, err)
	kp2, err := KeypairFromUMK(umk)
	require.NoError(t, err)

	require.Equal(t, kp1.Private, kp2.Private)
	require.Equal(t, kp1.Public, kp2.Public)
	require.Len(t, kp1.Private, 32)
	require.Len(t, kp1.Public, 32)

	other, err := primitives.GenerateUMK()
	require.NoError(t, err)
	kp3, err := KeypairFromUMK(other)
	require.NoError(t, err)
	require.NotEqual(t, kp1.Public, kp3.Public)
}

func TestWrapUnwrapRepoKey_Roundtrip(t *testing.T) {
	t.Parallel()
	umk, err := primitives.GenerateUMK()
	require.NoError(t, err)
	kp, err := KeypairFromUMK(umk)
	require.NoError(t, err)

	repoKey, err := GenerateRepoKey()
	require.NoError(t, err)

	blob, err := WrapRepoKeyForUser(kp.Public, repoKey)
	require.NoError(t, err)

	got, err := UnwrapRepoKey(kp.Private, blob)
	require.NoError(t, err)
	require.Equal(t, repoKey, got)
}

func TestUnwrapRepoKey_RejectsWrongPrivateKey(t *testing.T) {
	t.Parallel()
	umkA, _ := primitives.GenerateUMK()
	umkB, _ := primitives.GenerateUMK()
	kpA, err := KeypairFromUMK(umkA)
	require.NoError(t, err)
	kpB, err := KeypairFromUMK(umkB)
	require.NoError(t, err)

	repoKey, err := GenerateRepoKey()
	require.NoError(t, err)
	blob, err := WrapRepoKeyForUser(kpA.Public, repoKey)
	require.NoError(t, err)

	_, err = UnwrapRepoKey(kpB.Private, blob)
	require.Error(t, err)
}

func TestUnwrapRepoKey_RejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	umk, _ := primitives.GenerateUMK()
	kp, err := KeypairFromUMK(umk)
	require.NoError(t, err)

	_, err = UnwrapRepoKey(kp.Private, "v2:aaaa:bbbb:cccc")
	require.Error(t, err)
}

func TestUMKBlob_Roundtrip(t *testing.T) {
	t.Parallel()
	pdk, err := primitives.GenerateUMK()
	require.NoError(t, err)
	umk, err := primitives.GenerateUMK()
	require.NoError(t, err)

	blob, err := EncryptUMKBlob(pdk, umk)
	require.NoError(t, err)

	got, err := DecryptUMKBlob(pdk, blob)
	require.NoError(t, err)
	require.Equal(t, umk, got)
}

func TestRecoveryPhrase_GenerateAndValidate(t *testing.T) {
	t.Parallel()
	phrase, err := GenerateRecoveryPhrase()
	require.NoError(t, err)
	require.Len(t, splitWords(phrase), 12)
	require.True(t, ValidateRecoveryPhrase(phrase))
	require.False(t, ValidateRecoveryPhrase("not a valid phrase at all"))
}

func splitWords(s string) []string {
	var words []string
	word := ""
	for _, r := range s {
		if r == ' ' {
			if word != "" {
				words = append(words, word)
				word = ""
			}
			continue
		}
		word += string(r)
	}
	if word != "" {
		words = append(words, word)
	}
	return words
}

func TestRotationAdvisory(t *testing.T) {
	t.Parallel()
	_, stale := RotationAdvisory(nowMinus(100 * 24))
	require.True(t, stale)
	_, fresh := RotationAdvisory(nowMinus(1))
	require.False(t, fresh)
}
