package sync

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/manifest"
	"github.com/milieu-dev/milieu/internal/primitives"
)

func TestPush_FirstPushOfNewFile(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	require.NoError(t, writeSecure(".env", []byte("A=1\n")))

	result, err := e.Push(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "dev", result.Branch)
	require.Len(t, result.Files, 1)
	require.Equal(t, PushUploaded, result.Files[0].Outcome)
	require.EqualValues(t, 1, result.Files[0].Version)

	require.Len(t, f.posted, 1)
	posted := f.posted[0]
	aad, err := base64.StdEncoding.DecodeString(posted.AADB64)
	require.NoError(t, err)
	require.Equal(t, "v1|R1|dev|.env|-", string(aad))

	nonce, err := base64.StdEncoding.DecodeString(posted.NonceB64)
	require.NoError(t, err)
	require.Len(t, nonce, primitives.NonceLen)

	plain, err := primitives.Decrypt(testRepoKey, aad, posted.NonceB64, posted.CiphertextB64)
	require.NoError(t, err)
	require.Equal(t, []byte("A=1\n"), plain)

	m := reloadManifest(t)
	entry := m.Branches[0].Files[0]
	require.NotNil(t, entry.LastSyncedHash)
	require.Equal(t, hashHex([]byte("A=1\n")), *entry.LastSyncedHash)
	require.EqualValues(t, 1, *entry.LastSyncedVersion)

	// the mirrored manifest carries no baselines
	require.NotContains(t, f.manifestBody, "last_synced_hash")
}

func TestPush_RejectsOnDrift(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("A=1\n"))
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base})
	require.NoError(t, writeSecure(".env", []byte("A=2\n")))
	f.seed("dev", ".env", []byte("A=3\n"), nil, 2)

	_, err := e.Push(context.Background(), "")
	require.Error(t, err)
	require.True(t, errs.IsCommandFailed(err))
	require.Contains(t, err.Error(), ".env")
	require.Contains(t, err.Error(), "pull")
	require.Empty(t, f.posted)

	m := reloadManifest(t)
	require.Equal(t, base, *m.Branches[0].Files[0].LastSyncedHash)
}

func TestPush_NoBaselineDivergentRemoteIsConflict(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	require.NoError(t, writeSecure(".env", []byte("A=2\n")))
	f.seed("dev", ".env", []byte("A=3\n"), nil, 1)

	_, err := e.Push(context.Background(), "")
	require.Error(t, err)
	require.Empty(t, f.posted)
}

func TestPush_UnchangedRemoteSkipsUpload(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("A=1\n"))
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base})
	require.NoError(t, writeSecure(".env", []byte("A=1\n")))
	f.seed("dev", ".env", []byte("A=1\n"), nil, 5)

	result, err := e.Push(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PushUnchanged, result.Files[0].Outcome)
	require.EqualValues(t, 5, result.Files[0].Version)
	require.Empty(t, f.posted)

	m := reloadManifest(t)
	require.EqualValues(t, 5, *m.Branches[0].Files[0].LastSyncedVersion)
}

func TestPush_SizeCap(t *testing.T) {
	_, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	big := bytes.Repeat([]byte{'x'}, MaxRepoBytes+1)
	require.NoError(t, writeSecure(".env", big))

	_, err := e.Push(context.Background(), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "1MB")
}

func TestPush_ReadOnlyRepoSurfacesAsSuch(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	require.NoError(t, writeSecure(".env", []byte("A=1\n")))
	f.readOnly = true

	_, err := e.Push(context.Background(), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "read-only")
}

func TestPush_TagBoundIntoAAD(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	tag := "prod"
	initWorkspace(t, manifest.FileEntry{Path: ".env", Tag: &tag})
	require.NoError(t, writeSecure(".env", []byte("A=1\n")))

	_, err := e.Push(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, f.posted, 1)
	aad, err := base64.StdEncoding.DecodeString(f.posted[0].AADB64)
	require.NoError(t, err)
	require.Equal(t, "v1|R1|dev|.env|prod", string(aad))
}

func TestPush_UnknownBranch(t *testing.T) {
	_, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	_, err := e.Push(context.Background(), "nope")
	var bnf *errs.BranchNotFoundError
	require.ErrorAs(t, err, &bnf)
	require.Equal(t, "nope", bnf.Name)
}
