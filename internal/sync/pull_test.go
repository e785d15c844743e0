package sync

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/manifest"
)

func TestPull_CleanNewFile(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	f.seed("dev", ".env", []byte("B=2\n"), nil, 3)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	require.Equal(t, PullWritten, result.Files[0].Outcome)

	data, err := os.ReadFile(".env")
	require.NoError(t, err)
	require.Equal(t, []byte("B=2\n"), data)

	info, err := os.Stat(".env")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	m := reloadManifest(t)
	entry := m.Branches[0].Files[0]
	require.Equal(t, hashHex([]byte("B=2\n")), *entry.LastSyncedHash)
	require.EqualValues(t, 3, *entry.LastSyncedVersion)
}

func TestPull_LocalAheadKeepsLocal(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("X\n"))
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base})
	require.NoError(t, writeSecure(".env", []byte("X\nY\n")))
	f.seed("dev", ".env", []byte("X\n"), nil, 4)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PullLocalAhead, result.Files[0].Outcome)

	data, err := os.ReadFile(".env")
	require.NoError(t, err)
	require.Equal(t, []byte("X\nY\n"), data)

	m := reloadManifest(t)
	entry := m.Branches[0].Files[0]
	require.Equal(t, base, *entry.LastSyncedHash)
	require.EqualValues(t, 4, *entry.LastSyncedVersion)
}

func TestPull_ConflictWritesMarkers(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("X\n"))
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base})
	require.NoError(t, writeSecure(".env", []byte("X\nL\n")))
	f.seed("dev", ".env", []byte("X\nR\n"), nil, 2)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PullConflict, result.Files[0].Outcome)

	data, err := os.ReadFile(".env")
	require.NoError(t, err)
	require.Equal(t, "<<<<<<< local\nX\nL\n\n=======\nX\nR\n\n>>>>>>> remote\n", string(data))

	m := reloadManifest(t)
	require.Equal(t, hashHex([]byte("X\nR\n")), *m.Branches[0].Files[0].LastSyncedHash)
}

func TestPull_FastForwardFromRemote(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("X\n"))
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base})
	require.NoError(t, writeSecure(".env", []byte("X\n")))
	f.seed("dev", ".env", []byte("X\nZ\n"), nil, 2)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PullWritten, result.Files[0].Outcome)

	data, err := os.ReadFile(".env")
	require.NoError(t, err)
	require.Equal(t, []byte("X\nZ\n"), data)
}

func TestPull_UpToDateRefreshesBaseline(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	require.NoError(t, writeSecure(".env", []byte("S=1\n")))
	f.seed("dev", ".env", []byte("S=1\n"), nil, 7)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PullUpToDate, result.Files[0].Outcome)

	m := reloadManifest(t)
	entry := m.Branches[0].Files[0]
	require.Equal(t, hashHex([]byte("S=1\n")), *entry.LastSyncedHash)
	require.EqualValues(t, 7, *entry.LastSyncedVersion)
}

func TestPull_NoBaselineDivergentIsConflict(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	require.NoError(t, writeSecure(".env", []byte("L=1\n")))
	f.seed("dev", ".env", []byte("R=1\n"), nil, 1)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PullConflict, result.Files[0].Outcome)
}

func TestPull_MissingRemote(t *testing.T) {
	_, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, PullMissingRemote, result.Files[0].Outcome)
	require.NoFileExists(t, ".env")
}

func TestPull_AADMismatchAborts(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	f.seed("dev", ".env", []byte("B=2\n"), nil, 1)
	f.tamperAAD("dev", ".env", "v1|R1|prod|.env|-")

	_, err := e.Pull(context.Background(), "")
	require.Error(t, err)
	require.True(t, errs.IsCrypto(err))
	require.Contains(t, err.Error(), "aad mismatch for .env")
	require.NoFileExists(t, ".env")
}

func TestPull_VersionRegressionRejected(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("X\n"))
	var v int64 = 9
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base, LastSyncedVersion: &v})
	require.NoError(t, writeSecure(".env", []byte("X\n")))
	f.seed("dev", ".env", []byte("old\n"), nil, 3)

	_, err := e.Pull(context.Background(), "")
	require.Error(t, err)
	require.True(t, errs.IsCrypto(err))
	require.Contains(t, err.Error(), "regressed version")
}

func TestPull_MergesRemoteManifest(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	remoteM := manifest.New(1, "R1", "myrepo", "dev")
	remoteM.Branches[0].Files = []manifest.FileEntry{{Path: ".env"}, {Path: ".env.staging"}}
	body, err := marshalManifest(remoteM)
	require.NoError(t, err)
	f.manifestBody = body

	f.seed("dev", ".env", []byte("A=1\n"), nil, 1)
	f.seed("dev", ".env.staging", []byte("B=2\n"), nil, 1)

	result, err := e.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, result.Files, 2)

	m := reloadManifest(t)
	branch, err := m.FindBranch("dev")
	require.NoError(t, err)
	require.Len(t, branch.Files, 2)
	require.FileExists(t, ".env.staging")
}
