package sync

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/manifest"
	"github.com/milieu-dev/milieu/internal/primitives"
	"github.com/milieu-dev/milieu/internal/remote"
)

func TestShare_WrapsForActiveCollaborators(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	umk, err := primitives.GenerateUMK()
	require.NoError(t, err)
	kp, err := keys.KeypairFromUMK(umk)
	require.NoError(t, err)

	f.access = []remote.AccessEntry{
		{Email: "peer@b.com", Role: "writer", Status: "active", PublicKey: kp.Public},
		{Email: "nokey@b.com", Role: "reader", Status: "active"},
		{Email: "pending@b.com", Role: "reader", Status: "pending", PublicKey: kp.Public},
	}

	result, err := e.Share(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"peer@b.com"}, result.Wrapped)
	require.Equal(t, []string{"nokey@b.com"}, result.MissingKey)

	blob, ok := f.sharedKeys["peer@b.com"]
	require.True(t, ok)
	unwrapped, err := keys.UnwrapRepoKey(kp.Private, blob)
	require.NoError(t, err)
	require.Equal(t, testRepoKey, unwrapped)
}

func TestCheckout_WritesHistoricalVersionWithoutTouchingBaseline(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)

	base := hashHex([]byte("v2\n"))
	var v int64 = 2
	initWorkspace(t, manifest.FileEntry{Path: ".env", LastSyncedHash: &base, LastSyncedVersion: &v})
	f.seed("dev", ".env", []byte("v1\n"), nil, 1)
	f.seed("dev", ".env", []byte("v2\n"), nil, 2)

	require.NoError(t, e.Checkout(context.Background(), ".env", 1, ""))

	data, err := os.ReadFile(".env")
	require.NoError(t, err)
	require.Equal(t, []byte("v1\n"), data)

	m := reloadManifest(t)
	entry := m.Branches[0].Files[0]
	require.Equal(t, base, *entry.LastSyncedHash)
	require.EqualValues(t, 2, *entry.LastSyncedVersion)
}

func TestCheckout_MissingVersion(t *testing.T) {
	_, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	err := e.Checkout(context.Background(), ".env", 9, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "version 9 not found")
}

func TestLogAndChanges(t *testing.T) {
	f, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})
	f.seed("dev", ".env", []byte("a\n"), nil, 1)
	f.seed("dev", ".env", []byte("b\n"), nil, 2)
	require.NoError(t, writeSecure(".env", []byte("local\n")))

	history, err := e.Log(context.Background(), ".env", "")
	require.NoError(t, err)
	require.Len(t, history, 2)

	changes, err := e.Changes(context.Background(), ".env", "", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, changes.Version)
	require.Equal(t, []byte("a\n"), changes.Remote)
	require.Equal(t, []byte("local\n"), changes.Local)

	latest, err := e.Changes(context.Background(), ".env", "", 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, latest.Version)
	require.Equal(t, []byte("b\n"), latest.Remote)
}

func TestAddRemove(t *testing.T) {
	_, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	tag := "staging"
	require.NoError(t, e.Add(".env.staging", &tag, ""))
	require.Error(t, e.Add(".env.staging", nil, ""), "duplicate add must fail")
	require.Error(t, e.Add("secrets.txt", nil, ""), "non-env path must fail")

	m := reloadManifest(t)
	branch, err := m.FindBranch("dev")
	require.NoError(t, err)
	idx := branch.FindFile(".env.staging")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, "staging", *branch.Files[idx].Tag)

	require.NoError(t, e.Remove(".env.staging", ""))
	require.Error(t, e.Remove(".env.staging", ""), "double remove must fail")

	m = reloadManifest(t)
	branch, err = m.FindBranch("dev")
	require.NoError(t, err)
	require.Equal(t, -1, branch.FindFile(".env.staging"))
}

func TestBranchLifecycle(t *testing.T) {
	_, srv := newFakeRemote(t)
	e := newTestEngine(t, srv.URL)
	initWorkspace(t, manifest.FileEntry{Path: ".env"})

	require.NoError(t, e.BranchAdd("feature"))
	require.Error(t, e.BranchAdd("feature"), "duplicate branch must fail")

	infos, err := e.Branches()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	require.Error(t, e.BranchRemove("dev"), "active branch cannot be removed")
	require.NoError(t, e.BranchSet("feature"))
	require.NoError(t, e.BranchRemove("dev"))

	m := reloadManifest(t)
	require.Equal(t, "feature", m.ActiveBranch)
	require.Len(t, m.Branches, 1)
}
