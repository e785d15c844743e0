package sync

import (
	"context"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/primitives"
	"github.com/milieu-dev/milieu/internal/remote"
)

// Checkout fetches an explicit historical version of path, decrypts it, and
// writes it over the local file with restrictive permissions. The manifest
// baseline is deliberately not touched: the caller resumes from whichever
// plaintext they now hold, and the next push or pull recomputes sync state
// from scratch.
func (e *Engine) Checkout(ctx context.Context, path string, version int64, branchOverride string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	m, _, err := loadLocalManifest()
	if err != nil {
		return err
	}
	client := e.clientFor(m)

	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return err
	}
	idx := branch.FindFile(path)
	if idx < 0 {
		return errs.NewCommandFailed("file not tracked on branch %s: %s", branch.Name, path)
	}
	entry := &branch.Files[idx]

	repoKey, err := keys.GetOrFetchRepoKey(ctx, e.Store, client, e.Profile, m.RepoID)
	if err != nil {
		return err
	}

	obj, err := client.GetObjectVersion(ctx, m.RepoID, branch.Name, path, version)
	if err != nil {
		return err
	}
	if obj == nil {
		return errs.NewCommandFailed("version %d not found for %s", version, path)
	}

	aad := primitives.AADFor(obj.SchemaVersion, m.RepoID, branch.Name, path, entry.Tag)
	if obj.AADB64 != b64(aad) {
		return errs.NewCrypto("aad mismatch for %s", path)
	}
	plain, err := primitives.Decrypt(repoKey, aad, obj.NonceB64, obj.CiphertextB64)
	if err != nil {
		return err
	}
	return writeSecure(path, plain)
}

// Log returns the server-side version history for path on branch (or the
// active branch) in the order the server reports it, oldest version first.
func (e *Engine) Log(ctx context.Context, path, branchOverride string) ([]remote.HistoryEntry, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m, _, err := loadLocalManifest()
	if err != nil {
		return nil, err
	}
	client := e.clientFor(m)

	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return nil, err
	}
	return client.GetObjectHistory(ctx, m.RepoID, branch.Name, path)
}

// ChangesResult pairs the local plaintext with a decrypted remote version of
// the same path, for presentation by the caller.
type ChangesResult struct {
	Path    string
	Version int64
	Local   []byte // nil when no local file exists
	Remote  []byte
}

// Changes fetches and decrypts the given version of path (or the latest, if
// version <= 0) and reads the local plaintext alongside it. Nothing is
// written.
func (e *Engine) Changes(ctx context.Context, path, branchOverride string, version int64) (ChangesResult, error) {
	if err := ValidatePath(path); err != nil {
		return ChangesResult{}, err
	}
	m, _, err := loadLocalManifest()
	if err != nil {
		return ChangesResult{}, err
	}
	client := e.clientFor(m)

	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return ChangesResult{}, err
	}
	idx := branch.FindFile(path)
	if idx < 0 {
		return ChangesResult{}, errs.NewCommandFailed("file not tracked on branch %s: %s", branch.Name, path)
	}
	entry := &branch.Files[idx]

	repoKey, err := keys.GetOrFetchRepoKey(ctx, e.Store, client, e.Profile, m.RepoID)
	if err != nil {
		return ChangesResult{}, err
	}

	var obj *remote.Object
	if version > 0 {
		obj, err = client.GetObjectVersion(ctx, m.RepoID, branch.Name, path, version)
	} else {
		obj, err = client.GetLatestObject(ctx, m.RepoID, branch.Name, path)
	}
	if err != nil {
		return ChangesResult{}, err
	}
	if obj == nil {
		return ChangesResult{}, errs.NewCommandFailed("no remote object for %s", path)
	}

	aad := primitives.AADFor(obj.SchemaVersion, m.RepoID, branch.Name, path, entry.Tag)
	if obj.AADB64 != b64(aad) {
		return ChangesResult{}, errs.NewCrypto("aad mismatch for %s", path)
	}
	plain, err := primitives.Decrypt(repoKey, aad, obj.NonceB64, obj.CiphertextB64)
	if err != nil {
		return ChangesResult{}, err
	}

	result := ChangesResult{Path: path, Version: obj.Version, Remote: plain}
	if local, err := readFileIfExists(path); err != nil {
		return ChangesResult{}, err
	} else {
		result.Local = local
	}
	return result, nil
}
