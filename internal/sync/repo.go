package sync

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/manifest"
	"github.com/milieu-dev/milieu/internal/primitives"
	"github.com/milieu-dev/milieu/internal/remote"
)

// DefaultBranch is the branch created by `milieu init`.
const DefaultBranch = "main"

// Init creates a new repo on the remote named name (or the project folder's
// name), generates and wraps its symmetric key for this account, and writes
// a fresh local manifest.
func (e *Engine) Init(ctx context.Context, name string) (*manifest.Manifest, error) {
	if name == "" {
		var err error
		if name, err = FolderName(); err != nil {
			return nil, err
		}
	}
	if !IsValidRepoName(name) {
		return nil, errs.NewCommandFailed("invalid repo name %q: use letters, digits, '-' and '_'", name)
	}

	path, err := ManifestPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, errs.NewCommandFailed("repo already initialized: %s", path)
	}

	client := e.clientFor(nil)
	kp, err := keys.EnsureUserKeypair(ctx, e.Store, client, e.Profile)
	if err != nil {
		return nil, err
	}

	repo, err := client.CreateRepo(ctx, name)
	if err != nil {
		return nil, err
	}

	repoKey, err := keys.GenerateRepoKey()
	if err != nil {
		return nil, err
	}
	blob, err := keys.WrapRepoKeyForUser(kp.Public, repoKey)
	if err != nil {
		return nil, err
	}
	if err := client.PutRepoKey(ctx, repo.RepoID, remote.WrappedKey{Blob: blob}); err != nil {
		return nil, err
	}

	sec, err := e.Store.LoadSession(e.Profile)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if sec.Email != "" {
		if err := e.Store.SaveRepoKey(sec.Email, repo.RepoID, repoKey); err != nil {
			return nil, err
		}
	}

	m := manifest.New(primitives.SchemaVersion, repo.RepoID, repo.RepoName, DefaultBranch)
	if err := m.Save(path); err != nil {
		return nil, err
	}
	e.Logger.Info("initialized repo", zap.String("repo_id", repo.RepoID), zap.String("name", repo.RepoName))
	return m, nil
}

// Clone looks up an existing repo by name, fetches its remote manifest, and
// writes it as the local manifest. Baselines start empty; the first pull
// populates both files and sync state.
func (e *Engine) Clone(ctx context.Context, name string) (*manifest.Manifest, error) {
	if !IsValidRepoName(name) {
		return nil, errs.NewCommandFailed("invalid repo name %q: use letters, digits, '-' and '_'", name)
	}
	path, err := ManifestPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, errs.NewCommandFailed("repo already initialized: %s", path)
	}

	client := e.clientFor(nil)
	repo, err := client.FindRepoByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, errs.NewCommandFailed("repo not found: %s", name)
	}

	var m *manifest.Manifest
	blob, err := client.GetManifest(ctx, repo.RepoID)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		m = manifest.New(primitives.SchemaVersion, repo.RepoID, repo.RepoName, DefaultBranch)
	} else {
		if m, err = unmarshalManifest(blob.Body); err != nil {
			return nil, err
		}
		m.RepoID = repo.RepoID
		m.RepoName = repo.RepoName
		if len(m.Branches) == 0 {
			m.Branches = []manifest.Branch{{Name: DefaultBranch}}
		}
		if _, err := m.FindBranch(m.ActiveBranch); err != nil {
			m.ActiveBranch = m.Branches[0].Name
		}
	}
	if err := m.Save(path); err != nil {
		return nil, err
	}
	e.Logger.Info("cloned repo", zap.String("repo_id", repo.RepoID), zap.String("name", repo.RepoName))
	return m, nil
}

// Add starts tracking path on branch (or the active branch).
func (e *Engine) Add(path string, tag *string, branchOverride string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	m, manifestPath, err := loadLocalManifest()
	if err != nil {
		return err
	}
	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return err
	}
	if branch.FindFile(path) >= 0 {
		return errs.NewCommandFailed("already tracked on branch %s: %s", branch.Name, path)
	}
	branch.Files = append(branch.Files, manifest.NewFileEntry(path, tag))
	return m.Save(manifestPath)
}

// Remove stops tracking path on branch (or the active branch). The local
// file is left on disk.
func (e *Engine) Remove(path string, branchOverride string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	m, manifestPath, err := loadLocalManifest()
	if err != nil {
		return err
	}
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
		return errs.NewCommandFailed("not tracked on branch %s: %s", branch.Name, path)
	}
	branch.Files = append(branch.Files[:idx], branch.Files[idx+1:]...)
	return m.Save(manifestPath)
}

// TrackedFiles lists the paths tracked on branch (or the active branch).
func (e *Engine) TrackedFiles(branchOverride string) ([]string, error) {
	m, _, err := loadLocalManifest()
	if err != nil {
		return nil, err
	}
	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(branch.Files))
	for _, f := range branch.Files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// BranchInfo is one row of Branches.
type BranchInfo struct {
	Name   string
	Active bool
	Files  int
}

// Branches lists every branch in the local manifest.
func (e *Engine) Branches() ([]BranchInfo, error) {
	m, _, err := loadLocalManifest()
	if err != nil {
		return nil, err
	}
	infos := make([]BranchInfo, 0, len(m.Branches))
	for _, b := range m.Branches {
		infos = append(infos, BranchInfo{Name: b.Name, Active: b.Name == m.ActiveBranch, Files: len(b.Files)})
	}
	return infos, nil
}

// BranchAdd creates a new empty branch.
func (e *Engine) BranchAdd(name string) error {
	if name == "" {
		return errs.NewCommandFailed("branch name cannot be empty")
	}
	m, path, err := loadLocalManifest()
	if err != nil {
		return err
	}
	if err := m.EnsureUniqueBranch(name); err != nil {
		return err
	}
	m.Branches = append(m.Branches, manifest.Branch{Name: name})
	return m.Save(path)
}

// BranchRemove deletes a branch. The active branch cannot be removed.
func (e *Engine) BranchRemove(name string) error {
	m, path, err := loadLocalManifest()
	if err != nil {
		return err
	}
	if name == m.ActiveBranch {
		return errs.NewCommandFailed("cannot remove the active branch %s; switch first with `milieu branch set`", name)
	}
	for i := range m.Branches {
		if m.Branches[i].Name == name {
			m.Branches = append(m.Branches[:i], m.Branches[i+1:]...)
			return m.Save(path)
		}
	}
	return errs.NewBranchNotFound(name)
}

// BranchSet switches the active branch.
func (e *Engine) BranchSet(name string) error {
	m, path, err := loadLocalManifest()
	if err != nil {
		return err
	}
	if _, err := m.FindBranch(name); err != nil {
		return err
	}
	m.ActiveBranch = name
	return m.Save(path)
}
