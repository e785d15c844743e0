// Package manifest implements the local declarative record of repo
// identity, branches, tracked files, and per-file sync baselines,
// persisted as TOML at "<project-root>/.milieu/manifest.toml".
package manifest

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/milieu-dev/milieu/internal/errs"
)

// DirName is the per-repo state directory, relative to the project root.
const DirName = ".milieu"

// FileName is the manifest's file name inside DirName.
const FileName = "manifest.toml"

// Remote is a local override of the profile's configured base URL for this
// repo.
type Remote struct {
	BaseURL string `toml:"base_url,omitempty"`
}

// FileEntry is one tracked file: its repo-relative path, optional semantic
// tag, and the baseline this client last observed equal on both sides.
type FileEntry struct {
	Path              string  `toml:"path"`
	Tag               *string `toml:"tag,omitempty"`
	LastSyncedHash    *string `toml:"last_synced_hash,omitempty"`
	LastSyncedVersion *int64  `toml:"last_synced_version,omitempty"`
}

// NewFileEntry constructs an untracked-baseline entry for path (used by
// `milieu add`).
func NewFileEntry(path string, tag *string) FileEntry {
	return FileEntry{Path: path, Tag: tag}
}

// SetSynced records that hash was last observed equal on both sides, at the
// given remote version.
func (f *FileEntry) SetSynced(hash string, version *int64) {
	f.LastSyncedHash = &hash
	f.LastSyncedVersion = version
}

// Branch is a named, ordered list of tracked files.
type Branch struct {
	Name  string      `toml:"name"`
	Files []FileEntry `toml:"files"`
}

// FindFile returns the index of path within the branch, or -1.
func (b *Branch) FindFile(path string) int {
	for i := range b.Files {
		if b.Files[i].Path == path {
			return i
		}
	}
	return -1
}

// Manifest is the full local declarative state for one repo.
type Manifest struct {
	SchemaVersion int      `toml:"schema_version"`
	RepoID        string   `toml:"repo_id"`
	RepoName      string   `toml:"repo_name"`
	ActiveBranch  string   `toml:"active_branch"`
	Branches      []Branch `toml:"branch"`
	Remote        *Remote  `toml:"remote,omitempty"`
}

// New constructs an empty manifest for a freshly initialized repo, with a
// single branch ("main" by convention, chosen by the caller) designated
// active.
func New(schemaVersion int, repoID, repoName, activeBranch string) *Manifest {
	return &Manifest{
		SchemaVersion: schemaVersion,
		RepoID:        repoID,
		RepoName:      repoName,
		ActiveBranch:  activeBranch,
		Branches:      []Branch{{Name: activeBranch}},
	}
}

// Path returns "<root>/.milieu/manifest.toml".
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Load reads and parses the manifest at path. A missing file is reported as
// errs.ErrRepoNotInitialized.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrRepoNotInitialized
		}
		return nil, err
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save serializes m as pretty TOML to path, creating parent directories as
// needed.
func (m *Manifest) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := toml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FindBranch returns the branch named name, or a BranchNotFoundError.
func (m *Manifest) FindBranch(name string) (*Branch, error) {
	for i := range m.Branches {
		if m.Branches[i].Name == name {
			return &m.Branches[i], nil
		}
	}
	return nil, errs.NewBranchNotFound(name)
}

// EnsureUniqueBranch rejects a duplicate branch name.
func (m *Manifest) EnsureUniqueBranch(name string) error {
	for _, b := range m.Branches {
		if b.Name == name {
			return errs.NewCommandFailed("branch already exists: %s", name)
		}
	}
	return nil
}

// WithoutState returns a deep clone of m with every last_synced_* field
// cleared, used when publishing the manifest to the remote so that
// baselines never leak.
func (m *Manifest) WithoutState() *Manifest {
	clone := *m
	clone.Branches = make([]Branch, len(m.Branches))
	for i, b := range m.Branches {
		clone.Branches[i] = Branch{Name: b.Name, Files: make([]FileEntry, len(b.Files))}
		for j, f := range b.Files {
			stripped := f
			stripped.LastSyncedHash = nil
			stripped.LastSyncedVersion = nil
			clone.Branches[i].Files[j] = stripped
		}
	}
	if m.Remote != nil {
		r := *m.Remote
		clone.Remote = &r
	}
	return &clone
}

// Merge reconciles local against a freshly fetched remote manifest:
//
//  1. seed the result with every branch from the remote;
//  2. for each local branch not present in the result, insert it as-is;
//     for one already present, merge file lists keyed by path with local
//     winning on collision (preserving local baselines and tags);
//  3. take the remote's version, repo_id, repo_name, and active_branch, but
//     keep the local `remote` override;
//  4. if the merged branch list ends up empty, fall back to the local
//     branch list.
func Merge(local, remote *Manifest) *Manifest {
	byName := make(map[string]*Branch)
	var order []string

	for _, b := range remote.Branches {
		cp := cloneBranch(b)
		byName[b.Name] = &cp
		order = append(order, b.Name)
	}

	for _, lb := range local.Branches {
		existing, ok := byName[lb.Name]
		if !ok {
			cp := cloneBranch(lb)
			byName[lb.Name] = &cp
			order = append(order, lb.Name)
			continue
		}
		files := make(map[string]FileEntry)
		var fileOrder []string
		for _, f := range existing.Files {
			files[f.Path] = f
			fileOrder = append(fileOrder, f.Path)
		}
		for _, f := range lb.Files {
			if _, seen := files[f.Path]; !seen {
				fileOrder = append(fileOrder, f.Path)
			}
			files[f.Path] = f
		}
		merged := make([]FileEntry, 0, len(fileOrder))
		for _, p := range fileOrder {
			merged = append(merged, files[p])
		}
		existing.Files = merged
	}

	branches := make([]Branch, 0, len(order))
	for _, name := range order {
		branches = append(branches, *byName[name])
	}

	result := &Manifest{
		SchemaVersion: remote.SchemaVersion,
		RepoID:        remote.RepoID,
		RepoName:      remote.RepoName,
		ActiveBranch:  remote.ActiveBranch,
		Branches:      branches,
		Remote:        local.Remote,
	}
	if len(result.Branches) == 0 {
		result.Branches = local.Branches
	}
	return result
}

func cloneBranch(b Branch) Branch {
	cp := Branch{Name: b.Name, Files: make([]FileEntry, len(b.Files))}
	copy(cp.Files, b.Files)
	return cp
}
