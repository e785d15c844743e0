package sync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/primitives"
)

// ChangeKind classifies one tracked file's state relative to the remote and
// the last-synced baseline.
type ChangeKind int

const (
	// ChangeNone means neither side has the file.
	ChangeNone ChangeKind = iota
	// ChangeClean means local and remote plaintexts agree.
	ChangeClean
	// ChangeNewLocal means the file exists locally but has never been pushed.
	ChangeNewLocal
	// ChangeNewRemote means the remote has the file but the local disk does
	// not.
	ChangeNewRemote
	// ChangeModifiedLocal means only the local side drifted from the
	// baseline.
	ChangeModifiedLocal
	// ChangeModifiedRemote means only the remote side drifted from the
	// baseline.
	ChangeModifiedRemote
	// ChangeModifiedBoth means both sides drifted and their contents differ.
	ChangeModifiedBoth
	// ChangeModifiedUnknown means the sides differ but there is no baseline
	// to arbitrate, or the remote object could not be decrypted.
	ChangeModifiedUnknown
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeClean:
		return "clean"
	case ChangeNewLocal:
		return "new local"
	case ChangeNewRemote:
		return "new remote"
	case ChangeModifiedLocal:
		return "modified locally"
	case ChangeModifiedRemote:
		return "modified on remote"
	case ChangeModifiedBoth:
		return "modified on both sides"
	case ChangeModifiedUnknown:
		return "modified (no baseline)"
	default:
		return "unknown"
	}
}

// StatusEntry is one tracked file's classification.
type StatusEntry struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// StatusResult is the full report of a Status call.
type StatusResult struct {
	Branch    string        `json:"branch"`
	Entries   []StatusEntry `json:"entries"`
	Untracked []string      `json:"untracked,omitempty"`
}

// ignoreDirs are directory names skipped by the untracked-file scan.
var ignoreDirs = map[string]bool{
	".milieu":      true,
	".git":         true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
}

// Status classifies every tracked file on branch (or the active branch) and
// enumerates untracked .env* files under the project root. It is read-only:
// neither the manifest nor any tracked file is modified.
func (e *Engine) Status(ctx context.Context, branchOverride string) (StatusResult, error) {
	m, _, err := loadLocalManifest()
	if err != nil {
		return StatusResult{}, err
	}
	client := e.clientFor(m)

	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return StatusResult{}, err
	}

	repoKey, err := keys.GetOrFetchRepoKey(ctx, e.Store, client, e.Profile, m.RepoID)
	if err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{Branch: branch.Name}
	tracked := make(map[string]bool, len(branch.Files))
	for i := range branch.Files {
		entry := &branch.Files[i]
		tracked[entry.Path] = true
		if err := ValidatePath(entry.Path); err != nil {
			return StatusResult{}, err
		}

		local, readErr := os.ReadFile(entry.Path)
		localPresent := readErr == nil
		if readErr != nil && !os.IsNotExist(readErr) {
			return StatusResult{}, readErr
		}

		obj, err := client.GetLatestObject(ctx, m.RepoID, branch.Name, entry.Path)
		if err != nil {
			return StatusResult{}, err
		}

		var remoteHash string
		decryptFailed := false
		if obj != nil {
			aad := primitives.AADFor(obj.SchemaVersion, m.RepoID, branch.Name, entry.Path, entry.Tag)
			if obj.AADB64 != b64(aad) {
				decryptFailed = true
			} else if plain, err := primitives.Decrypt(repoKey, aad, obj.NonceB64, obj.CiphertextB64); err != nil {
				decryptFailed = true
			} else {
				remoteHash = hashHex(plain)
			}
		}

		kind := classify(localPresent, local, obj != nil, remoteHash, decryptFailed, entry.LastSyncedHash)
		result.Entries = append(result.Entries, StatusEntry{Path: entry.Path, Kind: kind})
	}

	untracked, err := scanUntracked(tracked)
	if err != nil {
		return StatusResult{}, err
	}
	result.Untracked = untracked
	return result, nil
}

// classify applies the ChangeKind table.
func classify(localPresent bool, local []byte, remotePresent bool, remoteHash string, decryptFailed bool, base *string) ChangeKind {
	switch {
	case !localPresent && !remotePresent:
		return ChangeNone
	case localPresent && !remotePresent:
		return ChangeNewLocal
	case !localPresent:
		return ChangeNewRemote
	case decryptFailed:
		return ChangeModifiedUnknown
	}

	localHash := hashHex(local)
	switch {
	case localHash == remoteHash:
		return ChangeClean
	case base == nil:
		return ChangeModifiedUnknown
	case localHash != *base && remoteHash == *base:
		return ChangeModifiedLocal
	case localHash == *base && remoteHash != *base:
		return ChangeModifiedRemote
	default:
		return ChangeModifiedBoth
	}
}

// scanUntracked walks the project root for .env* files not in tracked,
// skipping conventional ignore directories.
func scanUntracked(tracked map[string]bool) ([]string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	var found []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if name != ".env" && !strings.HasPrefix(name, ".env.") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !tracked[rel] {
			found = append(found, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
