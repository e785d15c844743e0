package sync

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/manifest"
	"github.com/milieu-dev/milieu/internal/primitives"
)

// PullFileOutcome labels what happened to one tracked file during Pull.
type PullFileOutcome int

const (
	// PullUpToDate means local and remote already agreed; only the baseline
	// was refreshed.
	PullUpToDate PullFileOutcome = iota
	// PullWritten means the remote plaintext was written to disk (new file
	// or fast-forward).
	PullWritten
	// PullConflict means both sides diverged and the file was rewritten with
	// conflict markers.
	PullConflict
	// PullLocalAhead means the local file has unpushed edits over an
	// unchanged remote; it was left untouched.
	PullLocalAhead
	// PullMissingRemote means no object has ever been pushed for this path.
	PullMissingRemote
)

// PullFileResult reports one file's outcome.
type PullFileResult struct {
	Path    string
	Outcome PullFileOutcome
	Version int64
}

// PullResult is the full report of a Pull call.
type PullResult struct {
	Branch string
	Files  []PullFileResult
}

// conflictMarked materializes both sides of a divergence with the literal
// marker strings downstream editors recognize.
func conflictMarked(local, remotePlain []byte) []byte {
	out := make([]byte, 0, len(local)+len(remotePlain)+48)
	out = append(out, "<<<<<<< local\n"...)
	out = append(out, local...)
	out = append(out, "\n=======\n"...)
	out = append(out, remotePlain...)
	out = append(out, "\n>>>>>>> remote\n"...)
	return out
}

// Pull merges the remote manifest into the local one, then reconciles every
// tracked file on branch (or the active branch) three ways: local plaintext,
// remote plaintext, and the last-synced baseline.
func (e *Engine) Pull(ctx context.Context, branchOverride string) (PullResult, error) {
	m, path, err := loadLocalManifest()
	if err != nil {
		return PullResult{}, err
	}
	client := e.clientFor(m)

	blob, err := client.GetManifest(ctx, m.RepoID)
	if err != nil {
		return PullResult{}, err
	}
	if blob != nil {
		remoteM, err := unmarshalManifest(blob.Body)
		if err != nil {
			return PullResult{}, err
		}
		m = manifest.Merge(m, remoteM)
		if err := m.Save(path); err != nil {
			return PullResult{}, err
		}
	}

	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return PullResult{}, err
	}

	repoKey, err := keys.GetOrFetchRepoKey(ctx, e.Store, client, e.Profile, m.RepoID)
	if err != nil {
		return PullResult{}, err
	}

	result := PullResult{Branch: branch.Name}
	for i := range branch.Files {
		entry := &branch.Files[i]
		if err := ValidatePath(entry.Path); err != nil {
			return PullResult{}, err
		}

		obj, err := client.GetLatestObject(ctx, m.RepoID, branch.Name, entry.Path)
		if err != nil {
			return PullResult{}, err
		}
		if obj == nil {
			result.Files = append(result.Files, PullFileResult{Path: entry.Path, Outcome: PullMissingRemote})
			continue
		}
		if entry.LastSyncedVersion != nil && obj.Version < *entry.LastSyncedVersion {
			return PullResult{}, errs.NewCrypto("server returned a regressed version for %s: %d < %d",
				entry.Path, obj.Version, *entry.LastSyncedVersion)
		}

		aad := primitives.AADFor(obj.SchemaVersion, m.RepoID, branch.Name, entry.Path, entry.Tag)
		if obj.AADB64 != b64(aad) {
			return PullResult{}, errs.NewCrypto("aad mismatch for %s", entry.Path)
		}
		plain, err := primitives.Decrypt(repoKey, aad, obj.NonceB64, obj.CiphertextB64)
		if err != nil {
			return PullResult{}, err
		}
		remoteHash := hashHex(plain)
		version := obj.Version

		outcome, err := e.reconcile(entry, plain, remoteHash, version)
		if err != nil {
			return PullResult{}, err
		}
		result.Files = append(result.Files, PullFileResult{Path: entry.Path, Outcome: outcome, Version: version})
		e.Logger.Debug("pulled object",
			zap.String("path", entry.Path),
			zap.Int64("version", version),
			zap.Int("outcome", int(outcome)))
	}

	if err := m.Save(path); err != nil {
		return PullResult{}, err
	}
	return result, nil
}

// reconcile applies the three-way decision table to one entry, writing the
// file as needed and advancing the baseline.
func (e *Engine) reconcile(entry *manifest.FileEntry, remotePlain []byte, remoteHash string, version int64) (PullFileOutcome, error) {
	local, err := os.ReadFile(entry.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, err
		}
		// No local file: take the remote as-is.
		if err := writeSecure(entry.Path, remotePlain); err != nil {
			return 0, err
		}
		entry.SetSynced(remoteHash, &version)
		return PullWritten, nil
	}

	localHash := hashHex(local)
	base := entry.LastSyncedHash
	switch {
	case localHash == remoteHash:
		entry.SetSynced(remoteHash, &version)
		return PullUpToDate, nil
	case base == nil:
		// Both sides exist, contents differ, and we have no baseline to
		// arbitrate: surface both.
		if err := writeSecure(entry.Path, conflictMarked(local, remotePlain)); err != nil {
			return 0, err
		}
		entry.SetSynced(remoteHash, &version)
		return PullConflict, nil
	case localHash == *base:
		// Local unchanged since the last sync: fast-forward from remote.
		if err := writeSecure(entry.Path, remotePlain); err != nil {
			return 0, err
		}
		entry.SetSynced(remoteHash, &version)
		return PullWritten, nil
	case remoteHash == *base:
		// Local is ahead of an unchanged remote: do not clobber the edits.
		entry.LastSyncedVersion = &version
		return PullLocalAhead, nil
	default:
		if err := writeSecure(entry.Path, conflictMarked(local, remotePlain)); err != nil {
			return 0, err
		}
		entry.SetSynced(remoteHash, &version)
		return PullConflict, nil
	}
}
