package sync

import (
	"context"
	"encoding/base64"
	"os"

	"go.uber.org/zap"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/primitives"
	"github.com/milieu-dev/milieu/internal/remote"
)

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// PushFileOutcome labels what happened to one tracked file during Push.
type PushFileOutcome int

const (
	PushUnchanged PushFileOutcome = iota
	PushUploaded
)

// PushFileResult reports one file's outcome.
type PushFileResult struct {
	Path    string
	Outcome PushFileOutcome
	Version int64
}

// PushResult is the full report of a Push call.
type PushResult struct {
	Branch string
	Files  []PushFileResult
}

// Push uploads every tracked file on branch (or the active branch, if
// branchOverride is empty) whose local content differs from what the
// remote already holds, after first scanning for unresolved remote
// changes and refusing to proceed if any are found.
func (e *Engine) Push(ctx context.Context, branchOverride string) (PushResult, error) {
	m, path, err := loadLocalManifest()
	if err != nil {
		return PushResult{}, err
	}

	var total int64
	for _, p := range trackedPaths(m) {
		if err := ValidatePath(p); err != nil {
			return PushResult{}, err
		}
		if info, statErr := os.Stat(p); statErr == nil {
			total += info.Size()
		}
	}
	if total > MaxRepoBytes {
		return PushResult{}, errs.NewCommandFailed("repo size %d bytes exceeds 1MB cap", total)
	}

	branchName := branchOverride
	if branchName == "" {
		branchName = m.ActiveBranch
	}
	branch, err := m.FindBranch(branchName)
	if err != nil {
		return PushResult{}, err
	}
	repoID := m.RepoID

	client := e.clientFor(m)
	repoKey, err := keys.GetOrFetchRepoKey(ctx, e.Store, client, e.Profile, repoID)
	if err != nil {
		return PushResult{}, err
	}

	var conflicts []string
	for i := range branch.Files {
		entry := &branch.Files[i]
		if err := ValidatePath(entry.Path); err != nil {
			return PushResult{}, err
		}
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return PushResult{}, errs.NewCommandFailed("missing file: %s", entry.Path)
		}
		localHash := hashHex(data)

		remoteObj, err := client.GetLatestObject(ctx, repoID, branch.Name, entry.Path)
		if err != nil {
			return PushResult{}, err
		}
		if remoteObj == nil {
			continue
		}

		aad := primitives.AADFor(remoteObj.SchemaVersion, repoID, branch.Name, entry.Path, entry.Tag)
		plaintext, err := primitives.Decrypt(repoKey, aad, remoteObj.NonceB64, remoteObj.CiphertextB64)
		if err != nil {
			return PushResult{}, errs.NewCommandFailed("failed to decrypt remote for %s; run `milieu pull`", entry.Path)
		}
		remoteHash := hashHex(plaintext)

		if entry.LastSyncedHash == nil {
			if localHash != remoteHash {
				conflicts = append(conflicts, entry.Path)
			}
			continue
		}
		if remoteHash != *entry.LastSyncedHash {
			conflicts = append(conflicts, entry.Path)
		}
	}
	if len(conflicts) > 0 {
		msg := "remote has new changes; run `milieu pull` first:"
		for _, p := range conflicts {
			msg += "\n  - " + p
		}
		return PushResult{}, errs.NewCommandFailed("%s", msg)
	}

	blob, err := marshalManifest(m.WithoutState())
	if err != nil {
		return PushResult{}, err
	}
	if err := client.PutManifest(ctx, repoID, remote.ManifestBlob{Body: blob}); err != nil {
		return PushResult{}, err
	}

	result := PushResult{Branch: branch.Name}
	for i := range branch.Files {
		entry := &branch.Files[i]
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return PushResult{}, errs.NewCommandFailed("missing file: %s", entry.Path)
		}
		localHash := hashHex(data)

		remoteObj, err := client.GetLatestObject(ctx, repoID, branch.Name, entry.Path)
		if err != nil {
			return PushResult{}, err
		}

		if remoteObj != nil {
			aad := primitives.AADFor(remoteObj.SchemaVersion, repoID, branch.Name, entry.Path, entry.Tag)
			plaintext, err := primitives.Decrypt(repoKey, aad, remoteObj.NonceB64, remoteObj.CiphertextB64)
			if err != nil {
				return PushResult{}, errs.NewCommandFailed("failed to decrypt remote for %s; run `milieu pull`", entry.Path)
			}
			if hashHex(plaintext) == localHash {
				v := remoteObj.Version
				entry.SetSynced(localHash, &v)
				result.Files = append(result.Files, PushFileResult{Path: entry.Path, Outcome: PushUnchanged, Version: v})
				continue
			}
		}

		aad := primitives.AADFor(primitives.SchemaVersion, repoID, branch.Name, entry.Path, entry.Tag)
		nonceB64, ctB64, err := primitives.Encrypt(repoKey, aad, data)
		if err != nil {
			return PushResult{}, err
		}
		resp, err := client.PostObject(ctx, repoID, branch.Name, remote.PostObjectRequest{
			Path:          entry.Path,
			NonceB64:      nonceB64,
			CiphertextB64: ctB64,
			AADB64:        b64(aad),
			SchemaVersion: primitives.SchemaVersion,
		})
		if err != nil {
			return PushResult{}, err
		}
		v := resp.Version
		entry.SetSynced(localHash, &v)
		result.Files = append(result.Files, PushFileResult{Path: entry.Path, Outcome: PushUploaded, Version: v})
		e.Logger.Debug("pushed object", zap.String("path", entry.Path), zap.Int64("version", v))
	}

	if err := m.Save(path); err != nil {
		return PushResult{}, err
	}
	return result, nil
}

// authToken returns the cached bearer token for the active profile, or the
// empty string if none is cached (the remote call then fails with an
// unauthorized error, which is the correct behavior when a caller pushes
// before logging in).
func (e *Engine) authToken() string {
	sec, err := e.Store.LoadSession(e.Profile)
	if err != nil {
		return ""
	}
	return sec.AuthToken
}
