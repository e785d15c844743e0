package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/remote"
)

// ShareResult reports which collaborators received a freshly wrapped repo
// key and which could not (no published public key yet).
type ShareResult struct {
	Wrapped    []string
	MissingKey []string
}

// Share rewraps the current repo's symmetric key for every active
// collaborator with a published public key and uploads each wrap scoped to
// that collaborator's email. Collaborators without a
// public key are reported but not fatal: they can be shared to again after
// their first login publishes one.
func (e *Engine) Share(ctx context.Context) (ShareResult, error) {
	m, _, err := loadLocalManifest()
	if err != nil {
		return ShareResult{}, err
	}
	client := e.clientFor(m)

	repoKey, err := keys.GetOrFetchRepoKey(ctx, e.Store, client, e.Profile, m.RepoID)
	if err != nil {
		return ShareResult{}, err
	}

	entries, err := client.ListAccess(ctx, m.RepoID)
	if err != nil {
		return ShareResult{}, err
	}

	var result ShareResult
	for _, entry := range entries {
		if entry.Status != "" && entry.Status != "active" {
			continue
		}
		if len(entry.PublicKey) == 0 {
			result.MissingKey = append(result.MissingKey, entry.Email)
			continue
		}
		blob, err := keys.WrapRepoKeyForUser(entry.PublicKey, repoKey)
		if err != nil {
			return ShareResult{}, err
		}
		if err := client.PutRepoKey(ctx, m.RepoID, remote.WrappedKey{Blob: blob, Email: entry.Email}); err != nil {
			return ShareResult{}, err
		}
		result.Wrapped = append(result.Wrapped, entry.Email)
		e.Logger.Debug("shared repo key", zap.String("email", entry.Email))
	}
	return result, nil
}
