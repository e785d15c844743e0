package sync

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/keys"
	"github.com/milieu-dev/milieu/internal/primitives"
	"github.com/milieu-dev/milieu/internal/remote"
	"github.com/milieu-dev/milieu/internal/secretstore"
)

// Register creates a new account on the remote and returns its user id. No
// keys are derived yet; that happens on first login.
func (e *Engine) Register(ctx context.Context, email, password string) (string, error) {
	return e.Client.Register(ctx, email, password)
}

// LoginResult reports a completed login.
type LoginResult struct {
	UserID string
	// GeneratedPhrase is non-empty only on the very first login of a
	// never-before-seen account, when a fresh recovery phrase was minted.
	// The caller must display it to the user exactly once.
	GeneratedPhrase string
	Warning         string
}

// Login authenticates against the remote, then establishes the full key
// hierarchy for the session: on a first-ever login it mints a recovery
// phrase and UMK and publishes the encrypted UMK blob; on every later login
// it re-derives the UMK from the phrase under the stored KDF parameters.
// The user key pair is republished on every login.
//
// phrase may be empty; the cached phrase from a previous session on this
// machine is used when available, and an error directs the user to supply
// one otherwise.
func (e *Engine) Login(ctx context.Context, email, password, phrase string) (LoginResult, error) {
	host, _ := os.Hostname()
	resp, err := e.Client.Login(ctx, email, password, host)
	if err != nil {
		return LoginResult{}, err
	}
	client := e.Client.WithToken(resp.AccessToken)

	cached, err := e.Store.LoadSession(e.Profile)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return LoginResult{}, err
	}
	if phrase == "" {
		phrase = cached.RecoveryPhrase
	}

	blob, err := client.GetUMK(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	var umk []byte
	var generated string
	if blob == nil {
		if phrase == "" {
			if phrase, err = keys.GenerateRecoveryPhrase(); err != nil {
				return LoginResult{}, err
			}
			generated = phrase
		} else if !keys.ValidateRecoveryPhrase(phrase) {
			return LoginResult{}, errs.NewCommandFailed("invalid recovery phrase")
		}
		params, err := primitives.DefaultKDFParams()
		if err != nil {
			return LoginResult{}, err
		}
		pdk, err := primitives.DeriveKey(phrase, params)
		if err != nil {
			return LoginResult{}, err
		}
		if umk, err = primitives.GenerateUMK(); err != nil {
			return LoginResult{}, err
		}
		sealed, err := keys.EncryptUMKBlob(pdk, umk)
		if err != nil {
			return LoginResult{}, err
		}
		nonceB64, ctB64, ok := strings.Cut(sealed, ":")
		if !ok {
			return LoginResult{}, errs.NewCrypto("malformed umk blob")
		}
		if err := client.PutUMK(ctx, remote.UMKBlob{
			KDFSalt:        params.Salt,
			KDFMemoryKiB:   params.MemoryKiB,
			KDFIterations:  params.Iterations,
			KDFParallelism: params.Parallelism,
			NonceB64:       nonceB64,
			CiphertextB64:  ctB64,
		}); err != nil {
			return LoginResult{}, err
		}
	} else {
		if phrase == "" {
			return LoginResult{}, errs.NewCommandFailed("recovery phrase required: rerun with --phrase")
		}
		if !keys.ValidateRecoveryPhrase(phrase) {
			return LoginResult{}, errs.NewCommandFailed("invalid recovery phrase")
		}
		pdk, err := primitives.DeriveKey(phrase, primitives.KDFParams{
			Salt:        blob.KDFSalt,
			MemoryKiB:   blob.KDFMemoryKiB,
			Iterations:  blob.KDFIterations,
			Parallelism: blob.KDFParallelism,
			KeyLen:      primitives.KeyLen,
		})
		if err != nil {
			return LoginResult{}, err
		}
		if umk, err = keys.DecryptUMKBlob(pdk, blob.NonceB64+":"+blob.CiphertextB64); err != nil {
			return LoginResult{}, errs.NewCommandFailed("could not decrypt account keys: wrong recovery phrase?")
		}
	}

	if err := e.Store.SaveSession(e.Profile, secretstore.SessionSecret{
		AuthToken:      resp.AccessToken,
		UserID:         resp.UserID,
		UMK:            umk,
		RecoveryPhrase: phrase,
		Email:          email,
	}); err != nil {
		return LoginResult{}, err
	}

	if _, err := keys.EnsureUserKeypair(ctx, e.Store, client, e.Profile); err != nil {
		return LoginResult{}, err
	}

	e.Logger.Info("logged in", zap.String("user_id", resp.UserID), zap.String("email", email))
	return LoginResult{UserID: resp.UserID, GeneratedPhrase: generated, Warning: resp.Warning}, nil
}

// Logout revokes the remote session (best-effort) and removes the cached
// session secret for this profile.
func (e *Engine) Logout(ctx context.Context) error {
	if token := e.authToken(); token != "" {
		if err := e.Client.WithToken(token).Logout(ctx); err != nil {
			e.Logger.Warn("remote logout failed", zap.Error(err))
		}
	}
	return e.Store.DeleteSession(e.Profile)
}

// Sessions lists the account's active remote sessions.
func (e *Engine) Sessions(ctx context.Context) ([]remote.Session, error) {
	return e.clientFor(nil).ListSessions(ctx)
}

// ListRepos lists every repo the account can access, with its role.
func (e *Engine) ListRepos(ctx context.Context) ([]remote.RepoAccess, error) {
	return e.clientFor(nil).ListRepos(ctx)
}

// Invites lists pending repo invites.
func (e *Engine) Invites(ctx context.Context) ([]remote.Invite, error) {
	return e.clientFor(nil).ListInvites(ctx)
}

// AcceptInvite accepts a pending invite by id.
func (e *Engine) AcceptInvite(ctx context.Context, id string) error {
	return e.clientFor(nil).AcceptInvite(ctx, id)
}

// RejectInvite rejects a pending invite by id.
func (e *Engine) RejectInvite(ctx context.Context, id string) error {
	return e.clientFor(nil).RejectInvite(ctx, id)
}

// DeleteRepo deletes the named repo and every object in it (deletion is
// whole-repo only).
func (e *Engine) DeleteRepo(ctx context.Context, name string) error {
	client := e.clientFor(nil)
	repo, err := client.FindRepoByName(ctx, name)
	if err != nil {
		return err
	}
	if repo == nil {
		return errs.NewCommandFailed("repo not found: %s", name)
	}
	return client.DeleteRepo(ctx, repo.RepoID)
}

// AccessList lists the current repo's collaborators.
func (e *Engine) AccessList(ctx context.Context) ([]remote.AccessEntry, error) {
	m, _, err := loadLocalManifest()
	if err != nil {
		return nil, err
	}
	return e.clientFor(m).ListAccess(ctx, m.RepoID)
}

// AccessAdd invites a collaborator to the current repo.
func (e *Engine) AccessAdd(ctx context.Context, email, role string) error {
	m, _, err := loadLocalManifest()
	if err != nil {
		return err
	}
	return e.clientFor(m).GrantAccess(ctx, m.RepoID, remote.AccessEntry{Email: email, Role: role})
}

// AccessSet changes a collaborator's role on the current repo.
func (e *Engine) AccessSet(ctx context.Context, email, role string) error {
	m, _, err := loadLocalManifest()
	if err != nil {
		return err
	}
	return e.clientFor(m).UpdateAccess(ctx, m.RepoID, remote.AccessEntry{Email: email, Role: role})
}

// AccessRemove revokes a collaborator's access to the current repo.
func (e *Engine) AccessRemove(ctx context.Context, email string) error {
	m, _, err := loadLocalManifest()
	if err != nil {
		return err
	}
	return e.clientFor(m).RevokeAccess(ctx, m.RepoID, email)
}

// Phrase returns the cached recovery phrase for this profile.
func (e *Engine) Phrase() (string, error) {
	return keys.ShowPhrase(e.Store, e.Profile)
}

// PhraseStatus reports whether a recovery phrase is cached for this profile.
func (e *Engine) PhraseStatus() (bool, error) {
	return keys.PhraseStatus(e.Store, e.Profile)
}

// DoctorReport is the non-mutating health check behind `milieu doctor`.
type DoctorReport struct {
	Profile     string
	BaseURL     string
	HasSession  bool
	HasToken    bool
	TokenExpiry *time.Time
	HasUserID   bool
	HasUMK      bool
	HasPhrase   bool
	KeypairOK   bool
	// PublishedKeyMatches is nil when the remote was unreachable or no key
	// is published yet.
	PublishedKeyMatches *bool
	KeyUpdatedAt        *time.Time
	RotationDue         bool
	RemoteError         string
}

// Doctor validates that the profile's config, session secret, UMK, and user
// key pair are consistent and reachable, without mutating anything.
func (e *Engine) Doctor(ctx context.Context) (DoctorReport, error) {
	report := DoctorReport{
		Profile: e.Profile,
		BaseURL: e.Config.BaseURLFor(e.Profile),
	}

	sec, err := e.Store.LoadSession(e.Profile)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return report, err
		}
		return report, nil
	}
	report.HasSession = true
	report.HasToken = sec.AuthToken != ""
	report.HasUserID = sec.UserID != ""
	report.HasUMK = len(sec.UMK) == primitives.KeyLen
	report.HasPhrase = sec.RecoveryPhrase != ""
	report.TokenExpiry = tokenExpiry(sec.AuthToken)

	var kp keys.KeyPair
	if report.HasUMK {
		if kp, err = keys.KeypairFromUMK(sec.UMK); err == nil {
			report.KeypairOK = true
		}
	}

	if report.HasToken {
		remoteKey, err := e.Client.WithToken(sec.AuthToken).GetUserKey(ctx)
		switch {
		case err != nil:
			report.RemoteError = err.Error()
		case remoteKey != nil:
			if report.KeypairOK {
				matches := string(remoteKey.PublicKey) == string(kp.Public)
				report.PublishedKeyMatches = &matches
			}
			updated := remoteKey.UpdatedAt
			report.KeyUpdatedAt = &updated
			_, report.RotationDue = keys.RotationAdvisory(updated)
		}
	}
	return report, nil
}

// tokenExpiry extracts the bearer token's exp claim without verifying the
// signature (verification is the server's job; this is bookkeeping only).
func tokenExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	return &exp.Time
}
