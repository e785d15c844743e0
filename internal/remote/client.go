// Package remote implements typed operations against the milieu HTTP
// service: authentication, object post/get/history, manifest sync, access
// control, and invites. It distinguishes a 404 "absent" result from other
// non-2xx statuses, which surface as *errs.CommandFailedError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/milieu-dev/milieu/internal/errs"
)

// Client is a typed, bearer-token-authenticated HTTP client for the milieu
// remote service. The zero value is not usable; construct with New.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// New constructs a Client against baseURL. log may be nil, in which case a
// no-op logger is used.
func New(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// WithToken returns a copy of the client authenticated with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// WithBaseURL returns a copy of the client pointed at a different base URL
// (used for the manifest's per-repo remote override).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.baseURL = baseURL
	return &cp
}

// do performs an HTTP request against path with an optional JSON body,
// decoding a 2xx JSON response into out (when out is non-nil). It returns
// (false, nil) when the caller asked for absent-on-404 semantics and the
// server answered 404; otherwise a non-2xx status becomes a typed
// *errs.CommandFailedError.
func (c *Client) do(ctx context.Context, method, path string, body, out any, absentOn404 bool) (bool, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, err := uuid.NewV4(); err == nil {
		req.Header.Set("X-Request-ID", id.String())
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("remote request", zap.String("method", method), zap.String("path", path))

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && absentOn404 {
		return false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, statusError(path, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return true, nil
}

// statusError maps a non-2xx status to a human-readable summary.
func statusError(path string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return errs.NewCommandFailed("unauthorized")
	case http.StatusForbidden:
		return errs.NewCommandFailed("forbidden")
	case http.StatusNotFound:
		return errs.NewCommandFailed("repo not found or no write access (read-only)")
	default:
		return errs.NewCommandFailed("request to %s failed: status %d: %s", path, status, string(body))
	}
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	var resp RegisterResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/auth/register", RegisterRequest{Email: email, Password: password}, &resp, false)
	return resp.UserID, err
}

// Login authenticates and returns an access token plus the account's user
// id.
func (c *Client) Login(ctx context.Context, email, password, host string) (LoginResponse, error) {
	var resp LoginResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/auth/login", LoginRequest{Email: email, Password: password, Host: host}, &resp, false)
	return resp, err
}

// Logout revokes the current session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, nil, false)
	return err
}

// GetUMK fetches the encrypted UMK blob, or (nil, nil) if none is set yet.
func (c *Client) GetUMK(ctx context.Context) (*UMKBlob, error) {
	var blob UMKBlob
	ok, err := c.do(ctx, http.MethodGet, "/v1/users/me/umk", nil, &blob, true)
	if err != nil || !ok {
		return nil, err
	}
	return &blob, nil
}

// PutUMK publishes the encrypted UMK blob.
func (c *Client) PutUMK(ctx context.Context, blob UMKBlob) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/users/me/umk", blob, nil, false)
	return err
}

// GetUserKey fetches the published user public key, or (nil, nil) if absent.
func (c *Client) GetUserKey(ctx context.Context) (*UserKey, error) {
	var key UserKey
	ok, err := c.do(ctx, http.MethodGet, "/v1/users/me/key", nil, &key, true)
	if err != nil || !ok {
		return nil, err
	}
	return &key, nil
}

// PutUserKey publishes the user's public key.
func (c *Client) PutUserKey(ctx context.Context, key UserKey) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/users/me/key", key, nil, false)
	return err
}

// ListRepos returns every repo this user has access to.
func (c *Client) ListRepos(ctx context.Context) ([]RepoAccess, error) {
	var repos []RepoAccess
	_, err := c.do(ctx, http.MethodGet, "/v1/users/me/repos", nil, &repos, false)
	return repos, err
}

// ListInvites returns pending invites for this user.
func (c *Client) ListInvites(ctx context.Context) ([]Invite, error) {
	var invites []Invite
	_, err := c.do(ctx, http.MethodGet, "/v1/users/me/invites", nil, &invites, false)
	return invites, err
}

// AcceptInvite accepts a pending invite by id.
func (c *Client) AcceptInvite(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/users/me/invites/"+url.PathEscape(id)+"/accept", nil, nil, false)
	return err
}

// RejectInvite rejects a pending invite by id.
func (c *Client) RejectInvite(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/users/me/invites/"+url.PathEscape(id)+"/reject", nil, nil, false)
	return err
}

// ListSessions returns this user's active remote sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	_, err := c.do(ctx, http.MethodGet, "/v1/users/me/sessions", nil, &sessions, false)
	return sessions, err
}

// CreateRepo creates a new repo with the given name.
func (c *Client) CreateRepo(ctx context.Context, name string) (Repo, error) {
	var repo Repo
	_, err := c.do(ctx, http.MethodPost, "/v1/repos", Repo{RepoName: name}, &repo, false)
	return repo, err
}

// FindRepoByName looks up a repo by its name, or (nil, nil) if absent.
func (c *Client) FindRepoByName(ctx context.Context, name string) (*Repo, error) {
	var repo Repo
	ok, err := c.do(ctx, http.MethodGet, "/v1/repos?name="+url.QueryEscape(name), nil, &repo, true)
	if err != nil || !ok {
		return nil, err
	}
	return &repo, nil
}

// DeleteRepo removes a repo and all its objects. Deletion is whole-repo
// only; individual objects are append-only.
func (c *Client) DeleteRepo(ctx context.Context, repoID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/repos/"+url.PathEscape(repoID), nil, nil, false)
	return err
}

// GetManifest fetches the remote manifest blob, or (nil, nil) if absent.
func (c *Client) GetManifest(ctx context.Context, repoID string) (*ManifestBlob, error) {
	var blob ManifestBlob
	ok, err := c.do(ctx, http.MethodGet, "/v1/repos/"+url.PathEscape(repoID)+"/manifest", nil, &blob, true)
	if err != nil || !ok {
		return nil, err
	}
	return &blob, nil
}

// PutManifest publishes the local manifest (baselines already stripped by
// the caller).
func (c *Client) PutManifest(ctx context.Context, repoID string, blob ManifestBlob) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/repos/"+url.PathEscape(repoID)+"/manifest", blob, nil, false)
	return err
}

// GetRepoKey fetches the wrapped repo key blob for the caller, or (nil, nil)
// if the owner has not yet shared it with this user.
func (c *Client) GetRepoKey(ctx context.Context, repoID string) (*WrappedKey, error) {
	var key WrappedKey
	ok, err := c.do(ctx, http.MethodGet, "/v1/repos/"+url.PathEscape(repoID)+"/key", nil, &key, true)
	if err != nil || !ok {
		return nil, err
	}
	return &key, nil
}

// PutRepoKey publishes a wrapped repo key, optionally scoped to a specific
// collaborator's email.
func (c *Client) PutRepoKey(ctx context.Context, repoID string, key WrappedKey) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/repos/"+url.PathEscape(repoID)+"/key", key, nil, false)
	return err
}

// ListAccess returns the collaborator list for a repo.
func (c *Client) ListAccess(ctx context.Context, repoID string) ([]AccessEntry, error) {
	var entries []AccessEntry
	_, err := c.do(ctx, http.MethodGet, "/v1/repos/"+url.PathEscape(repoID)+"/access", nil, &entries, false)
	return entries, err
}

// GrantAccess invites a collaborator by email with the given role.
func (c *Client) GrantAccess(ctx context.Context, repoID string, entry AccessEntry) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/repos/"+url.PathEscape(repoID)+"/access", entry, nil, false)
	return err
}

// UpdateAccess changes a collaborator's role.
func (c *Client) UpdateAccess(ctx context.Context, repoID string, entry AccessEntry) error {
	_, err := c.do(ctx, http.MethodPatch, "/v1/repos/"+url.PathEscape(repoID)+"/access", entry, nil, false)
	return err
}

// RevokeAccess removes a collaborator by email.
func (c *Client) RevokeAccess(ctx context.Context, repoID, email string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/repos/"+url.PathEscape(repoID)+"/access?email="+url.QueryEscape(email), nil, nil, false)
	return err
}

// PostObject uploads a new ciphertext object version for path on
// (repoID, branch).
func (c *Client) PostObject(ctx context.Context, repoID, branch string, req PostObjectRequest) (PostObjectResponse, error) {
	var resp PostObjectResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/repos/"+url.PathEscape(repoID)+"/branches/"+url.PathEscape(branch)+"/objects", req, &resp, false)
	return resp, err
}

// GetLatestObject fetches the latest object for path, or (nil, nil) if none
// has ever been posted.
func (c *Client) GetLatestObject(ctx context.Context, repoID, branch, path string) (*Object, error) {
	var obj Object
	p := "/v1/repos/" + url.PathEscape(repoID) + "/branches/" + url.PathEscape(branch) + "/objects/latest?path=" + url.QueryEscape(path)
	ok, err := c.do(ctx, http.MethodGet, p, nil, &obj, true)
	if err != nil || !ok {
		return nil, err
	}
	return &obj, nil
}

// GetObjectVersion fetches a specific historical version of path, or
// (nil, nil) if it does not exist.
func (c *Client) GetObjectVersion(ctx context.Context, repoID, branch, path string, version int64) (*Object, error) {
	var obj Object
	p := "/v1/repos/" + url.PathEscape(repoID) + "/branches/" + url.PathEscape(branch) + "/objects/version?path=" +
		url.QueryEscape(path) + "&version=" + strconv.FormatInt(version, 10)
	ok, err := c.do(ctx, http.MethodGet, p, nil, &obj, true)
	if err != nil || !ok {
		return nil, err
	}
	return &obj, nil
}

// GetObjectHistory lists every version ever posted for path.
func (c *Client) GetObjectHistory(ctx context.Context, repoID, branch, path string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	p := "/v1/repos/" + url.PathEscape(repoID) + "/branches/" + url.PathEscape(branch) + "/objects/history?path=" + url.QueryEscape(path)
	_, err := c.do(ctx, http.MethodGet, p, nil, &entries, false)
	return entries, err
}
