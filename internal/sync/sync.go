// Package sync implements the sync engine: push, pull, status, checkout,
// object history, repo key sharing, and the account and repo lifecycle
// operations layered on top of it. It owns repo-relative path validation
// and content hashing.
package sync

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/milieu-dev/milieu/internal/config"
	"github.com/milieu-dev/milieu/internal/errs"
	"github.com/milieu-dev/milieu/internal/manifest"
	"github.com/milieu-dev/milieu/internal/remote"
	"github.com/milieu-dev/milieu/internal/secretstore"
)

// MaxRepoBytes is the total plaintext size cap, summed across every
// distinct tracked path in the manifest, enforced at push time.
const MaxRepoBytes = 1 * 1024 * 1024

// Engine bundles everything a sync operation needs: an authenticated
// remote client, the secret-store cache, the loaded global config, the
// active profile name, and a logger. The zero value is not usable;
// construct with NewEngine.
type Engine struct {
	Client  *remote.Client
	Store   *secretstore.Store
	Config  *config.Config
	Profile string
	Logger  *zap.Logger
}

// NewEngine constructs an Engine. log may be nil, in which case a no-op
// logger is used.
func NewEngine(client *remote.Client, store *secretstore.Store, cfg *config.Config, profile string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Client: client, Store: store, Config: cfg, Profile: profile, Logger: log}
}

// ProjectRoot is the current working directory, treated as the repo root.
func ProjectRoot() (string, error) {
	return os.Getwd()
}

// ManifestPath resolves "<project root>/.milieu/manifest.toml".
func ManifestPath() (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return manifest.Path(root), nil
}

// FolderName returns the project root's base name, used as the default
// repo name on `milieu init`.
func FolderName() (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	name := filepath.Base(root)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errs.NewCommandFailed("invalid folder name")
	}
	return name, nil
}

// IsValidRepoName reports whether name is alphanumeric plus '-'/'_'.
func IsValidRepoName(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_') {
			return false
		}
	}
	return true
}

// ValidatePath rejects anything that is not a repo-relative ".env" or
// ".env.*" path: absolute paths, paths containing "..", and files whose
// name is neither ".env" nor starts with ".env.".
func ValidatePath(path string) error {
	if path == "" {
		return errs.NewCommandFailed("invalid file path")
	}
	if filepath.IsAbs(path) {
		return errs.NewCommandFailed("only repo-relative .env* paths are allowed")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return errs.NewCommandFailed("path cannot contain '..'")
		}
	}
	base := filepath.Base(path)
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return nil
	}
	return errs.NewCommandFailed("only .env* files are allowed")
}

// hashHex returns the lowercase-hex BLAKE3-256 digest of data, the
// manifest's on-disk baseline representation.
func hashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeSecure writes data to path with 0600 permissions, creating parent
// directories as needed. TODO: on Windows this permission bit is a no-op;
// ACL-based hardening is not implemented.
func writeSecure(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// clientFor returns an authenticated client for m's repo, honoring a
// repo-local base-URL override (manifest.Remote.BaseURL) over the profile's
// configured base URL. m may be nil for operations that run outside an
// initialized repo.
func (e *Engine) clientFor(m *manifest.Manifest) *remote.Client {
	c := e.Client
	if m != nil && m.Remote != nil && m.Remote.BaseURL != "" {
		c = c.WithBaseURL(m.Remote.BaseURL)
	}
	return c.WithToken(e.authToken())
}

// marshalManifest renders m as the TOML text body mirrored to the remote.
func marshalManifest(m *manifest.Manifest) (string, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return string(data), nil
}

// unmarshalManifest parses a manifest TOML text body fetched from the
// remote.
func unmarshalManifest(body string) (*manifest.Manifest, error) {
	var m manifest.Manifest
	if err := toml.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// loadLocalManifest loads the manifest at the project root, or
// errs.ErrRepoNotInitialized.
func loadLocalManifest() (*manifest.Manifest, string, error) {
	path, err := ManifestPath()
	if err != nil {
		return nil, "", err
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, "", err
	}
	return m, path, nil
}

// readFileIfExists reads path, mapping a missing file to (nil, nil).
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// trackedPaths returns every distinct path tracked by any branch.
func trackedPaths(m *manifest.Manifest) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, b := range m.Branches {
		for _, f := range b.Files {
			if !seen[f.Path] {
				seen[f.Path] = true
				paths = append(paths, f.Path)
			}
		}
	}
	return paths
}
