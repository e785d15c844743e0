package remote

import "time"

// RegisterRequest/RegisterResponse back POST /v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

// LoginRequest/LoginResponse back POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Host     string `json:"host"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Warning     string `json:"warning,omitempty"`
}

// UMKBlob is the encrypted User Master Key plus the KDF parameters it was
// derived under, as stored on GET/PUT /v1/users/me/umk.
type UMKBlob struct {
	KDFSalt        []byte `json:"kdf_salt"`
	KDFMemoryKiB   uint32 `json:"kdf_memory_kib"`
	KDFIterations  uint32 `json:"kdf_iterations"`
	KDFParallelism uint8  `json:"kdf_parallelism"`
	NonceB64       string `json:"nonce"`
	CiphertextB64  string `json:"ciphertext"`
}

// UserKey is the published public half of the user key pair, as stored on
// GET/PUT /v1/users/me/key.
type UserKey struct {
	PublicKey []byte    `json:"public_key"`
	Algorithm string    `json:"algorithm"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RepoAccess is one entry of GET /v1/users/me/repos.
type RepoAccess struct {
	RepoID   string `json:"repo_id"`
	RepoName string `json:"repo_name"`
	Role     string `json:"role"`
}

// Invite is one entry of GET /v1/users/me/invites.
type Invite struct {
	ID       string `json:"id"`
	RepoID   string `json:"repo_id"`
	RepoName string `json:"repo_name"`
	FromUser string `json:"from_user"`
}

// Session is one entry of GET /v1/users/me/sessions.
type Session struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Repo is the response of POST/GET /v1/repos.
type Repo struct {
	RepoID   string `json:"repo_id"`
	RepoName string `json:"repo_name"`
}

// WrappedKey is the repo-key blob exchanged on GET/PUT /v1/repos/{id}/key.
type WrappedKey struct {
	Blob  string `json:"blob"`
	Email string `json:"email,omitempty"`
}

// AccessEntry is one collaborator row of GET /v1/repos/{id}/access. Status
// is "active" for accepted collaborators; invited-but-unaccepted rows carry
// "pending".
type AccessEntry struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
}

// Object is a ciphertext object as returned by the objects endpoints.
type Object struct {
	Path           string    `json:"path"`
	NonceB64       string    `json:"nonce"`
	CiphertextB64  string    `json:"ciphertext"`
	AADB64         string    `json:"aad"`
	CiphertextHash string    `json:"ciphertext_hash"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	SchemaVersion  int       `json:"schema_version"`
}

// PostObjectRequest is the body of POST .../objects.
type PostObjectRequest struct {
	Path          string `json:"path"`
	NonceB64      string `json:"nonce"`
	CiphertextB64 string `json:"ciphertext"`
	AADB64        string `json:"aad"`
	SchemaVersion int    `json:"schema_version"`
}

// PostObjectResponse reports the server-assigned version.
type PostObjectResponse struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one row of GET .../objects/history.
type HistoryEntry struct {
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	CiphertextHash string    `json:"ciphertext_hash,omitempty"`
}

// ManifestBlob is the text-serialized manifest mirrored to the remote, with
// baseline state stripped before it is PUT.
type ManifestBlob struct {
	Body string `json:"body"`
}
