package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milieu-dev/milieu/internal/errs"
)

func TestGetLatestObject_404IsAbsentNotError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	obj, err := New(srv.URL, nil).WithToken("tok").GetLatestObject(context.Background(), "R1", "dev", ".env")
	require.NoError(t, err)
	require.Nil(t, obj)
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "read-only"},
		{http.StatusInternalServerError, "status 500"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := New(srv.URL, nil).WithToken("tok").PostObject(context.Background(), "R1", "dev", PostObjectRequest{Path: ".env"})
		srv.Close()
		require.Error(t, err)
		require.True(t, errs.IsCommandFailed(err))
		require.Contains(t, err.Error(), tc.want)
	}
}

func TestRequestCarriesBearerAndRequestID(t *testing.T) {
	t.Parallel()
	var gotAuth, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		_ = json.NewEncoder(w).Encode([]RepoAccess{})
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).WithToken("tok").ListRepos(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", gotAuth)
	require.NotEmpty(t, gotReqID)
}

func TestWithBaseURL_RetargetsClient(t *testing.T) {
	t.Parallel()
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		_ = json.NewEncoder(w).Encode([]Session{})
	}))
	defer srv.Close()

	base := New("http://127.0.0.1:1", nil)
	_, err := base.WithBaseURL(srv.URL).WithToken("tok").ListSessions(context.Background())
	require.NoError(t, err)
	require.True(t, hit)
}

func TestLogin_DecodesResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/login", r.URL.Path)
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "a@b.com", req.Email)
		_ = json.NewEncoder(w).Encode(LoginResponse{AccessToken: "tok", UserID: "u1", Warning: "old client"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, nil).Login(context.Background(), "a@b.com", "pw", "host1")
	require.NoError(t, err)
	require.Equal(t, "tok", resp.AccessToken)
	require.Equal(t, "u1", resp.UserID)
	require.Equal(t, "old client", resp.Warning)
}
