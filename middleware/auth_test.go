package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func identityEcho(t *testing.T, got *models.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := GetIdentityFromContext(r.Context())
		require.NoError(t, err)
		*got = identity
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(secret, "alice", models.RolePlayer, time.Hour)
	require.NoError(t, err)

	identity, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: "alice", Role: models.RolePlayer}, identity)

	_, err = ParseToken([]byte("other"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = IssueToken(secret, "alice", "superuser", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsExpiredAndUnsigned(t *testing.T) {
	expired, err := IssueToken(secret, "alice", models.RolePlayer, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(secret, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate(t *testing.T) {
	token, err := IssueToken(secret, "bob", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusNoContent},
		{"missing token", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.Identity
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.prepare(r)
			w := httptest.NewRecorder()

			Authenticate(secret)(identityEcho(t, &got)).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, "bob", got.UserID)
				assert.Equal(t, models.RoleAdmin, got.Role)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := Authorize(models.RoleAdmin)(ok)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = r.WithContext(WithIdentity(r.Context(), models.Identity{UserID: "alice", Role: models.RolePlayer}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = r.WithContext(WithIdentity(r.Context(), models.Identity{UserID: "root", Role: models.RoleAdmin}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}
