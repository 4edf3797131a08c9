package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, now time.Time, keys ...APIKey) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		JWTSecret: "test-secret",
		JWTIssuer: "orgportal-auth",
		APIKeys:   keys,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func TestAuthenticateToken_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)

	token, err := svc.IssueToken(User{ID: "u-42", Role: RoleAdmin, Name: "Dana"}, time.Hour)
	require.NoError(t, err)

	u, err := svc.AuthenticateToken(token)
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "u-42", Role: RoleAdmin, Name: "Dana"}, u)
	assert.True(t, u.IsAdmin())
}

func TestAuthenticateToken_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)

	expired, err := svc.IssueToken(User{ID: "u-1", Role: RoleLearner}, -time.Minute)
	require.NoError(t, err)

	other := newTestService(t, now)
	other.issuer = "someone-else"
	wrongIssuer, err := other.IssueToken(User{ID: "u-1", Role: RoleLearner}, time.Hour)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: "root",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "orgportal-auth",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "orgportal-auth",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("not-the-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "abc.def.ghi",
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"unknown role": badRole,
		"wrong secret": wrongKey,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.AuthenticateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestNewService_ValidatesAPIKeys(t *testing.T) {
	_, err := NewService(ServiceConfig{APIKeys: []APIKey{{Name: "ci", Role: "root", Hash: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = NewService(ServiceConfig{APIKeys: []APIKey{{Name: "ci", Role: RoleAdmin}}})
	assert.Error(t, err)
}

func TestAuthenticateAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k-123"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := newTestService(t, time.Now(), APIKey{Name: "grader-bot", Role: RoleAdmin, Hash: string(hash)})

	u, err := svc.AuthenticateAPIKey("k-123")
	require.NoError(t, err)
	assert.Equal(t, "apikey:grader-bot", u.ID)
	assert.Equal(t, RoleAdmin, u.Role)

	// second lookup is served from the verified cache
	again, err := svc.AuthenticateAPIKey("k-123")
	require.NoError(t, err)
	assert.Equal(t, u, again)

	_, err = svc.AuthenticateAPIKey("k-999")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.AuthenticateAPIKey("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHashAPIKey(t *testing.T) {
	h, err := HashAPIKey("raw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("raw")))
}

func TestRequireAuthAndRoles(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, now)
	h := NewHandler(svc)

	learnerToken, err := svc.IssueToken(User{ID: "l-1", Role: RoleLearner}, time.Hour)
	require.NoError(t, err)
	adminToken, err := svc.IssueToken(User{ID: "a-1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	var seen *User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	protected := h.RequireAuth(h.RequireRoles(RoleAdmin)(inner))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "malformed header", header: "Token " + adminToken, want: http.StatusUnauthorized},
		{name: "learner forbidden", header: "Bearer " + learnerToken, want: http.StatusForbidden},
		{name: "admin allowed", header: "Bearer " + adminToken, want: http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "a-1", seen.ID)
}

func TestRequireRolesWithoutUser(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireRoles(RoleAdmin)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
