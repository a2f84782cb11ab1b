package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Authentication(testSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(OrganizationIDKey))
	})
	return r
}

func signed(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key interface{}) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthentication(t *testing.T) {
	valid, err := IssueToken(testSecret, "org-1", "user-1", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "org-1", "user-1", -time.Minute)
	require.NoError(t, err)
	otherKey, err := IssueToken("another-secret", "org-1", "user-1", time.Hour)
	require.NoError(t, err)

	noOrg := signed(t, jwt.SigningMethodHS256, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, []byte(testSecret))
	noExpiry := signed(t, jwt.SigningMethodHS256, TokenClaims{OrganizationID: "org-1"}, []byte(testSecret))
	wrongAlg := signed(t, jwt.SigningMethodHS512, TokenClaims{
		OrganizationID:   "org-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, []byte(testSecret))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "org-1"},
		{"missing header", "", http.StatusUnauthorized, "unauthorized"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "unauthorized"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "unauthorized"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token_expired"},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized, "invalid_token"},
		{"no organization", "Bearer " + noOrg, http.StatusUnauthorized, ErrMissingOrgID.Error()},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized, "invalid_token"},
		{"other algorithm", "Bearer " + wrongAlg, http.StatusUnauthorized, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authRouter().ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
