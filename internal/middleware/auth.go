package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/hera/internal/logger"
)

// Context keys set by Authentication
const (
	OrganizationIDKey = "organization_id"
	SubjectKey        = "subject"
	TokenClaimsKey    = "token_claims"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
	ErrMissingOrgID      = errors.New("missing org_id in token")
)

// TokenClaims are the claims Hera reads from an access token
type TokenClaims struct {
	OrganizationID string `json:"org_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for an organization. Used by tooling and tests.
func IssueToken(secret, orgID, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authentication validates HS256 bearer tokens and puts the organization in the context
func Authentication(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: missing or invalid authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid authorization header",
			})
			return
		}

		claims := &TokenClaims{}
		_, err = parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "token_expired"
			}
			logger.WithFields(map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("Authentication failed: token validation error")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": fmt.Sprintf("Token rejected: %v", err),
			})
			return
		}

		if claims.OrganizationID == "" {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: missing organization in token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": ErrMissingOrgID.Error(),
			})
			return
		}

		c.Set(OrganizationIDKey, claims.OrganizationID)
		c.Set(SubjectKey, claims.Subject)
		c.Set(TokenClaimsKey, claims)

		logger.WithFields(map[string]interface{}{
			"organization_id": claims.OrganizationID,
			"path":            c.Request.URL.Path,
		}).Debug("Authentication successful")

		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", ErrInvalidAuthHeader
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
