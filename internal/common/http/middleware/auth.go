package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	// JWTSecret is the HS256 key. Auth is disabled when empty.
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// Authenticator validates HS256 access tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns nil when no secret is configured.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.JWTSecret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer}
}

type tokenClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate returns the user id carried in the token subject.
func (a *Authenticator) Authenticate(raw string) (string, error) {
	if raw == "" {
		return "", appErr.New(appErr.Unauthorized).WithMessage("missing bearer token")
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", appErr.New(appErr.TokenExpired)
		}
		return "", appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", appErr.New(appErr.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return "", appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" {
		return "", appErr.New(appErr.TokenInvalid)
	}
	return claims.Subject, nil
}

// IssueToken signs an access token for userID.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// AuthMiddleware validates a bearer token when one is sent and records the caller.
// Anonymous requests pass through; handlers that need a user check UserID.
// A nil authenticator disables validation.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		userID, err := auth.Authenticate(extractBearerToken(header))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		setUserID(c, userID)
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
