package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type whoami struct {
	GinUser string `json:"gin_user"`
	CtxUser string `json:"ctx_user"`
	TraceID string `json:"trace_id"`
}

func newRouter(auth *Authenticator, cfg TraceContextConfig) *gin.Engine {
	r := gin.New()
	r.Use(TraceContextMiddlewareWithConfig(cfg), AuthMiddleware(auth))
	r.GET("/whoami", func(c *gin.Context) {
		ctxUser, _ := c.Request.Context().Value(contextkey.UserID).(string)
		traceID, _ := c.Request.Context().Value(contextkey.TraceID).(string)
		c.JSON(http.StatusOK, whoami{GinUser: UserID(c), CtxUser: ctxUser, TraceID: traceID})
	})
	return r
}

func do(t *testing.T, r http.Handler, headers map[string]string) (*httptest.ResponseRecorder, whoami) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body whoami
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}
	return w, body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) appErr.ErrorCode {
	t.Helper()
	var body struct {
		Code appErr.ErrorCode `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Code
}

func TestTraceContextGeneratesAndPropagates(t *testing.T) {
	r := newRouter(nil, TraceContextConfig{})

	w, body := do(t, r, nil)
	if w.Header().Get(traceIDHeader) == "" || w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("missing generated ids: %v", w.Header())
	}
	if body.TraceID != w.Header().Get(traceIDHeader) {
		t.Fatalf("trace id not in request context: %+v", body)
	}

	w, body = do(t, r, map[string]string{traceIDHeader: "trace-1", userIDHeader: "u1"})
	if w.Header().Get(traceIDHeader) != "trace-1" || body.TraceID != "trace-1" {
		t.Fatalf("incoming trace id not kept: %+v", body)
	}
	if body.GinUser != "" {
		t.Fatal("user header must be ignored unless allowed")
	}
}

func TestTraceContextTrustsUserHeader(t *testing.T) {
	r := newRouter(nil, TraceContextConfig{AllowUserIDHeader: true, WriteUserIDHeader: true})
	w, body := do(t, r, map[string]string{userIDHeader: " u1 "})
	if body.GinUser != "u1" || body.CtxUser != "u1" {
		t.Fatalf("user not propagated: %+v", body)
	}
	if w.Header().Get(userIDHeader) != "u1" {
		t.Fatalf("user header not echoed: %v", w.Header())
	}
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: "s3cret", JWTIssuer: "codejudge"})
	r := newRouter(auth, TraceContextConfig{})

	token, err := auth.IssueToken("42", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	w, body := do(t, r, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK || body.GinUser != "42" || body.CtxUser != "42" {
		t.Fatalf("valid token rejected: %d %s", w.Code, w.Body.String())
	}

	// Anonymous requests pass through without a user.
	w, body = do(t, r, nil)
	if w.Code != http.StatusOK || body.GinUser != "" {
		t.Fatalf("anonymous request: %d %+v", w.Code, body)
	}

	expired, err := auth.IssueToken("42", -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	sign := func(method jwt.SigningMethod, key interface{}, claims tokenClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		code   appErr.ErrorCode
	}{
		{"expired", "Bearer " + expired, appErr.TokenExpired},
		{"garbage", "Bearer not-a-token", appErr.TokenInvalid},
		{"wrong scheme", "Basic " + token, appErr.Unauthorized},
		{"wrong secret", "Bearer " + sign(jwt.SigningMethodHS256, []byte("other"), tokenClaims{
			TokenType:        accessTokenType,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "codejudge", ExpiresAt: future},
		}), appErr.TokenInvalid},
		{"wrong alg", "Bearer " + sign(jwt.SigningMethodHS512, []byte("s3cret"), tokenClaims{
			TokenType:        accessTokenType,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "codejudge", ExpiresAt: future},
		}), appErr.TokenInvalid},
		{"refresh token", "Bearer " + sign(jwt.SigningMethodHS256, []byte("s3cret"), tokenClaims{
			TokenType:        "refresh",
			RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "codejudge", ExpiresAt: future},
		}), appErr.TokenInvalid},
		{"wrong issuer", "Bearer " + sign(jwt.SigningMethodHS256, []byte("s3cret"), tokenClaims{
			TokenType:        accessTokenType,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "elsewhere", ExpiresAt: future},
		}), appErr.TokenInvalid},
		{"no subject", "Bearer " + sign(jwt.SigningMethodHS256, []byte("s3cret"), tokenClaims{
			TokenType:        accessTokenType,
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "codejudge", ExpiresAt: future},
		}), appErr.TokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := do(t, r, map[string]string{"Authorization": tt.header})
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if got := errorCode(t, w); got != tt.code {
				t.Fatalf("expected code %d, got %d", tt.code, got)
			}
		})
	}
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	if NewAuthenticator(AuthConfig{}) != nil {
		t.Fatal("expected nil authenticator without a secret")
	}
	r := newRouter(nil, TraceContextConfig{})
	if w, _ := do(t, r, map[string]string{"Authorization": "Bearer junk"}); w.Code != http.StatusOK {
		t.Fatalf("disabled auth must not reject, got %d", w.Code)
	}
}
