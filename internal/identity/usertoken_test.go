package identity_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmerrifield20/sublease/internal/identity"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!"

func newIssuer(t *testing.T, ttl time.Duration) *identity.UserTokenIssuer {
	t.Helper()
	iss, err := identity.NewUserTokenIssuer(testSecret, "https://sublease.test", ttl)
	if err != nil {
		t.Fatalf("NewUserTokenIssuer: %v", err)
	}
	return iss
}

func TestNewUserTokenIssuer_ShortSecret(t *testing.T) {
	if _, err := identity.NewUserTokenIssuer("short", "x", 0); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestUserToken_RoundTrip(t *testing.T) {
	iss := newIssuer(t, time.Hour)
	tok, err := iss.Issue("user-1", "owner@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "owner@example.com" || claims.Subject != "user-1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestUserToken_Rejections(t *testing.T) {
	iss := newIssuer(t, time.Hour)
	other, _ := identity.NewUserTokenIssuer(testSecret, "https://elsewhere.test", time.Hour)
	foreign, _ := other.Issue("user-1", "a@b.c")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://sublease.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		UserID: "user-1",
		Type:   "user",
	})
	expiredStr, _ := expired.SignedString([]byte(testSecret))

	wrongType := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://sublease.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		UserID: "user-1",
		Type:   "admin",
	})
	wrongTypeStr, _ := wrongType.SignedString([]byte(testSecret))

	for name, tok := range map[string]string{
		"garbage":      "not-a-jwt",
		"wrong issuer": foreign,
		"expired":      expiredStr,
		"wrong type":   wrongTypeStr,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := iss.Verify(tok); !errors.Is(err, identity.ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestRequireUserToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := newIssuer(t, time.Hour)

	r := gin.New()
	r.GET("/me", identity.RequireUserToken(iss), func(c *gin.Context) {
		c.String(http.StatusOK, identity.UserClaimsFromCtx(c).UserID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no header: got %d, want 401", w.Code)
	}

	tok, _ := iss.Issue("user-9", "r@example.com")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "user-9" {
		t.Errorf("valid token: got %d %q", w.Code, w.Body.String())
	}
}
