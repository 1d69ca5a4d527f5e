package testutil

import (
	"time"

	"geominer/siren/pkg/auth"

	"github.com/golang-jwt/jwt/v5"
)

// JWTTestHelper provides utilities for JWT testing
type JWTTestHelper struct {
	Secret []byte
}

// NewJWTTestHelper creates a new JWT test helper with a default test secret
func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{
		Secret: []byte("test-secret-for-unit-tests"),
	}
}

// NewJWTTestHelperWithSecret creates a new JWT test helper with a custom secret
func NewJWTTestHelperWithSecret(secret []byte) *JWTTestHelper {
	return &JWTTestHelper{
		Secret: secret,
	}
}

// Verifier returns an HMAC verifier bound to the helper's secret
func (h *JWTTestHelper) Verifier() *auth.HMACVerifier {
	return auth.NewHMACVerifier(h.Secret)
}

// GenerateValidJWT generates a valid JWT token for testing
func (h *JWTTestHelper) GenerateValidJWT(subject, email, username string, roles []string) (string, error) {
	return auth.GenerateToken(subject, email, username, roles, h.Secret, time.Hour)
}

// GenerateExpiredJWT generates an expired JWT token for testing
func (h *JWTTestHelper) GenerateExpiredJWT(subject string, roles []string) (string, error) {
	claims := &auth.Claims{
		RealmAccess: auth.RealmAccess{Roles: roles},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)), // Expired 1 hour ago
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)), // Issued 2 hours ago
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateMalformedJWT generates a malformed JWT for testing error scenarios
func (h *JWTTestHelper) GenerateMalformedJWT() string {
	return "invalid.jwt.token.format"
}

// GenerateJWTWithWrongSecret generates a JWT signed with a different secret
func (h *JWTTestHelper) GenerateJWTWithWrongSecret(subject string, roles []string) (string, error) {
	return auth.GenerateToken(subject, "", "", roles, []byte("wrong-secret"), time.Hour)
}

// ValidateJWT validates a JWT using the test helper's secret
func (h *JWTTestHelper) ValidateJWT(tokenString string) (*auth.Principal, error) {
	return h.Verifier().Verify(tokenString)
}

// TestUser represents a test user for JWT generation
type TestUser struct {
	Subject  string
	Email    string
	Username string
	Roles    []string
}

// GenerateJWT generates a JWT for the test user
func (u TestUser) GenerateJWT(helper *JWTTestHelper) (string, error) {
	return helper.GenerateValidJWT(u.Subject, u.Email, u.Username, u.Roles)
}

// Test users with different role sets
var (
	TestViewer = TestUser{
		Subject:  "user-viewer-1",
		Email:    "viewer@example.com",
		Username: "viewer",
		Roles:    []string{"VIEWER"},
	}

	TestAnalyst = TestUser{
		Subject:  "user-analyst-1",
		Email:    "analyst@example.com",
		Username: "analyst",
		Roles:    []string{"ANALYST"},
	}

	TestAdmin = TestUser{
		Subject:  "user-admin-1",
		Email:    "admin@example.com",
		Username: "admin",
		Roles:    []string{"ADMIN"},
	}

	TestSuperAdmin = TestUser{
		Subject:  "user-super-1",
		Email:    "super@example.com",
		Username: "super",
		Roles:    []string{"SUPER_ADMIN"},
	}
)
