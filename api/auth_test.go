package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer = "https://clerk.example.com"
	testKID    = "test-key"
)

func newTestVerifier(t *testing.T, audience string) (*JWKSVerifier, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": testKID,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)

	v, err := NewJWKSVerifier(srv.URL, testIssuer, audience)
	require.NoError(t, err)
	return v, key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKID
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":        testIssuer,
		"sub":        "user_123",
		"email":      "ada@example.com",
		"first_name": "Ada",
		"exp":        now.Add(10 * time.Minute).Unix(),
		"iat":        now.Unix(),
	}
}

func TestJWKSVerifierValidToken(t *testing.T) {
	v, key := newTestVerifier(t, "")

	c, err := v.Verify(sign(t, key, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user_123", c.Subject)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, "Ada", c.FirstName)
	assert.False(t, c.ExpiresAt.IsZero())
}

func TestJWKSVerifierRejects(t *testing.T) {
	v, key := newTestVerifier(t, "credits-api")
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	withAud := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := baseClaims()
		c["aud"] = "credits-api"
		mutate(c)
		return c
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", sign(t, other, withAud(func(jwt.MapClaims) {}))},
		{"wrong issuer", sign(t, key, withAud(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }))},
		{"wrong audience", sign(t, key, withAud(func(c jwt.MapClaims) { c["aud"] = "other" }))},
		{"expired", sign(t, key, withAud(func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }))},
		{"no expiry", sign(t, key, withAud(func(c jwt.MapClaims) { delete(c, "exp") }))},
		{"no subject", sign(t, key, withAud(func(c jwt.MapClaims) { delete(c, "sub") }))},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("bearer   xyz")
	assert.True(t, ok)

	for _, h := range []string{"", "Bearer", "Bearer ", "Token abc"} {
		_, ok := bearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestClaimsFromContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaims(context.Background(), &Claims{Subject: "user_1"})
	c, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user_1", c.Subject)
}

func TestUserLimiterBuckets(t *testing.T) {
	l := newUserLimiter(0.001, 1)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))
}
