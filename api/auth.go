package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const defaultLeeway = 30 * time.Second

// Claims are the verified session token fields the API acts on. Subject is
// the identity provider's user ID and doubles as the record's external ID.
type Claims struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
	ExpiresAt time.Time
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// JWKSVerifier validates RS256-family session tokens against a JWKS
// endpoint.
type JWKSVerifier struct {
	keyfunc keyfunc.Keyfunc
	parser  *jwt.Parser
}

// NewJWKSVerifier fetches the key set at jwksURL. Issuer and audience are
// checked only when non-empty; session tokens from some identity
// providers carry no audience.
func NewJWKSVerifier(jwksURL, issuer, audience string) (*JWKSVerifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("jwks url must be set")
	}

	keys, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("init JWKS keyfunc: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(defaultLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodRS384.Name,
			jwt.SigningMethodRS512.Name,
		}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &JWKSVerifier{keyfunc: keys, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses and validates token.
func (v *JWKSVerifier) Verify(token string) (*Claims, error) {
	parsed, err := v.parser.Parse(token, v.keyfunc.Keyfunc)
	if err != nil {
		return nil, err
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	c := &Claims{
		Subject:   claimString(mc, "sub"),
		Email:     claimString(mc, "email", "primary_email"),
		FirstName: claimString(mc, "first_name", "given_name"),
		LastName:  claimString(mc, "last_name", "family_name"),
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if c.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	return c, nil
}

// claimString returns the first non-empty string claim among keys.
func claimString(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := mc[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

type ctxKey int

const claimsKey ctxKey = iota

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the claims stored by the auth middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// authenticate rejects requests without a valid bearer token.
func authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				respondError(w, http.StatusUnauthorized, "auth verifier not configured")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			claims, err := v.Verify(token)
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("token rejected")
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("external_id", claims.Subject)
			})
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
