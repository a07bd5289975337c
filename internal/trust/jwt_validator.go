package trust

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTValidatorConfig configures a JWTValidator
type JWTValidatorConfig struct {
	// Issuer is the expected issuer (iss claim) of tokens
	Issuer string

	// JWKSURL is the URL to fetch the JSON Web Key Set from
	JWKSURL string

	// RefreshInterval is the minimum interval between JWKS refreshes.
	// Zero means the jwk cache default.
	RefreshInterval time.Duration
}

// JWTValidator validates JWT tokens against a remote JWKS
type JWTValidator struct {
	issuer  string
	jwksURL string
	cache   *jwk.Cache
}

// NewJWTValidator creates a validator that fetches and caches keys from the
// configured JWKS endpoint
func NewJWTValidator(ctx context.Context, config JWTValidatorConfig) (*JWTValidator, error) {
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.JWKSURL == "" {
		return nil, fmt.Errorf("jwks_url is required")
	}

	cache := jwk.NewCache(ctx)
	opts := []jwk.RegisterOption{}
	if config.RefreshInterval > 0 {
		opts = append(opts, jwk.WithMinRefreshInterval(config.RefreshInterval))
	}
	if err := cache.Register(config.JWKSURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	return &JWTValidator{
		issuer:  config.Issuer,
		jwksURL: config.JWKSURL,
		cache:   cache,
	}, nil
}

// Validate implements Validator
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Result, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	parsed, err := jwt.ParseString(token,
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(v.issuer),
		jwt.WithValidate(true),
	)
	if err != nil {
		if strings.Contains(err.Error(), "exp") {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Result{
		Subject:   parsed.Subject(),
		Issuer:    parsed.Issuer(),
		Claims:    tokenClaims(parsed),
		ExpiresAt: parsed.Expiration(),
		IssuedAt:  parsed.IssuedAt(),
		Audience:  parsed.Audience(),
	}, nil
}

// tokenClaims flattens the token into a claims map. Standard claims are
// included alongside private ones so downstream lookups see the same shape
// jwt_authn metadata would carry.
func tokenClaims(token jwt.Token) map[string]interface{} {
	claims := make(map[string]interface{})
	for key, value := range token.PrivateClaims() {
		claims[key] = value
	}
	if iss := token.Issuer(); iss != "" {
		claims["iss"] = iss
	}
	if sub := token.Subject(); sub != "" {
		claims["sub"] = sub
	}
	if aud := token.Audience(); len(aud) > 0 {
		// Single-valued audiences stay scalar, matching how they were
		// issued in the common case.
		if len(aud) == 1 {
			claims["aud"] = aud[0]
		} else {
			vals := make([]interface{}, len(aud))
			for i, a := range aud {
				vals[i] = a
			}
			claims["aud"] = vals
		}
	}
	if !token.Expiration().IsZero() {
		claims["exp"] = token.Expiration().Unix()
	}
	if !token.IssuedAt().IsZero() {
		claims["iat"] = token.IssuedAt().Unix()
	}
	return claims
}
