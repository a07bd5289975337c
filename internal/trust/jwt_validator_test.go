package trust

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// setupTestJWKS creates a test JWKS server and returns the private key, JWKS URL, and cleanup function
func setupTestJWKS(t *testing.T) (*rsa.PrivateKey, string, func()) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	publicKey, err := jwk.FromRaw(privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to create JWK: %v", err)
	}
	if err := publicKey.Set(jwk.KeyIDKey, "test-key-1"); err != nil {
		t.Fatalf("failed to set key ID: %v", err)
	}
	if err := publicKey.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set algorithm: %v", err)
	}

	jwks := jwk.NewSet()
	if err := jwks.AddKey(publicKey); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(jwks); err != nil {
			t.Errorf("failed to encode JWKS: %v", err)
		}
	}))

	return privateKey, server.URL, server.Close
}

// createTestJWT creates a signed JWT for testing
func createTestJWT(t *testing.T, privateKey *rsa.PrivateKey, lifetime time.Duration, claims map[string]interface{}) string {
	token := jwt.New()

	now := time.Now()
	if err := token.Set(jwt.IssuedAtKey, now); err != nil {
		t.Fatalf("failed to set iat: %v", err)
	}
	if err := token.Set(jwt.ExpirationKey, now.Add(lifetime)); err != nil {
		t.Fatalf("failed to set exp: %v", err)
	}
	for key, value := range claims {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("failed to set claim %s: %v", key, err)
		}
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to create JWK from private key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-key-1"); err != nil {
		t.Fatalf("failed to set key ID: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set algorithm: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

func TestJWTValidator(t *testing.T) {
	ctx := context.Background()

	privateKey, jwksURL, cleanup := setupTestJWKS(t)
	defer cleanup()

	newValidator := func(t *testing.T) *JWTValidator {
		validator, err := NewJWTValidator(ctx, JWTValidatorConfig{
			Issuer:  "https://test-issuer.example.com",
			JWKSURL: jwksURL,
		})
		if err != nil {
			t.Fatalf("failed to create validator: %v", err)
		}
		return validator
	}

	t.Run("validates valid JWT successfully", func(t *testing.T) {
		validator := newValidator(t)

		tokenString := createTestJWT(t, privateKey, time.Hour, map[string]interface{}{
			"iss": "https://test-issuer.example.com",
			"sub": "user@example.com",
			"aud": "test",
			"azp": "test",
		})

		result, err := validator.Validate(ctx, tokenString)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		if result.Subject != "user@example.com" {
			t.Errorf("expected subject 'user@example.com', got %q", result.Subject)
		}
		if result.Issuer != "https://test-issuer.example.com" {
			t.Errorf("expected issuer 'https://test-issuer.example.com', got %q", result.Issuer)
		}
		if result.Claims["azp"] != "test" {
			t.Errorf("expected azp claim 'test', got %v", result.Claims["azp"])
		}
		if result.Claims["aud"] != "test" {
			t.Errorf("expected scalar aud claim 'test', got %v", result.Claims["aud"])
		}
	})

	t.Run("rejects expired JWT", func(t *testing.T) {
		validator := newValidator(t)

		tokenString := createTestJWT(t, privateKey, -time.Hour, map[string]interface{}{
			"iss": "https://test-issuer.example.com",
			"sub": "user@example.com",
		})

		_, err := validator.Validate(ctx, tokenString)
		if err == nil {
			t.Fatal("expected validation to fail for expired token")
		}
		if !errors.Is(err, ErrExpiredToken) {
			t.Errorf("expected ErrExpiredToken, got %v", err)
		}
	})

	t.Run("rejects JWT from wrong issuer", func(t *testing.T) {
		validator := newValidator(t)

		tokenString := createTestJWT(t, privateKey, time.Hour, map[string]interface{}{
			"iss": "https://other-issuer.example.com",
			"sub": "user@example.com",
		})

		_, err := validator.Validate(ctx, tokenString)
		if err == nil {
			t.Fatal("expected validation to fail for wrong issuer")
		}
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		validator := newValidator(t)

		_, err := validator.Validate(ctx, "not.a.jwt")
		if err == nil {
			t.Fatal("expected validation to fail for malformed token")
		}
	})
}
