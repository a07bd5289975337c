// Package trust verifies inbound JWT credentials so that verified claims can
// be exposed to the authorization engine as host metadata, the same way an
// upstream jwt_authn filter would.
package trust

import (
	"context"
	"errors"
	"time"
)

// Common validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Validator validates a bearer credential and returns claims about the
// authenticated subject
type Validator interface {
	// Validate validates the raw token and returns the validation result.
	// Returns an error if the credential is invalid or validation fails.
	Validate(ctx context.Context, token string) (*Result, error)
}

// Result contains the validated information about the subject
type Result struct {
	// Subject is the unique identifier of the authenticated subject
	Subject string

	// Issuer is the issuer of the credential (e.g., IdP URL)
	Issuer string

	// Claims are all claims from the credential, standard and private,
	// keyed by claim name
	Claims map[string]interface{}

	// ExpiresAt is when the validated credential expires
	ExpiresAt time.Time

	// IssuedAt is when the credential was issued
	IssuedAt time.Time

	// Audience is the intended audience of the credential
	Audience []string
}
