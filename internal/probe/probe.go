// Package probe provides observation hooks for the check request path.
package probe

import (
	"context"

	"github.com/alechenninger/tollgate/internal/engine"
)

// CheckObserver creates request-scoped probes for ext_authz checks
type CheckObserver interface {
	// CheckStarted is called when a check request begins. The returned
	// context carries any request-scoped values (e.g. a decision id) and
	// the probe observes the rest of the check.
	CheckStarted(ctx context.Context, authority, method, path string) (context.Context, CheckProbe)
}

// CheckProbe observes a single check request
type CheckProbe interface {
	// CredentialResolved is called when the engine resolved a credential
	CredentialResolved(result *engine.Result)

	// CheckRejected is called when the request is denied before reaching
	// the backend
	CheckRejected(err error)

	// BackendDecided is called with the backend's verdict
	BackendDecided(authorized bool, reason string)

	// BackendFailed is called when the backend call itself failed
	BackendFailed(err error)

	// End is called when the check completes
	End()
}

// NopObserver discards all events
type NopObserver struct{}

func (NopObserver) CheckStarted(ctx context.Context, authority, method, path string) (context.Context, CheckProbe) {
	return ctx, nopProbe{}
}

type nopProbe struct{}

func (nopProbe) CredentialResolved(*engine.Result) {}
func (nopProbe) CheckRejected(error)               {}
func (nopProbe) BackendDecided(bool, string)       {}
func (nopProbe) BackendFailed(error)               {}
func (nopProbe) End()                              {}
