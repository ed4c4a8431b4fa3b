// Package auth provides the route-level authentication filter contract used
// by the turbo router.
package auth

import "net/http"

// Authenticator wraps an http.Handler with an authentication check.
// Apply returns a handler that performs the check before delegating to next.
type Authenticator interface {
	Apply(next http.Handler) http.Handler
}

// AuthFunc adapts a plain function to the Authenticator interface.
type AuthFunc func(next http.Handler) http.Handler

// Apply implements Authenticator.
func (f AuthFunc) Apply(next http.Handler) http.Handler {
	return f(next)
}
