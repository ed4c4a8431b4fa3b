// Package clients provides the cross-cutting pieces shared by service clients:
// the generic Client interface, authentication providers (basic, bearer token
// and API key), a retry/backoff policy (RetryInfo), a circuit breaker, and the
// ClientOptions builder that bundles them. It has no subpackages; concrete
// clients such as rest.Client build on these types.
package clients
