package clients

// ClientOptions holds the cross-cutting policies a Client applies to every
// request: authentication, retry backoff, and circuit breaking.
type ClientOptions struct {
	// Auth is the authentication mechanism applied to outbound requests.
	Auth AuthProvider
	// RetryPolicy holds the retry/backoff configuration for the client.
	RetryPolicy *RetryInfo
	// CircuitBreaker holds the circuit breaker configuration for the client.
	CircuitBreaker *CircuitBreaker
}

// OptionsBuilder builds a ClientOptions fluently. Embedded by
// rest.ClientOptsBuilder so REST-specific options compose with these.
type OptionsBuilder struct {
	opts *ClientOptions
}

// NewOptionsBuilder returns an OptionsBuilder with no auth, retry, or
// circuit breaker configured.
func NewOptionsBuilder() *OptionsBuilder {
	return &OptionsBuilder{opts: &ClientOptions{}}
}

// WithAuth sets the authentication provider.
func (b *OptionsBuilder) WithAuth(auth AuthProvider) *OptionsBuilder {
	b.opts.Auth = auth
	return b
}

// WithRetry sets the retry/backoff policy.
func (b *OptionsBuilder) WithRetry(retry *RetryInfo) *OptionsBuilder {
	b.opts.RetryPolicy = retry
	return b
}

// WithCircuitBreaker sets the circuit breaker.
func (b *OptionsBuilder) WithCircuitBreaker(cb *CircuitBreaker) *OptionsBuilder {
	b.opts.CircuitBreaker = cb
	return b
}

// Build returns the assembled ClientOptions.
func (b *OptionsBuilder) Build() *ClientOptions {
	return b.opts
}
