// Package apiclient implements the Unified API Client (spec.md §4.3): a
// single outbound HTTP entry point for every external provider call, with
// cache consultation, key-pool-backed retry across credentials, and a
// fire-and-forget raw-response capture hook feeding the Storage Policy
// Engine.
package apiclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/trailcast/orchestrator/cache"
	"github.com/trailcast/orchestrator/keypool"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/orcherr"
	"github.com/trailcast/orchestrator/rest"
	"github.com/trailcast/orchestrator/uuid"
)

var logger = l3.Get()

// Options enumerates the per-call knobs spec.md §4.3 names.
type Options struct {
	StoreRaw   bool
	CacheTTL   time.Duration // zero disables the cache path
	Timeout    time.Duration
	MaxRetries int

	// RefreshThreshold is the cache refresh-ahead fraction (spec.md §4.2);
	// defaults to 0.2 (refresh once 20% of TTL remains) when zero.
	RefreshThreshold float64
}

// Result is what a successful Call returns.
type Result struct {
	Body          []byte
	RawResponseID string
	CacheHit      bool
}

// RawCaptureFunc is invoked, fire-and-forget, with every completed HTTP
// exchange (including error outcomes) when Options.StoreRaw is true. It is
// called synchronously before Call returns, satisfying spec.md §4.3's
// happens-before ordering requirement, but the implementation (normally
// the Storage Policy Engine's decide+enqueue path) must not block on
// network or disk I/O for long.
type RawCaptureFunc func(ctx context.Context, rec *model.RawAPIResponseRecord) (rawResponseID string)

// ProviderEndpoint resolves a (provider, endpoint) pair to a request URL
// and HTTP method. Supplied by the caller (normally built from Config)
// since the base URLs of each upstream provider are operator-configured.
type ProviderEndpoint func(provider, endpoint string, params model.OpaqueBag) (url, method string, err error)

// Client is the Unified API Client.
type Client interface {
	Call(ctx context.Context, provider, endpoint string, params model.OpaqueBag, opts Options) (*Result, error)
}

type client struct {
	http     *rest.Client
	keys     keypool.Pool
	cache    cache.Cache
	resolve  ProviderEndpoint
	onRaw    RawCaptureFunc
	cacheTTL time.Duration
}

// New constructs a Unified API Client. resolve maps (provider, endpoint)
// to a concrete URL/method; onRaw may be nil, in which case StoreRaw is a
// no-op (useful for tests that don't exercise the storage pipeline).
func New(keys keypool.Pool, c cache.Cache, resolve ProviderEndpoint, onRaw RawCaptureFunc) Client {
	return &client{
		http:    rest.NewClient(),
		keys:    keys,
		cache:   c,
		resolve: resolve,
		onRaw:   onRaw,
	}
}

const defaultRefreshThreshold = 0.2

// Fingerprint computes the stable cache key for a (provider, endpoint,
// params) triple: hash(provider || "\x00" || endpoint || "\x00" ||
// canonical_json(params)). encoding/json already sorts map keys
// alphabetically, which is sufficient canonicalization for the
// string-keyed OpaqueBag values this system passes as params.
func Fingerprint(provider, endpoint string, params model.OpaqueBag) string {
	var canon []byte
	if params != nil {
		canon, _ = json.Marshal(params.Map())
	}
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *client) Call(ctx context.Context, provider, endpoint string, params model.OpaqueBag, opts Options) (*Result, error) {
	fp := Fingerprint(provider, endpoint, params)

	if opts.CacheTTL > 0 && c.cache != nil {
		threshold := opts.RefreshThreshold
		if threshold <= 0 {
			threshold = defaultRefreshThreshold
		}
		refresh := func(rctx context.Context) ([]byte, error) {
			res, err := c.network(rctx, provider, endpoint, params, opts)
			if err != nil {
				return nil, err
			}
			return res.Body, nil
		}
		if cached, ok, err := c.cache.Get(ctx, fp, opts.CacheTTL, threshold, refresh); err != nil {
			logger.WarnF("apiclient: cache get failed for %s/%s: %v", provider, endpoint, err)
		} else if ok {
			return &Result{Body: cached, CacheHit: true}, nil
		}
	}

	res, err := c.network(ctx, provider, endpoint, params, opts)
	if err != nil {
		return nil, err
	}
	if opts.CacheTTL > 0 && c.cache != nil {
		if err := c.cache.Set(ctx, fp, res.Body, opts.CacheTTL); err != nil {
			logger.WarnF("apiclient: cache set failed for %s/%s: %v", provider, endpoint, err)
		}
	}
	return res, nil
}

// network issues the outbound HTTP request, rotating keys across retries
// and capturing a raw response record for every exchange when requested.
func (c *client) network(ctx context.Context, provider, endpoint string, params model.OpaqueBag, opts Options) (*Result, error) {
	url, method, err := c.resolve(provider, endpoint, params)
	if err != nil {
		return nil, orcherr.New(orcherr.KindParseError, "apiclient.resolve", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		key, kerr := c.keys.Acquire(provider)
		if kerr != nil {
			return nil, kerr
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		body, status, execErr := c.doOnce(callCtx, url, method, key.Secret, params)
		elapsed := time.Since(start)
		cancel()

		kind := orcherr.Kind("")
		switch {
		case execErr != nil && isTimeout(execErr):
			kind = orcherr.KindTimeout
			c.keys.Report(key, model.KeyOutcomeTransientError)
		case execErr != nil:
			kind = orcherr.KindTransport
			c.keys.Report(key, model.KeyOutcomeTransientError)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			kind = orcherr.KindAuthFailed
			c.keys.Report(key, model.KeyOutcomeAuthFailed)
		case status == http.StatusTooManyRequests:
			kind = orcherr.KindRateLimited
			c.keys.Report(key, model.KeyOutcomeRateLimited)
		case status >= 500:
			kind = orcherr.KindTransport
			c.keys.Report(key, model.KeyOutcomeTransientError)
		default:
			c.keys.Report(key, model.KeyOutcomeOK)
		}

		if opts.StoreRaw {
			c.captureRaw(ctx, provider, endpoint, url, params, body, status, elapsed)
		}

		if kind == "" {
			return &Result{Body: body}, nil
		}

		lastErr = orcherr.New(kind, "apiclient.network", execErr)
		if !kind.Retryable() || attempt == maxRetries {
			break
		}
		logger.WarnF("apiclient: attempt %d/%d for %s/%s failed (%s), retrying", attempt+1, maxRetries+1, provider, endpoint, kind)
	}
	return nil, lastErr
}

func (c *client) doOnce(ctx context.Context, url, method, apiKey string, params model.OpaqueBag) (body []byte, status int, err error) {
	req, err := c.http.NewRequest(url, method)
	if err != nil {
		return nil, 0, err
	}
	req, err = req.WithContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	req.AddHeader("X-API-Key", apiKey)
	if params != nil {
		for _, k := range params.Keys() {
			v, _ := params.Get(k)
			req.AddQueryParam(k, fmt.Sprintf("%v", v))
		}
	}

	res, err := c.http.Execute(req)
	if err != nil {
		return nil, 0, err
	}
	body, err = res.Body()
	if err != nil {
		return nil, res.StatusCode(), err
	}
	return body, res.StatusCode(), nil
}

func (c *client) captureRaw(ctx context.Context, provider, endpoint, url string, params model.OpaqueBag, body []byte, status int, elapsed time.Duration) {
	if c.onRaw == nil {
		return
	}
	rec := &model.RawAPIResponseRecord{
		ID:                newID(),
		Provider:          provider,
		Endpoint:          endpoint,
		RequestURL:        url,
		Params:            params,
		ResponseSizeBytes: int64(len(body)),
		StatusCode:        status,
		ExecutionTimeMs:   float64(elapsed.Microseconds()) / 1000.0,
		CreatedAt:         time.Now(),
	}
	if body != nil {
		resp := model.NewBag()
		_ = resp.Set("raw_body_base64", body)
		rec.Response = resp
	}
	c.onRaw(ctx, rec)
}

func newID() string {
	id, err := uuid.V4()
	if err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return id.String()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return err == context.DeadlineExceeded
}
