// Package rpc provides the ledger read transport: a batched JSON-RPC client and the
// rotating endpoint pool that owns the live client handle.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

const (
	component = "rpc"

	defaultCommitment     = "processed"
	defaultTimeout        = 10 * time.Second
	defaultChunkSize      = 100
	defaultMaxRetries     = 3
	defaultRatePerSecond  = 10
	defaultBurst          = 5
	maxErrorBody          = 4 << 10
	maxRetryAfter         = 30 * time.Second
	initialRetryInterval  = 200 * time.Millisecond
	maxRetryInterval      = 5 * time.Second
	methodMultipleAccount = "getMultipleAccounts"
)

// Options configures a Client bound to one endpoint.
type Options struct {
	Endpoint              string
	WSEndpoint            string
	Commitment            string
	Timeout               time.Duration
	RequestsPerSecond     float64
	Burst                 int
	MaxRetries            int
	MaxAccountsPerRequest int
	HTTPClient            *http.Client
	Logger                *log.Logger
}

// Client issues JSON-RPC calls against a single endpoint. Typed calls go through
// the solana-go client, whose transport is wrapped with rate limiting and retries.
type Client struct {
	endpoint   string
	wsEndpoint string
	commitment string
	chunkSize  int
	maxRetries int
	raw        jsonrpc.RPCClient
	api        *solanarpc.Client
	limiter    *rate.Limiter
	logger     *log.Logger
	metrics    *rpcMetrics
}

// NewClient constructs a Client for opts.Endpoint.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errs.Config("rpc endpoint required")
	}
	wsEndpoint := strings.TrimSpace(opts.WSEndpoint)
	if wsEndpoint == "" {
		derived, err := websocketURL(endpoint)
		if err != nil {
			return nil, errs.Config("invalid rpc endpoint", errs.WithCause(err), errs.WithField("endpoint", endpoint))
		}
		wsEndpoint = derived
	}
	commitment := strings.TrimSpace(opts.Commitment)
	if commitment == "" {
		commitment = defaultCommitment
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	chunk := opts.MaxAccountsPerRequest
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		endpoint:   endpoint,
		wsEndpoint: wsEndpoint,
		commitment: commitment,
		chunkSize:  chunk,
		maxRetries: retries,
		raw:        jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{HTTPClient: statusHTTP{client: httpClient}}),
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
		metrics:    newRPCMetrics(),
	}
	c.api = solanarpc.NewWithCustomRPCClient(retryingCaller{c: c})
	return c, nil
}

// Endpoint returns the HTTP endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// WSEndpoint returns the websocket URL paired with the HTTP endpoint.
func (c *Client) WSEndpoint() string { return c.wsEndpoint }

// Commitment returns the commitment level used for reads.
func (c *Client) Commitment() string { return c.commitment }

// GetMultipleAccounts reads every key, chunking into getMultipleAccounts calls that
// are sent together in one batched HTTP request. The result is aligned with keys;
// addresses without an account come back with Absent set.
func (c *Client) GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error) {
	if len(keys) == 0 {
		return []schema.RawAccount{}, nil
	}
	unique := make([]solana.PublicKey, 0, len(keys))
	seen := make(map[solana.PublicKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	chunks := chunkKeys(unique, c.chunkSize)
	requests := make(jsonrpc.RPCRequests, len(chunks))
	for i, chunk := range chunks {
		requests[i] = jsonrpc.NewRequest(methodMultipleAccount, chunk, solanarpc.M{
			"encoding":   solana.EncodingBase64,
			"commitment": c.commitment,
		})
	}
	responses, err := c.api.RPCCallBatch(ctx, requests)
	if err != nil {
		return nil, err
	}

	byID := responses.AsMap()
	byKey := make(map[solana.PublicKey]schema.RawAccount, len(unique))
	for i, chunk := range chunks {
		resp, ok := byID[i]
		if !ok {
			return nil, errs.Transport(component, fmt.Errorf("rpc batch missing response for request %d", i), errs.WithField("endpoint", c.endpoint))
		}
		if resp.Error != nil {
			return nil, rpcErr(c.endpoint, methodMultipleAccount, resp.Error)
		}
		var result solanarpc.GetMultipleAccountsResult
		if err := resp.GetObject(&result); err != nil {
			return nil, errs.Transport(component, fmt.Errorf("decode %s result: %w", methodMultipleAccount, err), errs.WithField("endpoint", c.endpoint))
		}
		if len(result.Value) != len(chunk) {
			return nil, errs.Transport(component, fmt.Errorf("%s returned %d accounts for %d keys", methodMultipleAccount, len(result.Value), len(chunk)), errs.WithField("endpoint", c.endpoint))
		}
		for j, key := range chunk {
			byKey[key] = rawAccount(key, result.Value[j])
		}
	}

	out := make([]schema.RawAccount, len(keys))
	absent := 0
	for i, key := range keys {
		out[i] = byKey[key]
		if out[i].Absent {
			absent++
		}
	}
	c.metrics.recordAccounts(ctx, len(keys), absent)
	return out, nil
}

// GetProgramAccounts lists accounts owned by program that match every filter.
func (c *Client) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...MemcmpFilter) ([]schema.RawAccount, error) {
	opts := &solanarpc.GetProgramAccountsOpts{
		Commitment: solanarpc.CommitmentType(c.commitment),
		Encoding:   solana.EncodingBase64,
	}
	for _, f := range filters {
		opts.Filters = append(opts.Filters, f.rpcFilter())
	}
	accounts, err := c.api.GetProgramAccountsWithOpts(ctx, program, opts)
	if err != nil {
		return nil, err
	}
	out := make([]schema.RawAccount, 0, len(accounts))
	for _, acct := range accounts {
		if acct == nil || acct.Account == nil {
			continue
		}
		out = append(out, rawAccount(acct.Pubkey, acct.Account))
	}
	return out, nil
}

// GetSignatureStatuses reports the status of each signature; unknown signatures map to nil.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*solanarpc.SignatureStatusesResult, error) {
	sigs := make([]solana.Signature, len(signatures))
	for i, s := range signatures {
		sig, err := solana.SignatureFromBase58(s)
		if err != nil {
			return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("invalid signature"), errs.WithCause(err), errs.WithField("signature", s))
		}
		sigs[i] = sig
	}
	result, err := c.api.GetSignatureStatuses(ctx, true, sigs...)
	if errors.Is(err, solanarpc.ErrNotFound) {
		return make([]*solanarpc.SignatureStatusesResult, len(signatures)), nil
	}
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// retryingCaller routes the typed solana-go client through the client's rate
// limiter, retry budget and request metrics.
type retryingCaller struct {
	c *Client
}

func (r retryingCaller) CallForInto(ctx context.Context, out any, method string, params []any) error {
	return r.c.do(ctx, method, func(ctx context.Context) error {
		return r.c.raw.CallForInto(ctx, out, method, params)
	})
}

func (r retryingCaller) CallWithCallback(ctx context.Context, method string, params []any, callback func(*http.Request, *http.Response) error) error {
	return r.c.do(ctx, method, func(ctx context.Context) error {
		return r.c.raw.CallWithCallback(ctx, method, params, callback)
	})
}

func (r retryingCaller) CallBatch(ctx context.Context, requests jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error) {
	if len(requests) == 0 {
		return nil, errors.New("empty rpc batch")
	}
	var responses jsonrpc.RPCResponses
	err := r.c.do(ctx, requests[0].Method, func(ctx context.Context) error {
		var err error
		responses, err = r.c.raw.CallBatch(ctx, requests)
		return err
	})
	return responses, err
}

// do runs call under the rate limiter, retrying transport failures and
// retryable HTTP statuses with exponential backoff.
func (c *Client) do(ctx context.Context, method string, call func(ctx context.Context) error) error {
	start := time.Now()
	err := c.retry(ctx, method, call)
	c.metrics.recordRequest(ctx, method, c.endpoint, time.Since(start), err)
	return err
}

func (c *Client) retry(ctx context.Context, method string, call func(ctx context.Context) error) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = initialRetryInterval
	backoffCfg.MaxInterval = maxRetryInterval

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			var se *statusError
			if errors.As(lastErr, &se) && se.retryAfter > 0 {
				sleep = se.retryAfter
			}
			if sleep == backoff.Stop {
				break
			}
			c.metrics.recordRetry(ctx, method, c.endpoint)
			select {
			case <-ctx.Done():
				return errs.Transport(component, ctx.Err(), errs.WithField("endpoint", c.endpoint))
			case <-time.After(sleep):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.Transport(component, fmt.Errorf("rate limiter: %w", err), errs.WithField("endpoint", c.endpoint))
		}
		err := call(ctx)
		if err == nil {
			return nil
		}
		var rpcE *jsonrpc.RPCError
		if errors.As(err, &rpcE) {
			return rpcErr(c.endpoint, method, rpcE)
		}
		lastErr = err
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Printf("%s attempt %d against %s failed: %v", method, attempt+1, c.endpoint, err)
	}

	opts := []errs.Option{errs.WithField("endpoint", c.endpoint), errs.WithField("method", method)}
	var se *statusError
	if errors.As(lastErr, &se) {
		opts = append(opts, errs.WithHTTP(se.status))
		if se.status == http.StatusTooManyRequests {
			opts = append(opts, errs.WithCanonicalCode(errs.CanonicalRateLimited))
		}
	}
	return errs.Transport(component, lastErr, opts...)
}

func rpcErr(endpoint, method string, e *jsonrpc.RPCError) error {
	return errs.Transport(component, fmt.Errorf("%s: rpc error (%d): %s", method, e.Code, e.Message),
		errs.WithRawCode(strconv.Itoa(e.Code)),
		errs.WithRawMessage(e.Message),
		errs.WithField("endpoint", endpoint))
}

type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rpc status %d: %s", e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= http.StatusInternalServerError
}

// statusHTTP fails non-200 responses with a statusError before the JSON-RPC
// layer reads the body, so retries see the status and Retry-After.
type statusHTTP struct {
	client *http.Client
}

func (h statusHTTP) Do(req *http.Request) (*http.Response, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	if delay, ok := retryAfterDelay(resp.Header.Get("Retry-After")); ok {
		se.retryAfter = min(delay, maxRetryAfter)
	}
	return nil, se
}

func (h statusHTTP) CloseIdleConnections() { h.client.CloseIdleConnections() }

func retryAfterDelay(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0), true
	}
	return 0, false
}

// websocketURL derives the pubsub URL the way the reference clients do:
// switch the scheme and bump an explicit port by one.
func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("invalid port %q", port)
		}
		u.Host = u.Hostname() + ":" + strconv.Itoa(n+1)
	}
	return u.String(), nil
}
