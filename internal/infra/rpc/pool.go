package rpc

import (
	"context"
	"io"
	"log"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachpo/mangogate/errs"
)

// DefaultRotationInterval is how often the pool re-selects its endpoint.
const DefaultRotationInterval = 20 * time.Second

// PoolOptions configures an EndpointPool.
type PoolOptions struct {
	// Initial is the endpoint used until the first rotation.
	Initial string
	// Candidates are the endpoints rotation chooses from.
	Candidates []string
	// PinnedPatterns disable rotation when the active host contains any of them.
	PinnedPatterns []string
	// NewClient builds the client handle for an endpoint.
	NewClient func(endpoint string) (*Client, error)
	// Intn returns a uniform random integer in [0, n). Defaults to math/rand/v2.
	Intn   func(n int) int
	Logger *log.Logger
}

// EndpointPool owns the live client handle and swaps it on rotation. Readers
// load the handle per call, so in-flight calls finish on the handle they started with.
type EndpointPool struct {
	current    atomic.Pointer[Client]
	candidates []string
	pinned     []string
	newClient  func(string) (*Client, error)
	intn       func(int) int
	logger     *log.Logger
	metrics    *rpcMetrics

	mu      sync.Mutex
	clients map[string]*Client
}

// NewEndpointPool builds the pool and the initial client handle.
func NewEndpointPool(opts PoolOptions) (*EndpointPool, error) {
	if opts.NewClient == nil {
		return nil, errs.Config("endpoint pool requires a client factory")
	}
	initial := strings.TrimSpace(opts.Initial)
	candidates := make([]string, 0, len(opts.Candidates))
	for _, c := range opts.Candidates {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}
	if initial == "" {
		if len(candidates) == 0 {
			return nil, errs.Config("endpoint pool requires an initial endpoint or candidates")
		}
		initial = candidates[0]
	}
	pinned := make([]string, 0, len(opts.PinnedPatterns))
	for _, p := range opts.PinnedPatterns {
		if trimmed := strings.ToLower(strings.TrimSpace(p)); trimmed != "" {
			pinned = append(pinned, trimmed)
		}
	}
	intn := opts.Intn
	if intn == nil {
		intn = rand.IntN
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &EndpointPool{
		candidates: candidates,
		pinned:     pinned,
		newClient:  opts.NewClient,
		intn:       intn,
		logger:     logger,
		metrics:    newRPCMetrics(),
		clients:    make(map[string]*Client),
	}
	client, err := p.clientFor(initial)
	if err != nil {
		return nil, err
	}
	p.current.Store(client)
	return p, nil
}

// Current returns the live client handle.
func (p *EndpointPool) Current() *Client {
	return p.current.Load()
}

// Pinned reports whether the active endpoint matches a pinned pattern.
func (p *EndpointPool) Pinned() bool {
	return p.isPinned(p.Current().Endpoint())
}

func (p *EndpointPool) isPinned(endpoint string) bool {
	host := strings.ToLower(endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = strings.ToLower(u.Host)
	}
	for _, pattern := range p.pinned {
		if strings.Contains(host, pattern) {
			return true
		}
	}
	return false
}

// Rotate selects a uniformly random candidate and swaps the live handle. It is a
// no-op when the active endpoint is pinned or there are no candidates. A candidate
// whose client cannot be built is skipped and the current handle is kept.
func (p *EndpointPool) Rotate() {
	current := p.Current()
	if p.isPinned(current.Endpoint()) || len(p.candidates) == 0 {
		p.metrics.recordRotation(current.Endpoint(), current.Endpoint(), false)
		return
	}
	next := p.candidates[p.intn(len(p.candidates))]
	client, err := p.clientFor(next)
	if err != nil {
		p.logger.Printf("endpoint rotation skipped %s: %v", next, err)
		return
	}
	p.current.Store(client)
	p.metrics.recordRotation(current.Endpoint(), next, true)
	if next != current.Endpoint() {
		p.logger.Printf("endpoint rotated: %s -> %s", current.Endpoint(), next)
	}
}

// Run rotates on every tick of interval until ctx is cancelled.
func (p *EndpointPool) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Rotate()
		}
	}
}

// clientFor reuses one client per endpoint so each keeps its own rate limiter.
func (p *EndpointPool) clientFor(endpoint string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[endpoint]; ok {
		return client, nil
	}
	client, err := p.newClient(endpoint)
	if err != nil {
		return nil, err
	}
	p.clients[endpoint] = client
	return client, nil
}
