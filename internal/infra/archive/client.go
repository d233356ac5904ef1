// Package archive reads historical fills, public trades and candles from the
// off-chain HTTP archives.
package archive

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
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

const (
	component = "archive"

	// DefaultFillsURL serves per-account fill history and perp stats.
	DefaultFillsURL = "https://event-history-api.herokuapp.com"
	// DefaultMarketDataURL serves public trades and TradingView candles.
	DefaultMarketDataURL = "https://serum-history.herokuapp.com"

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 2
	defaultRetryDelay = 250 * time.Millisecond
	maxBody           = 8 << 20
)

// Options configures a Client.
type Options struct {
	FillsURL      string
	MarketDataURL string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	HTTPClient    *http.Client
	Logger        *log.Logger
}

// Client talks to the fill and market-data archives.
type Client struct {
	fillsURL      string
	marketDataURL string
	maxRetries    int
	retryDelay    time.Duration
	http          *http.Client
	logger        *log.Logger
	metrics       *archiveMetrics
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	fillsURL, err := baseURL(opts.FillsURL, DefaultFillsURL)
	if err != nil {
		return nil, err
	}
	marketDataURL, err := baseURL(opts.MarketDataURL, DefaultMarketDataURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		fillsURL:      fillsURL,
		marketDataURL: marketDataURL,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		http:          httpClient,
		logger:        logger,
		metrics:       newArchiveMetrics(),
	}, nil
}

func baseURL(raw, fallback string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errs.Config(fmt.Sprintf("archive url %q must be an absolute http(s) url", raw))
	}
	return strings.TrimRight(raw, "/"), nil
}

// SpotFills returns the archived fills of one open-orders sub-account. A
// sub-account the archive has never seen yields no fills.
func (c *Client) SpotFills(ctx context.Context, openOrders solana.PublicKey) ([]schema.Fill, error) {
	var env envelope[spotFillRecord]
	if err := c.getJSON(ctx, "spot_fills", c.fillsURL+"/trades/open_orders/"+openOrders.String(), &env); err != nil {
		return nil, err
	}
	out := make([]schema.Fill, 0, len(env.Data))
	for _, r := range env.Data {
		out = append(out, r.fill())
	}
	return out, nil
}

// PerpFills returns the archived perp fills in which account was maker or
// taker, each seen from account's side.
func (c *Client) PerpFills(ctx context.Context, account solana.PublicKey) ([]schema.Fill, error) {
	var env envelope[perpFillRecord]
	if err := c.getJSON(ctx, "perp_fills", c.fillsURL+"/perp_trades/"+account.String(), &env); err != nil {
		return nil, err
	}
	out := make([]schema.Fill, 0, len(env.Data))
	for _, r := range env.Data {
		out = append(out, r.fill(account))
	}
	return out, nil
}

// Trades returns recent public trades on market, newest first. An archive
// error status yields no trades.
func (c *Client) Trades(ctx context.Context, market solana.PublicKey) ([]Trade, error) {
	var env envelope[tradeRecord]
	if err := c.getJSON(ctx, "trades", c.marketDataURL+"/trades/address/"+market.String(), &env); err != nil {
		return nil, err
	}
	if env.Status == "error" {
		return []Trade{}, nil
	}
	out := make([]Trade, 0, len(env.Data))
	for _, r := range env.Data {
		out = append(out, Trade{
			ID:    string(r.OrderID),
			Price: r.Price,
			Size:  r.Size,
			Side:  parseSide(r.Side),
			Time:  r.Time.Time,
		})
	}
	return out, nil
}

// Candles returns OHLCV bars for symbol between from and to. resolution is
// passed through in TradingView notation ("1", "60", "1D").
func (c *Client) Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	var hist tvHistory
	if err := c.getJSON(ctx, "candles", c.marketDataURL+"/tv/history?"+q.Encode(), &hist); err != nil {
		return nil, err
	}
	switch hist.Status {
	case "", "ok":
		return hist.candles(), nil
	case "no_data":
		return []Candle{}, nil
	default:
		return nil, errs.Decode(component, fmt.Sprintf("candles for %s: status %q", symbol, hist.Status))
	}
}

// PerpVolume returns the archive's rolling volume figure for a perp market.
func (c *Client) PerpVolume(ctx context.Context, market solana.PublicKey) (decimal.Decimal, error) {
	var stats volumeStats
	if err := c.getJSON(ctx, "perp_volume", c.fillsURL+"/stats/perps/"+market.String(), &stats); err != nil {
		return decimal.Zero, err
	}
	return stats.Data.Volume, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func (c *Client) getJSON(ctx context.Context, operation, target string, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.record(ctx, operation, time.Since(start), err) }()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.get(ctx, target)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Printf("%s: retrying in %s: %v", operation, next, err)
		}),
	)
	if err != nil {
		var opts []errs.Option
		var se *statusError
		if errors.As(err, &se) {
			if se.status == http.StatusNotFound {
				return nil
			}
			opts = append(opts, errs.WithHTTP(se.status))
		}
		return errs.Transport(component, err, append(opts, errs.WithField("operation", operation))...)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Decode(component, fmt.Sprintf("%s response", operation), errs.WithCause(err))
	}
	return nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		se := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, se
		}
		return nil, backoff.Permanent(se)
	}
	return body, nil
}
