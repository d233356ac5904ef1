// Package signer submits signed order intents to the transaction relay and
// confirms the resulting signatures on chain.
package signer

import (
	"bytes"
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
	"github.com/google/uuid"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

const (
	component = "signer"

	submitPath        = "/v1/transactions"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
	maxBody           = 1 << 20

	headerPubkey    = "X-Signer-Pubkey"
	headerSignature = "X-Signer-Signature"
	headerRequestID = "X-Request-Id"
)

// Action names the instruction the relay should build.
type Action string

const (
	ActionPlaceSpot  Action = "placeSpotOrder"
	ActionPlacePerp  Action = "placePerpOrder"
	ActionCancelSpot Action = "cancelSpotOrder"
	ActionCancelPerp Action = "cancelPerpOrder"
)

// Confirmation waits for a signature to land.
type Confirmation interface {
	Confirm(ctx context.Context, signature string) error
}

// Options configures a Client.
type Options struct {
	RelayURL   string
	Key        solana.PrivateKey
	Group      solana.PublicKey
	Account    solana.PublicKey
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// Confirmer is optional; submissions return unconfirmed without one.
	Confirmer  Confirmation
	HTTPClient *http.Client
	Logger     *log.Logger
	Now        func() time.Time
}

// Client posts signed instruction intents to the relay.
type Client struct {
	relayURL   string
	key        solana.PrivateKey
	group      solana.PublicKey
	account    solana.PublicKey
	maxRetries int
	retryDelay time.Duration
	confirmer  Confirmation
	http       *http.Client
	logger     *log.Logger
	now        func() time.Time
	metrics    *signerMetrics
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.RelayURL), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errs.Config("invalid signer relay url", errs.WithField("url", raw))
	}
	if len(opts.Key) != 64 {
		return nil, errs.Config("signer key required")
	}
	if opts.Account.IsZero() {
		return nil, errs.Config("margin account required for signing")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		relayURL:   raw,
		key:        opts.Key,
		group:      opts.Group,
		account:    opts.Account,
		maxRetries: retries,
		retryDelay: delay,
		confirmer:  opts.Confirmer,
		http:       httpClient,
		logger:     logger,
		now:        now,
		metrics:    newSignerMetrics(),
	}, nil
}

// Owner returns the wallet public key.
func (c *Client) Owner() solana.PublicKey { return c.key.PublicKey() }

// PlaceSpotOrder submits a spot new-order intent.
func (c *Client) PlaceSpotOrder(ctx context.Context, p schema.SpotOrderParams) (schema.Submission, error) {
	return c.submit(ctx, ActionPlaceSpot, spotPlaceParams{
		Market:         p.Market.String(),
		MarketIndex:    p.MarketIndex,
		OpenOrders:     keyOrEmpty(p.OpenOrders),
		Side:           string(p.Side),
		LimitPriceLots: strconv.FormatInt(p.LimitPriceLots, 10),
		MaxBaseLots:    strconv.FormatInt(p.MaxBaseLots, 10),
		MaxNativeQuote: strconv.FormatInt(p.MaxNativeQuote, 10),
		OrderType:      string(p.TimeInForce),
		ClientID:       strconv.FormatUint(p.ClientID, 10),
	})
}

// PlacePerpOrder submits a perp place-order intent.
func (c *Client) PlacePerpOrder(ctx context.Context, p schema.PerpOrderParams) (schema.Submission, error) {
	return c.submit(ctx, ActionPlacePerp, perpPlaceParams{
		Market:       p.Market.String(),
		MarketIndex:  p.MarketIndex,
		Side:         string(p.Side),
		PriceLots:    strconv.FormatInt(p.PriceLots, 10),
		QuantityLots: strconv.FormatInt(p.QuantityLots, 10),
		OrderType:    string(p.TimeInForce),
		ClientID:     strconv.FormatUint(p.ClientID, 10),
		ReduceOnly:   p.ReduceOnly,
	})
}

// CancelSpotOrder submits a spot cancel intent.
func (c *Client) CancelSpotOrder(ctx context.Context, p schema.CancelParams) (schema.Submission, error) {
	return c.submit(ctx, ActionCancelSpot, newCancelParams(p))
}

// CancelPerpOrder submits a perp cancel intent.
func (c *Client) CancelPerpOrder(ctx context.Context, p schema.CancelParams) (schema.Submission, error) {
	return c.submit(ctx, ActionCancelPerp, newCancelParams(p))
}

func (c *Client) submit(ctx context.Context, action Action, params any) (sub schema.Submission, err error) {
	start := time.Now()
	defer func() { c.metrics.recordSubmit(ctx, string(action), time.Since(start), err) }()

	in := intent{
		RequestID: uuid.NewString(),
		Action:    action,
		Owner:     c.key.PublicKey().String(),
		Account:   c.account.String(),
		Group:     keyOrEmpty(c.group),
		IssuedAt:  c.now().UnixMilli(),
		Params:    params,
	}
	body, err := json.Marshal(in)
	if err != nil {
		return schema.Submission{}, fmt.Errorf("encode intent: %w", err)
	}
	sig, err := c.key.Sign(body)
	if err != nil {
		return schema.Submission{}, fmt.Errorf("sign intent: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	resp, err := backoff.Retry(ctx, func() (relayResponse, error) {
		return c.post(ctx, in.RequestID, body, sig)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Printf("%s %s: retrying in %s: %v", action, in.RequestID, next, err)
		}),
	)
	if err != nil {
		return schema.Submission{}, relayErr(action, in.RequestID, err)
	}

	sub = schema.Submission{RequestID: in.RequestID, Signature: resp.Signature}
	c.logger.Printf("%s %s submitted: %s", action, in.RequestID, resp.Signature)
	if c.confirmer == nil {
		return sub, nil
	}
	if err := c.confirmer.Confirm(ctx, resp.Signature); err != nil {
		return sub, err
	}
	sub.Confirmed = true
	return sub, nil
}

func (c *Client) post(ctx context.Context, requestID string, body []byte, sig solana.Signature) (relayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return relayResponse{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerPubkey, c.key.PublicKey().String())
	req.Header.Set(headerSignature, sig.String())
	req.Header.Set(headerRequestID, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return relayResponse{}, backoff.Permanent(err)
		}
		return relayResponse{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return relayResponse{}, err
	}

	var out relayResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode >= 300 {
		se := &statusError{status: resp.StatusCode, message: strings.TrimSpace(string(data))}
		if decodeErr == nil && out.Error != "" {
			se.message = out.Error
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return relayResponse{}, se
		}
		return relayResponse{}, backoff.Permanent(se)
	}
	if decodeErr != nil {
		return relayResponse{}, backoff.Permanent(&decodeError{err: decodeErr})
	}
	if out.Signature == "" {
		return relayResponse{}, backoff.Permanent(&statusError{status: resp.StatusCode, message: "relay returned no signature"})
	}
	return out, nil
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("relay status %d: %s", e.status, e.message)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode relay response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func relayErr(action Action, requestID string, err error) error {
	fields := []errs.Option{errs.WithField("action", string(action)), errs.WithField("request_id", requestID)}
	var se *statusError
	if errors.As(err, &se) {
		fields = append(fields, errs.WithHTTP(se.status), errs.WithRawMessage(se.message))
		switch {
		case se.status == http.StatusTooManyRequests:
			return errs.Transport(component, err, append(fields, errs.WithCanonicalCode(errs.CanonicalRateLimited))...)
		case se.status < 500:
			return errs.New(component, errs.CodeSubmission, append(fields, errs.WithMessage("relay rejected request"), errs.WithCause(err))...)
		}
	}
	var de *decodeError
	if errors.As(err, &de) {
		return errs.Decode(component, "relay response", append(fields, errs.WithCause(err))...)
	}
	return errs.Transport(component, err, fields...)
}

func keyOrEmpty(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}
