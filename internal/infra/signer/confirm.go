package signer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/coder/websocket"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	json "github.com/goccy/go-json"

	"github.com/coachpo/mangogate/errs"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 2 * time.Second
	wsReadLimit           = 1 << 20
	confirmCommitment     = "confirmed"
)

// StatusSource is the ledger surface used to confirm signatures.
type StatusSource interface {
	SignatureStatuses(ctx context.Context, signatures ...string) ([]*solanarpc.SignatureStatusesResult, error)
	WSEndpoint() string
}

// Confirmer waits for a submitted transaction to land. It subscribes over the
// RPC websocket and falls back to polling when the socket is unavailable.
type Confirmer struct {
	source       StatusSource
	timeout      time.Duration
	pollInterval time.Duration
	logger       *log.Logger
	metrics      *signerMetrics
}

// NewConfirmer builds a Confirmer. Non-positive durations take defaults.
func NewConfirmer(source StatusSource, timeout, pollInterval time.Duration, logger *log.Logger) *Confirmer {
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Confirmer{
		source:       source,
		timeout:      timeout,
		pollInterval: pollInterval,
		logger:       logger,
		metrics:      newSignerMetrics(),
	}
}

// Confirm blocks until signature is confirmed, fails on chain or the timeout
// elapses.
func (c *Confirmer) Confirm(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.subscribe(ctx, signature)
	if err == nil || errs.IsCode(err, errs.CodeSubmission) {
		c.metrics.recordConfirm(ctx, "websocket", err)
		return err
	}
	if ctx.Err() != nil {
		c.metrics.recordConfirm(ctx, "websocket", err)
		return timeoutErr(signature, err)
	}
	c.logger.Printf("signature %s: websocket confirmation unavailable, polling: %v", signature, err)
	err = c.poll(ctx, signature)
	c.metrics.recordConfirm(ctx, "poll", err)
	return err
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsMessage struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Err json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (c *Confirmer) subscribe(ctx context.Context, signature string) error {
	conn, _, err := websocket.Dial(ctx, c.source.WSEndpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.source.WSEndpoint(), err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}()
	conn.SetReadLimit(wsReadLimit)

	payload, err := json.Marshal(wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params:  []any{signature, map[string]any{"commitment": confirmCommitment}},
	})
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write subscription: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read notification: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("signatureSubscribe: rpc error (%d): %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.Method != "signatureNotification" {
			continue
		}
		if failed(msg.Params.Result.Value.Err) {
			return landedErr(signature, string(msg.Params.Result.Value.Err))
		}
		return nil
	}
}

func (c *Confirmer) poll(ctx context.Context, signature string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		statuses, err := c.source.SignatureStatuses(ctx, signature)
		switch {
		case err != nil:
			lastErr = err
		case len(statuses) == 1 && statuses[0] != nil:
			st := statuses[0]
			if st.Err != nil {
				detail, _ := json.Marshal(st.Err)
				return landedErr(signature, string(detail))
			}
			if st.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return timeoutErr(signature, lastErr)
		case <-ticker.C:
		}
	}
}

func failed(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func landedErr(signature, detail string) error {
	return errs.New(component, errs.CodeSubmission,
		errs.WithMessage("transaction failed"),
		errs.WithRawMessage(detail),
		errs.WithField("signature", signature))
}

func timeoutErr(signature string, cause error) error {
	if cause == nil {
		cause = errors.New("not confirmed before deadline")
	}
	return errs.Transport(component, cause,
		errs.WithMessage("confirmation timed out"),
		errs.WithField("signature", signature))
}
