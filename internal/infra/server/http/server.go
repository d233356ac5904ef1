// Package httpserver exposes the gateway's markets, orders and fills over HTTP.
package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/app/fills"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/app/orders"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/archive"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	marketsPath        = "/api/markets"
	marketDetailPrefix = marketsPath + "/"

	ordersPath         = "/api/orders"
	orderDetailPrefix  = ordersPath + "/"
	byClientIDSegment  = "by_client_id/"
	fillsPath          = "/api/fills"
	positionsPath      = "/api/positions"
	healthPath         = "/healthz"
	headerRequestID    = "X-Request-Id"
	defaultRequestTime = 60 * time.Second
)

// MarketReader is the read side of the market engine.
type MarketReader interface {
	Registry() *markets.Registry
	FetchAllMarkets(ctx context.Context, name string) (markets.MarketSet, error)
	FetchAllBidsAndAsks(ctx context.Context, ownOnly bool, name string) ([][]schema.OrderInfo, error)
}

// OrderService places, lists and cancels the account's orders.
type OrderService interface {
	OpenOrders(ctx context.Context, name string) ([]schema.OrderInfo, error)
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (schema.Submission, error)
	CancelAllOrders(ctx context.Context) (orders.CancelReport, error)
	CancelByOrderID(ctx context.Context, id string) (schema.Submission, error)
	CancelByClientID(ctx context.Context, id string) (schema.Submission, error)
}

// FillService lists the account's fills.
type FillService interface {
	FetchAllFills(ctx context.Context, name string) (fills.Result, error)
}

// PositionService lists the account's open perp positions.
type PositionService interface {
	FetchPositions(ctx context.Context) ([]schema.Position, error)
}

// MarketData serves public trade, candle and volume history.
type MarketData interface {
	Trades(ctx context.Context, market solana.PublicKey) ([]archive.Trade, error)
	Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]archive.Candle, error)
	PerpVolume(ctx context.Context, market solana.PublicKey) (decimal.Decimal, error)
}

// Options wires the handler. MarketData may be nil, in which case market
// statistics are omitted and the trades and candles routes are unsupported.
// Positions may be nil, which leaves the positions route unsupported.
type Options struct {
	Markets        MarketReader
	Orders         OrderService
	Fills          FillService
	Positions      PositionService
	MarketData     MarketData
	Health         func(ctx context.Context) error
	RequestTimeout time.Duration
	Logger         *log.Logger
	Now            func() time.Time
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	markets    MarketReader
	orders     OrderService
	fills      FillService
	positions  PositionService
	marketData MarketData
	health     func(ctx context.Context) error
	timeout    time.Duration
	logger     *log.Logger
	now        func() time.Time
	metrics    *httpMetrics
}

// NewHandler creates the gateway's HTTP handler.
func NewHandler(opts Options) http.Handler {
	server := &httpServer{
		markets:    opts.Markets,
		orders:     opts.Orders,
		fills:      opts.Fills,
		positions:  opts.Positions,
		marketData: opts.MarketData,
		health:     opts.Health,
		timeout:    opts.RequestTimeout,
		logger:     opts.Logger,
		now:        opts.Now,
		metrics:    newHTTPMetrics(),
	}
	if server.timeout <= 0 {
		server.timeout = defaultRequestTime
	}
	if server.logger == nil {
		server.logger = log.New(io.Discard, "", 0)
	}
	if server.now == nil {
		server.now = time.Now
	}
	mux := http.NewServeMux()

	mux.Handle(marketsPath, server.instrument(marketsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listMarkets,
	})))
	mux.Handle(marketDetailPrefix, server.instrument(marketDetailPrefix+"{name}", server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.handleMarket,
	})))

	mux.Handle(ordersPath, server.instrument(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:    server.listOrders,
		http.MethodPost:   server.placeOrder,
		http.MethodDelete: server.cancelAllOrders,
	})))
	mux.Handle(orderDetailPrefix, server.instrument(orderDetailPrefix+"{id}", server.methodHandlers(map[string]handlerFunc{
		http.MethodDelete: server.cancelOrder,
	})))

	mux.Handle(fillsPath, server.instrument(fillsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listFills,
	})))
	mux.Handle(positionsPath, server.instrument(positionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listPositions,
	})))
	mux.Handle(healthPath, server.instrument(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.healthz,
	})))

	return withCORS(withRequestID(mux))
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
			defer cancel()
			handler(w, r.WithContext(ctx))
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validMarket reports whether name is a registered market, writing a 400 when
// it is not. An empty name is valid and means every market.
func (s *httpServer) validMarket(w http.ResponseWriter, name string) bool {
	if name == "" {
		return true
	}
	if _, ok := s.markets.Registry().ByName(name); ok {
		return true
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("Market %s not supported!", name))
	return false
}

// writeErr renders a gateway error with the status its code maps to.
func (s *httpServer) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, errorMessage(err))
}

func statusFor(err error) int {
	var e *errs.E
	if !errors.As(err, &e) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch e.Canonical {
	case errs.CanonicalInvalidSymbol:
		return http.StatusBadRequest
	case errs.CanonicalRateLimited:
		return http.StatusServiceUnavailable
	}
	switch e.Code {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeUnsupported:
		return http.StatusNotImplemented
	case errs.CodeNetwork, errs.CodeDecode, errs.CodeSubmission:
		return http.StatusBadGateway
	case errs.CodeDegraded, errs.CodeRateLimited:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type envelope struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

type errorBody struct {
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Msg string `json:"msg"`
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Result: result})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		http.Error(w, "json encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}

func writeError(w http.ResponseWriter, status int, messages ...string) {
	body := errorBody{Errors: make([]errorItem, 0, len(messages))}
	for _, msg := range messages {
		body.Errors = append(body.Errors, errorItem{Msg: msg})
	}
	writeJSON(w, status, body)
}

func withRequestID(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		handler.ServeHTTP(w, r)
	})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerRequestID)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
