package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/internal/app/orders"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

type orderDTO struct {
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	Future    string          `json:"future"`
	ID        string          `json:"id"`
	Market    string          `json:"market"`
	Price     decimal.Decimal `json:"price"`
	Side      schema.Side     `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Status    string          `json:"status"`
	ClientID  string          `json:"clientId,omitempty"`
}

type placeOrderPayload struct {
	Market     string           `json:"market"`
	Side       schema.Side      `json:"side"`
	Price      decimal.Decimal  `json:"price"`
	Type       schema.OrderType `json:"type"`
	Size       decimal.Decimal  `json:"size"`
	ReduceOnly bool             `json:"reduceOnly"`
	IOC        bool             `json:"ioc"`
	PostOnly   bool             `json:"postOnly"`
	ClientID   *uint64          `json:"clientId"`
}

type placedOrderDTO struct {
	CreatedAt  time.Time        `json:"createdAt"`
	Future     string           `json:"future"`
	Market     string           `json:"market"`
	Side       schema.Side      `json:"side"`
	Price      decimal.Decimal  `json:"price"`
	Size       decimal.Decimal  `json:"size"`
	Type       schema.OrderType `json:"type"`
	ReduceOnly bool             `json:"reduceOnly"`
	IOC        bool             `json:"ioc"`
	PostOnly   bool             `json:"postOnly"`
	ClientID   *string          `json:"clientId"`
	RequestID  string           `json:"requestId"`
	Signature  string           `json:"signature"`
	Confirmed  bool             `json:"confirmed"`
}

type cancelDTO struct {
	ID        string `json:"id"`
	Market    string `json:"market"`
	ClientID  string `json:"clientId,omitempty"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

type cancelAllDTO struct {
	Cancelled []cancelDTO `json:"cancelled"`
	Failed    []cancelDTO `json:"failed"`
}

type partialBody struct {
	Success bool        `json:"success"`
	Result  any         `json:"result"`
	Errors  []errorItem `json:"errors"`
}

func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("market")
	if !s.validMarket(w, name) {
		return
	}
	open, err := s.orders.OpenOrders(r.Context(), name)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]orderDTO, 0, len(open))
	for _, info := range open {
		out = append(out, toOrderDTO(info))
	}
	writeResult(w, out)
}

func toOrderDTO(info schema.OrderInfo) orderDTO {
	name := info.Market.Descriptor.Name
	dto := orderDTO{
		Future: name,
		ID:     info.Order.OrderID(),
		Market: name,
		Price:  info.Order.Price(),
		Side:   info.Order.Side(),
		Size:   info.Order.Size(),
		Status: "open",
	}
	if perp, ok := info.Order.(*schema.PerpOrder); ok && !perp.Timestamp.IsZero() {
		created := perp.Timestamp.UTC()
		dto.CreatedAt = &created
	}
	if id := schema.NormalizeID(info.Order.ClientID()); id != "0" {
		dto.ClientID = id
	}
	return dto
}

func (s *httpServer) placeOrder(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	defer func() {
		_ = r.Body.Close()
	}()
	var payload placeOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, fmt.Errorf("decode order: %w", err))
		return
	}
	if payload.Market == "" {
		writeError(w, http.StatusBadRequest, "market is required")
		return
	}
	if !s.validMarket(w, payload.Market) {
		return
	}

	req := orders.PlaceOrderRequest{
		Market:      payload.Market,
		Type:        payload.Type,
		Side:        schema.Side(strings.ToLower(string(payload.Side))),
		Size:        payload.Size,
		Price:       payload.Price,
		TimeInForce: schema.TIFLimit,
		ReduceOnly:  payload.ReduceOnly,
	}
	switch {
	case payload.IOC:
		req.TimeInForce = schema.TIFIOC
	case payload.PostOnly:
		req.TimeInForce = schema.TIFPostOnly
	}
	var clientID *string
	if payload.ClientID != nil {
		req.ClientID = *payload.ClientID
		id := schema.FormatUint(*payload.ClientID)
		clientID = &id
	}

	sub, err := s.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	orderType := payload.Type
	if orderType == "" {
		orderType = schema.OrderTypeLimit
	}
	writeResult(w, placedOrderDTO{
		CreatedAt:  s.now().UTC(),
		Future:     payload.Market,
		Market:     payload.Market,
		Side:       req.Side,
		Price:      payload.Price,
		Size:       payload.Size,
		Type:       orderType,
		ReduceOnly: payload.ReduceOnly,
		IOC:        payload.IOC,
		PostOnly:   payload.PostOnly,
		ClientID:   clientID,
		RequestID:  sub.RequestID,
		Signature:  sub.Signature,
		Confirmed:  sub.Confirmed,
	})
}

func (s *httpServer) cancelAllOrders(w http.ResponseWriter, r *http.Request) {
	report, err := s.orders.CancelAllOrders(r.Context())
	result := cancelAllDTO{Cancelled: []cancelDTO{}, Failed: []cancelDTO{}}
	for _, res := range report.Results {
		dto := cancelDTO{
			ID:        res.Order.Order.OrderID(),
			Market:    res.Order.Market.Descriptor.Name,
			Signature: res.Submission.Signature,
		}
		if id := schema.NormalizeID(res.Order.Order.ClientID()); id != "0" {
			dto.ClientID = id
		}
		if res.Err != nil {
			dto.Error = errorMessage(res.Err)
			result.Failed = append(result.Failed, dto)
			continue
		}
		result.Cancelled = append(result.Cancelled, dto)
	}
	if err == nil {
		writeResult(w, result)
		return
	}
	if len(report.Results) == 0 {
		s.writeErr(w, r, err)
		return
	}
	s.logger.Printf("cancel all: %d of %d failed", len(result.Failed), len(report.Results))
	body := partialBody{Result: result, Errors: make([]errorItem, 0, len(result.Failed))}
	for _, f := range result.Failed {
		body.Errors = append(body.Errors, errorItem{Msg: fmt.Sprintf("%s order %s: %s", f.Market, f.ID, f.Error)})
	}
	writeJSON(w, statusFor(err), body)
}

// cancelOrder serves DELETE /api/orders/{id} and
// DELETE /api/orders/by_client_id/{id}.
func (s *httpServer) cancelOrder(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, orderDetailPrefix), "/")
	byClient := strings.HasPrefix(rest, byClientIDSegment)
	id := strings.TrimPrefix(rest, byClientIDSegment)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "order id required")
		return
	}

	var (
		sub schema.Submission
		err error
	)
	if byClient {
		sub, err = s.orders.CancelByClientID(r.Context(), id)
	} else {
		sub, err = s.orders.CancelByOrderID(r.Context(), id)
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeResult(w, sub)
}
