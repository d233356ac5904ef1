package httpserver

import (
	"net/http"

	"github.com/coachpo/mangogate/internal/domain/schema"
)

type fillsBody struct {
	Success  bool          `json:"success"`
	Result   []schema.Fill `json:"result"`
	Degraded bool          `json:"degraded,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// listFills serves GET /api/fills?market=. Archive outages still answer 200
// with the recent fills and a degraded flag.
func (s *httpServer) listFills(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("market")
	if !s.validMarket(w, name) {
		return
	}
	res, err := s.fills.FetchAllFills(r.Context(), name)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	body := fillsBody{Success: true, Result: res.Fills, Degraded: res.Degraded}
	if body.Result == nil {
		body.Result = []schema.Fill{}
	}
	for _, warn := range res.Warnings {
		body.Warnings = append(body.Warnings, errorMessage(warn))
	}
	writeJSON(w, http.StatusOK, body)
}
