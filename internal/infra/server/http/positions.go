package httpserver

import (
	"net/http"

	"github.com/coachpo/mangogate/errs"
)

// listPositions serves GET /api/positions.
func (s *httpServer) listPositions(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		s.writeErr(w, r, errs.NotSupported("margin account is not configured"))
		return
	}
	positions, err := s.positions.FetchPositions(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeResult(w, positions)
}
