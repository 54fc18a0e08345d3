package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stocklens-backend/internal/domain"
	"github.com/jpereira/stocklens-backend/internal/usecase/holdings"
)

// Every job returns a structured JSON document, even on internal error: the
// failure is logged and mapped to a generic server-error response.

func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if !allowJobMethod(w, r) {
		return
	}

	result, err := s.IngestService.Run(r.Context())
	if err != nil {
		s.Log.Error().Err(err).Msg("price ingestion run failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if result.UpstreamFailed() {
		// The quote source itself failed; distinguishable from success
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleRecomputeMetrics(w http.ResponseWriter, r *http.Request) {
	if !allowJobMethod(w, r) {
		return
	}

	result, err := s.RecalcService.Run(r.Context())
	if err != nil {
		s.Log.Error().Err(err).Msg("metrics recomputation run failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncReference(w http.ResponseWriter, r *http.Request) {
	if !allowJobMethod(w, r) {
		return
	}

	result, err := s.RefSyncService.Run(r.Context())
	if err != nil {
		s.Log.Error().Err(err).Msg("reference catalog sync failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type holdingRequest struct {
	Symbol    string  `json:"symbol"`
	Quantity  string  `json:"quantity"`
	CostBasis *string `json:"cost_basis"`
}

type holdingResponse struct {
	ID          string  `json:"id"`
	PortfolioID string  `json:"portfolio_id"`
	Symbol      string  `json:"symbol"`
	Quantity    string  `json:"quantity"`
	CostBasis   *string `json:"cost_basis,omitempty"`
}

func (s *Server) handleAddHolding(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := uuid.Parse(r.PathValue("portfolioID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio ID")
		return
	}

	req, input, ok := decodeHoldingRequest(w, r)
	if !ok {
		return
	}

	holding, err := s.HoldingsService.AddHolding(r.Context(), holdings.AddHoldingInput{
		PortfolioID: portfolioID,
		Symbol:      req.Symbol,
		Quantity:    input.quantity,
		CostBasis:   input.costBasis,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toHoldingResponse(holding))
}

func (s *Server) handleUpdateHolding(w http.ResponseWriter, r *http.Request) {
	holdingID, err := uuid.Parse(r.PathValue("holdingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holding ID")
		return
	}

	_, input, ok := decodeHoldingRequest(w, r)
	if !ok {
		return
	}

	holding, err := s.HoldingsService.UpdateHolding(r.Context(), holdingID, input.quantity, input.costBasis)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toHoldingResponse(holding))
}

func (s *Server) handleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	holdingID, err := uuid.Parse(r.PathValue("holdingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holding ID")
		return
	}

	if err := s.HoldingsService.DeleteHolding(r.Context(), holdingID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps a holdings-service error to the response class it
// belongs to: validation failures are the caller's fault, missing rows are
// 404, anything else is a persistence problem the caller cannot fix.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.Log.Error().Err(err).Msg("holdings operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type parsedHolding struct {
	quantity  decimal.Decimal
	costBasis *decimal.Decimal
}

func decodeHoldingRequest(w http.ResponseWriter, r *http.Request) (holdingRequest, parsedHolding, bool) {
	var req holdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, parsedHolding{}, false
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quantity format")
		return req, parsedHolding{}, false
	}

	var costBasis *decimal.Decimal
	if req.CostBasis != nil {
		parsed, err := decimal.NewFromString(*req.CostBasis)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cost_basis format")
			return req, parsedHolding{}, false
		}
		costBasis = &parsed
	}

	return req, parsedHolding{quantity: quantity, costBasis: costBasis}, true
}

func toHoldingResponse(h *domain.Holding) holdingResponse {
	resp := holdingResponse{
		ID:          h.ID.String(),
		PortfolioID: h.PortfolioID.String(),
		Symbol:      h.Symbol,
		Quantity:    h.Quantity.String(),
	}
	if h.CostBasis != nil {
		costBasis := h.CostBasis.String()
		resp.CostBasis = &costBasis
	}
	return resp
}
