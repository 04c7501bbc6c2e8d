package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// TradeReader is the read side of the trade store.
type TradeReader interface {
	GetByID(ctx context.Context, id string) (domain.Trade, error)
	List(ctx context.Context, filter domain.TradeFilter) ([]domain.Trade, error)
}

// TradeHandler serves the trade history endpoints.
type TradeHandler struct {
	trades TradeReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// ListTrades returns the newest trades, optionally filtered by status.
// GET /api/trades?limit=50&status=success
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	filter := domain.TradeFilter{
		Limit:   parseLimit(r, 50, 500),
		AgentID: r.URL.Query().Get("agent"),
	}
	switch s := domain.TradeStatus(r.URL.Query().Get("status")); s {
	case "":
	case domain.TradeStatusSuccess, domain.TradeStatusFailed:
		filter.Status = s
	default:
		writeError(w, http.StatusBadRequest, "status must be success or failed")
		return
	}

	trades, err := h.trades.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch trades")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(trades))
}

// GetTrade returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.trades.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch trade details")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
