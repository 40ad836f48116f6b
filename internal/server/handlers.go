package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/internal/perp"
	"github.com/soldesk/goperp/pkg/logger"
	"github.com/soldesk/goperp/pkg/solana"
)

const handlerTimeout = 30 * time.Second

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	markets := s.markets.Snapshot(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": markets})
}

func (s *Server) handleWalletPositions(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(pathParam(r, "wallet"))

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	positions, err := s.positions.FetchPositions(ctx, wallet)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "positions": positions})
}

func decodeTradeRequest(r *http.Request) (domain.TradeRequest, error) {
	var req domain.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, domain.NewValidationError("body", "invalid json")
	}
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	req.MarketSymbol = strings.TrimSpace(req.MarketSymbol)

	if err := solana.ValidateAddress(req.WalletAddress); err != nil {
		return req, domain.NewValidationError("walletAddress", err.Error())
	}
	if req.TradeAmount <= 0 {
		return req, domain.NewValidationError("tradeAmount", "must be positive")
	}
	if req.Leverage < 1 || req.Leverage > perp.MaxLeverage {
		return req, domain.NewValidationError("leverage", "must be between 1 and 25")
	}
	if !domain.Direction(req.Direction).IsValid() {
		return req, domain.NewValidationError("direction", "must be long or short")
	}
	if req.MarketSymbol == "" {
		return req, domain.NewValidationError("marketSymbol", "required")
	}
	return req, nil
}

func (s *Server) handleCalculateMargin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTradeRequest(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	collateral, _, err := s.builder.Collateral(ctx, req.WalletAddress)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	plan := perp.Plan(req.TradeAmount, req.Leverage, collateral)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"positionSize":    plan.PositionSize,
		"actualLeverage":  plan.ActualLeverage,
		"marginUsed":      plan.MarginUsed,
		"limitedByMargin": plan.LimitedByMargin,
		"collateral":      collateral,
	})
}

func (s *Server) handleTradeSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTradeRequest(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	tx, err := s.builder.Build(ctx, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactionData": tx})
}

// submitTransactionRequest carries the signed bytes plus optional trade
// metadata the browser echoes back so the journal row is self-describing.
type submitTransactionRequest struct {
	SignedTransaction string  `json:"signedTransaction"`
	WalletAddress     string  `json:"walletAddress,omitempty"`
	MarketSymbol      string  `json:"marketSymbol,omitempty"`
	Direction         string  `json:"direction,omitempty"`
	TradeAmount       float64 `json:"tradeAmount,omitempty"`
	Leverage          float64 `json:"leverage,omitempty"`
}

func (s *Server) handleTransactionSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.SignedTransaction) == "" {
		writeError(w, http.StatusBadRequest, "signedTransaction is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	sig, err := s.tracker.Submit(ctx, req.SignedTransaction)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now()
	rec := domain.TradeRecord{
		ID:          uuid.NewString(),
		Signature:   sig,
		Wallet:      req.WalletAddress,
		Market:      req.MarketSymbol,
		Direction:   domain.Direction(req.Direction),
		Notional:    req.TradeAmount * req.Leverage,
		State:       domain.TradeStateSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := s.insertTrade(ctx, rec); err != nil {
		// journal failure must not hide a successful submission
		logger.Warnf("journal insert failed for %s: %v", sig, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"signature":    sig,
		"confirmation": string(domain.TradeStateSubmitted),
	})
}

func (s *Server) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	sig := strings.TrimSpace(r.URL.Query().Get("signature"))
	if sig == "" {
		writeError(w, http.StatusBadRequest, "signature query param is required")
		return
	}

	if tx, ok := s.tracker.Status(sig); ok {
		if tx.State == domain.TradeStateDropped {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "dropped": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": tx})
		return
	}

	// not tracked by this process (restart, other replica): one-off chain query
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	status, err := s.chain.GetSignatureStatus(ctx, sig, true)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if status == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "dropped": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

func (s *Server) handleWalletTrades(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(pathParam(r, "wallet"))
	if err := solana.ValidateAddress(wallet); err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	trades, err := s.listTrades(ctx, wallet, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trades": trades})
}
