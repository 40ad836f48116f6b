// Package server wires the HTTP API, the WebSocket hub and the sqlite
// trade journal on top of the chain gateway and domain services.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/internal/perp"
	"github.com/soldesk/goperp/internal/services"
	"github.com/soldesk/goperp/pkg/logger"
	"github.com/soldesk/goperp/pkg/solana"
)

type Config struct {
	DBPath         string
	ProgramID      string
	CollateralMint string
	Tick           time.Duration
}

type Server struct {
	cfg Config
	db  *sql.DB

	chain     *solana.Client
	markets   *services.MarketDataService
	positions *services.PositionService
	builder   *perp.Builder
	tracker   *perp.Tracker
	hub       *Hub
}

func New(cfg Config, chain *solana.Client, markets *services.MarketDataService, positions *services.PositionService) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("journal db path is required")
	}
	if cfg.ProgramID == "" {
		return nil, errors.New("program id is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single connection is more stable
	db.SetMaxIdleConns(1)

	s := &Server{
		cfg:       cfg,
		db:        db,
		chain:     chain,
		markets:   markets,
		positions: positions,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.builder = perp.NewBuilder(chain, markets, perp.BuilderConfig{
		ProgramID:      cfg.ProgramID,
		CollateralMint: cfg.CollateralMint,
	})
	s.tracker = perp.NewTracker(chain, s.onTradeTerminal)
	s.hub = NewHub(markets, positions, cfg.Tick)

	return s, nil
}

// RunHub drives the broadcast scheduler (blocking; run in a goroutine).
func (s *Server) RunHub(ctx context.Context) {
	s.hub.Run(ctx)
}

func (s *Server) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// onTradeTerminal is the tracker's terminal-state hook: persist the outcome.
func (s *Server) onTradeTerminal(signature string, state domain.TradeState, chainErr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.updateTradeState(ctx, signature, state, chainErr); err != nil {
		logger.Warnf("journal update failed for %s: %v", signature, err)
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/ws", s.wrap(s.hub.HandleWS))

	api := r.Group("/api")
	api.GET("/markets", s.wrap(s.handleMarkets))
	api.GET("/markets/positions/:wallet", s.wrap(s.handleWalletPositions))
	api.GET("/trades/:wallet", s.wrap(s.handleWalletTrades))

	trade := api.Group("/trade")
	trade.POST("/calculate-margin", s.wrap(s.handleCalculateMargin))
	trade.POST("/submit", s.wrap(s.handleTradeSubmit))

	tx := api.Group("/transaction")
	tx.POST("/submit", s.wrap(s.handleTransactionSubmit))
	tx.GET("/status", s.wrap(s.handleTransactionStatus))

	return r
}
