package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/soldesk/goperp/internal/server"
	"github.com/soldesk/goperp/internal/services"
	"github.com/soldesk/goperp/pkg/config"
	"github.com/soldesk/goperp/pkg/logger"
	"github.com/soldesk/goperp/pkg/solana"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	var configPath = flag.String("config", os.Getenv("GOPERP_CONFIG"), "config file path (yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}

	chain := solana.NewClient(solana.Config{
		Endpoint:    cfg.RPCEndpoint,
		MinInterval: time.Duration(cfg.MinRPCIntervalMS) * time.Millisecond,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     time.Duration(cfg.RPCTimeoutSec) * time.Second,
	})

	tick := time.Duration(cfg.TickSeconds) * time.Second
	markets := services.NewMarketDataService(chain, cfg.Markets, tick)
	positions := services.NewPositionService(chain, markets, cfg.ProgramID)

	srv, err := server.New(server.Config{
		DBPath:         cfg.JournalDB,
		ProgramID:      cfg.ProgramID,
		CollateralMint: cfg.CollateralMint,
		Tick:           tick,
	}, chain, markets, positions)
	if err != nil {
		log.Fatalf("init server failed: %v", err)
	}
	defer srv.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go srv.RunHub(hubCtx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("goperp listening on %s (network=%s rpc=%s)", cfg.ListenAddr, cfg.Network, cfg.RPCEndpoint)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	hubCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	fmt.Println("server stopped")
}
