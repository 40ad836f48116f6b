package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soldesk/goperp/internal/domain"
)

// migrate creates the trade journal schema.
func (s *Server) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	signature    TEXT UNIQUE NOT NULL,
	wallet       TEXT NOT NULL,
	market       TEXT NOT NULL DEFAULT '',
	direction    TEXT NOT NULL DEFAULT '',
	notional     REAL NOT NULL DEFAULT 0,
	state        TEXT NOT NULL,
	chain_error  TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet, submitted_at DESC);
`)
	if err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (s *Server) insertTrade(ctx context.Context, rec domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trades (id, signature, wallet, market, direction, notional, state, chain_error, submitted_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Signature, rec.Wallet, rec.Market, string(rec.Direction),
		rec.Notional, string(rec.State), rec.ChainError, rec.SubmittedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

func (s *Server) updateTradeState(ctx context.Context, signature string, state domain.TradeState, chainErr string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE trades SET state = ?, chain_error = ?, updated_at = ? WHERE signature = ?`,
		string(state), chainErr, time.Now(), signature)
	if err != nil {
		return fmt.Errorf("journal update: %w", err)
	}
	return nil
}

func (s *Server) listTrades(ctx context.Context, wallet string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, signature, wallet, market, direction, notional, state, chain_error, submitted_at, updated_at
FROM trades WHERE wallet = ? ORDER BY submitted_at DESC LIMIT ?`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	defer rows.Close()

	out := []domain.TradeRecord{}
	for rows.Next() {
		var rec domain.TradeRecord
		var direction, state string
		var chainErr sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Signature, &rec.Wallet, &rec.Market, &direction,
			&rec.Notional, &state, &chainErr, &rec.SubmittedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		rec.Direction = domain.Direction(direction)
		rec.State = domain.TradeState(state)
		rec.ChainError = chainErr.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
