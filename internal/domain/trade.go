package domain

import "time"

// TradeRequest 前端发起的交易请求（calculate-margin 与 trade/submit 共用）
type TradeRequest struct {
	WalletAddress string  `json:"walletAddress"`
	TradeAmount   float64 `json:"tradeAmount"`
	Leverage      float64 `json:"leverage"`
	Direction     string  `json:"direction"`
	MarketSymbol  string  `json:"marketSymbol"`
}

// TradeState 交易签名的生命周期状态（由确认跟踪器维护）
type TradeState string

const (
	TradeStateSubmitted TradeState = "submitted"
	TradeStatePending   TradeState = "pending"
	TradeStateConfirmed TradeState = "confirmed"
	TradeStateFailed    TradeState = "failed"
	TradeStateDropped   TradeState = "dropped"
	TradeStateTimedOut  TradeState = "timed_out"
)

// Terminal 是否为终态
func (s TradeState) Terminal() bool {
	switch s {
	case TradeStateConfirmed, TradeStateFailed, TradeStateDropped, TradeStateTimedOut:
		return true
	}
	return false
}

// TradeRecord 交易流水（journal 持久化的一行）
type TradeRecord struct {
	ID          string     `json:"id"`
	Signature   string     `json:"signature"`
	Wallet      string     `json:"wallet"`
	Market      string     `json:"market"`
	Direction   Direction  `json:"direction"`
	Notional    float64    `json:"notional"`
	State       TradeState `json:"state"`
	ChainError  string     `json:"chainError,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
