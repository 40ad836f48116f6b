package domain

// Direction 仓位方向
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// IsValid 检查方向取值是否合法
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// RawPosition 链上原始仓位记录（定点整数，只读输入）
// baseAssetAmount 使用 1e9 刻度，quoteEntryAmount 使用 1e6 刻度。
type RawPosition struct {
	MarketIndex      int
	BaseAssetAmount  int64
	QuoteEntryAmount int64
}

// IsZero 判断是否为空仓（base 数量为 0 的记录在解码前被过滤）
func (r RawPosition) IsZero() bool {
	return r.BaseAssetAmount == 0
}

// Position 解码后的仓位分析视图。每次抓取重新计算，从不落盘。
// 不变式：Size > 0（零仓已在上游过滤）。
type Position struct {
	ID               string    `json:"id"`
	Market           string    `json:"market"`
	Direction        Direction `json:"direction"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entryPrice"`
	MarkPrice        float64   `json:"markPrice"`
	Pnl              float64   `json:"pnl"`
	PnlPercentage    float64   `json:"pnlPercentage"`
	Leverage         float64   `json:"leverage"`
	LiquidationPrice float64   `json:"liquidationPrice"`
}

// MarginPlan 保证金/杠杆规划结果
// 不变式：MarginUsed <= 当前抵押；ActualLeverage <= 配置上限（25）。
type MarginPlan struct {
	PositionSize    float64 `json:"positionSize"`
	ActualLeverage  float64 `json:"actualLeverage"`
	MarginUsed      float64 `json:"marginUsed"`
	LimitedByMargin bool    `json:"limitedByMargin"`
}
