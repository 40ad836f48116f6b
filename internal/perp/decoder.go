// Package perp 实现永续合约核心逻辑：仓位解码、保证金计算、
// 交易构建与确认跟踪。所有计算都是纯函数或只读链访问，
// 本包从不在链上产生副作用。
package perp

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/soldesk/goperp/internal/domain"
)

// 协议定点刻度与风控常数
const (
	BaseScale  = 1_000_000_000 // baseAssetAmount 1e9
	QuoteScale = 1_000_000     // quoteEntryAmount 1e6

	// MaintenanceMarginRatio 维持保证金率（2.5%）
	MaintenanceMarginRatio = 0.025

	// DefaultLeverage 杠杆推断失败时的回退值
	DefaultLeverage = 13.0
)

var (
	baseScaleDec  = decimal.NewFromInt(BaseScale)
	quoteScaleDec = decimal.NewFromInt(QuoteScale)
)

// OracleFunc 按市场编号查 oracle 价格
type OracleFunc func(marketIndex int) (float64, error)

// SymbolFunc 按市场编号查市场符号
type SymbolFunc func(marketIndex int) string

// Decoder 把链上原始定点仓位记录解码为仓位分析视图
type Decoder struct {
	Oracle OracleFunc
	Symbol SymbolFunc
}

// Decode 逐条解码非零原始仓位，输出按市场编号稳定排序。
// 单条仓位的字段异常只会让该仓位退化为零值，绝不中断整个列表。
func (d *Decoder) Decode(raw []domain.RawPosition) []domain.Position {
	positions := make([]domain.Position, 0, len(raw))

	sorted := make([]domain.RawPosition, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MarketIndex < sorted[j].MarketIndex
	})

	for _, r := range sorted {
		if r.IsZero() {
			continue
		}
		positions = append(positions, d.decodeOne(r))
	}
	return positions
}

func (d *Decoder) decodeOne(r domain.RawPosition) domain.Position {
	size, _ := decimal.NewFromInt(absInt64(r.BaseAssetAmount)).Div(baseScaleDec).Float64()
	quoteEntry, _ := decimal.NewFromInt(absInt64(r.QuoteEntryAmount)).Div(quoteScaleDec).Float64()

	entryPrice := 0.0
	if size > 0 {
		entryPrice = quoteEntry / size
	}

	direction := domain.DirectionLong
	if r.BaseAssetAmount < 0 {
		direction = domain.DirectionShort
	}

	// oracle 失败回退 0，下游 PnL 随之为 0，从不抛出
	markPrice := 0.0
	if d.Oracle != nil {
		if p, err := d.Oracle(r.MarketIndex); err == nil {
			markPrice = p
		}
	}

	pnl := 0.0
	if markPrice > 0 {
		if direction == domain.DirectionLong {
			pnl = (markPrice - entryPrice) * size
		} else {
			pnl = (entryPrice - markPrice) * size
		}
	}

	pnlPct := 0.0
	if entryValue := entryPrice * size; entryValue > 0 {
		pnlPct = pnl / entryValue * 100
	}

	symbol := ""
	if d.Symbol != nil {
		symbol = d.Symbol(r.MarketIndex)
	}
	if symbol == "" {
		symbol = fmt.Sprintf("MARKET-%d", r.MarketIndex)
	}

	return domain.Position{
		ID:               fmt.Sprintf("pos-%d", r.MarketIndex),
		Market:           symbol,
		Direction:        direction,
		Size:             size,
		EntryPrice:       entryPrice,
		MarkPrice:        markPrice,
		Pnl:              pnl,
		PnlPercentage:    pnlPct,
		Leverage:         EstimateLeverage(entryPrice*size, quoteEntry),
		LiquidationPrice: LiquidationPrice(entryPrice, direction),
	}
}

// EstimateLeverage 杠杆启发式推断。链上记录不含逐仓保证金，
// 只能近似：入场名义价值明显大于 quoteEntry 时用二者比值，
// 否则按名义价值分档估计。输出对给定输入是确定的；
// 非有限或非正结果回退 DefaultLeverage，最终钳制在 [1, 50]。
// 这是显式的近似值，系统其他部分不得把它当作真实保证金。
func EstimateLeverage(entryNotional, quoteEntry float64) float64 {
	var lev float64
	switch {
	case quoteEntry > 0 && quoteEntry < entryNotional*0.9:
		lev = entryNotional / quoteEntry
	case entryNotional > 100_000:
		lev = 30
	case entryNotional > 50_000:
		lev = 20
	case entryNotional > 10_000:
		lev = 10
	default:
		lev = 5
	}

	if math.IsNaN(lev) || math.IsInf(lev, 0) || lev <= 0 {
		return DefaultLeverage
	}
	if lev < 1 {
		return 1
	}
	if lev > 50 {
		return 50
	}
	return lev
}

// LiquidationPrice 估算强平价：多头 entry*(1-mmr)，空头 entry*(1+mmr)
func LiquidationPrice(entryPrice float64, direction domain.Direction) float64 {
	if direction == domain.DirectionShort {
		return entryPrice * (1 + MaintenanceMarginRatio)
	}
	return entryPrice * (1 - MaintenanceMarginRatio)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
