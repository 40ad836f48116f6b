package perp

import (
	"github.com/soldesk/goperp/internal/domain"
)

// 保证金计算默认参数
const (
	// MaxLeverage 配置的杠杆上限
	MaxLeverage = 25.0

	// DefaultSafetyBuffer 交易前安全缓冲（35%），
	// 吸收计算与上链之间的价格波动
	DefaultSafetyBuffer = 0.35
)

// Plan 规划可达仓位规模与实际杠杆。
// 不变式：MarginUsed <= collateral 且 ActualLeverage <= MaxLeverage。
//
// 注：requiredMargin = desiredSize / effectiveLeverage 数学上恒等于
// tradeAmount——杠杆只放大名义价值，不减少所需现金。该公式沿用上游
// 观测到的逻辑，与 SafetyCheck 的 tradeAmount/leverage 口径并列保留。
func Plan(tradeAmount, leverage, collateral float64) domain.MarginPlan {
	effectiveLeverage := leverage
	if effectiveLeverage > MaxLeverage {
		effectiveLeverage = MaxLeverage
	}
	if effectiveLeverage < 1 {
		effectiveLeverage = 1
	}

	desiredSize := tradeAmount * effectiveLeverage
	requiredMargin := desiredSize / effectiveLeverage

	if requiredMargin > collateral {
		// 抵押不足：收缩到可负担规模
		return domain.MarginPlan{
			PositionSize:    collateral * effectiveLeverage,
			ActualLeverage:  effectiveLeverage,
			MarginUsed:      collateral,
			LimitedByMargin: true,
		}
	}

	return domain.MarginPlan{
		PositionSize:    desiredSize,
		ActualLeverage:  effectiveLeverage,
		MarginUsed:      requiredMargin,
		LimitedByMargin: false,
	}
}

// SafetyCheck 交易构建前的附加安全校验：
// 要求 collateral >= tradeAmount/leverage * (1+buffer)，
// 不满足则返回携带缺口的 InsufficientMarginError，交易构建中止。
func SafetyCheck(tradeAmount, leverage, collateral, buffer float64) error {
	if buffer <= 0 {
		buffer = DefaultSafetyBuffer
	}
	if leverage < 1 {
		leverage = 1
	}

	need := tradeAmount / leverage * (1 + buffer)
	if collateral < need {
		return &domain.InsufficientMarginError{Have: collateral, Need: need}
	}
	return nil
}
