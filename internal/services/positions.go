package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/internal/perp"
	"github.com/soldesk/goperp/pkg/solana"
)

// PositionService 按钱包抓取并解码仓位
type PositionService struct {
	chain     AccountReader
	markets   *MarketDataService
	programID string
	log       *logrus.Entry
}

// NewPositionService 创建仓位服务
func NewPositionService(chain AccountReader, markets *MarketDataService, programID string) *PositionService {
	return &PositionService{
		chain:     chain,
		markets:   markets,
		programID: programID,
		log:       logrus.WithField("component", "positions"),
	}
}

// FetchPositions 抓取钱包的全部非零仓位。
// 交易账户不存在视为无仓位（返回空列表），不是错误。
// oracle 查询失败由解码器退化处理（mark=0 / pnl=0），不会中断列表。
func (s *PositionService) FetchPositions(ctx context.Context, wallet string) ([]domain.Position, error) {
	if err := solana.ValidateAddress(wallet); err != nil {
		return nil, domain.NewValidationError("walletAddress", err.Error())
	}

	userAccount := perp.DeriveUserAccount(s.programID, wallet)
	info, err := s.chain.GetAccountInfo(ctx, userAccount)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return []domain.Position{}, nil
	}

	data, err := info.DataBytes()
	if err != nil {
		return nil, err
	}

	decoder := &perp.Decoder{
		Oracle: func(marketIndex int) (float64, error) {
			return s.markets.OraclePrice(ctx, marketIndex)
		},
		Symbol: s.markets.SymbolFor,
	}
	positions := decoder.Decode(perp.ParsePositions(data))

	s.log.Debugf("钱包 %s 解码出 %d 个仓位", solana.ShortAddress(wallet), len(positions))
	return positions, nil
}
