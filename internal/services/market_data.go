// Package services 聚合链访问与领域逻辑，向 HTTP/WS 层提供
// 市场快照与仓位查询。
package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/pkg/cache"
	"github.com/soldesk/goperp/pkg/config"
	"github.com/soldesk/goperp/pkg/solana"
)

// AccountReader 市场数据服务需要的链访问
type AccountReader interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
}

// marketStats 进程内滚动统计（24 小时窗口）
type marketStats struct {
	windowStart time.Time
	open        float64
	high        float64
	low         float64
}

// MarketDataService 市场数据服务：oracle 价格 + 快照缓存。
// 快照按 tick 窗口缓存，REST 与 WS tick 在同一窗口内共享一次上游抓取。
type MarketDataService struct {
	chain       AccountReader
	markets     []config.MarketConfig
	bySymbol    map[string]config.MarketConfig
	byIndex     map[int]config.MarketConfig
	priceCache  *cache.OraclePriceCache
	snapshotTTL time.Duration

	snapMu   sync.Mutex
	snapshot []domain.Market
	snapAt   time.Time

	statsMu sync.Mutex
	stats   map[string]*marketStats

	log *logrus.Entry
}

// NewMarketDataService 创建市场数据服务
func NewMarketDataService(chain AccountReader, markets []config.MarketConfig, snapshotTTL time.Duration) *MarketDataService {
	if snapshotTTL <= 0 {
		snapshotTTL = 5 * time.Second
	}
	s := &MarketDataService{
		chain:       chain,
		markets:     markets,
		bySymbol:    make(map[string]config.MarketConfig, len(markets)),
		byIndex:     make(map[int]config.MarketConfig, len(markets)),
		priceCache:  cache.NewOraclePriceCache(snapshotTTL),
		snapshotTTL: snapshotTTL,
		stats:       make(map[string]*marketStats),
		log:         logrus.WithField("component", "market-data"),
	}
	for _, m := range markets {
		s.bySymbol[m.Symbol] = m
		s.byIndex[m.MarketIndex] = m
	}
	return s
}

// MarketBySymbol 按符号查市场（配置视图）
func (s *MarketDataService) MarketBySymbol(symbol string) (*domain.Market, bool) {
	mc, ok := s.bySymbol[symbol]
	if !ok {
		return nil, false
	}
	m := s.configToMarket(mc)
	return &m, true
}

// SymbolFor 按市场编号查符号
func (s *MarketDataService) SymbolFor(marketIndex int) string {
	if mc, ok := s.byIndex[marketIndex]; ok {
		return mc.Symbol
	}
	return ""
}

// OraclePrice 查 oracle 价格：缓存 -> 链 -> 错误。
// 调用方自行决定回退策略（解码器回退 0，构建器回退参考价）。
func (s *MarketDataService) OraclePrice(ctx context.Context, marketIndex int) (float64, error) {
	if price, ok := s.priceCache.Get(marketIndex); ok {
		return price, nil
	}

	mc, ok := s.byIndex[marketIndex]
	if !ok {
		return 0, &domain.NotFoundError{Kind: "market", Key: fmt.Sprintf("index %d", marketIndex)}
	}

	info, err := s.chain.GetAccountInfo(ctx, mc.OracleAccount)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, &domain.NotFoundError{Kind: "oracle account", Key: mc.OracleAccount}
	}
	data, err := info.DataBytes()
	if err != nil {
		return 0, err
	}
	price, err := parseOraclePrice(data)
	if err != nil {
		return 0, err
	}

	s.priceCache.Set(marketIndex, price)
	return price, nil
}

// Snapshot 生成市场快照。tick 窗口内重复调用返回缓存副本，
// 保证一个 tick 的所有连接共享同一份数据。
// 个别市场价格抓取失败时退化为参考价，不中断整个快照。
func (s *MarketDataService) Snapshot(ctx context.Context) []domain.Market {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	if s.snapshot != nil && time.Since(s.snapAt) < s.snapshotTTL {
		out := make([]domain.Market, len(s.snapshot))
		copy(out, s.snapshot)
		return out
	}

	snapshot := make([]domain.Market, 0, len(s.markets))
	for _, mc := range s.markets {
		m := s.configToMarket(mc)
		price, err := s.OraclePrice(ctx, mc.MarketIndex)
		if err != nil || price <= 0 {
			if err != nil {
				s.log.Warnf("市场 %s 价格抓取失败，使用参考价: %v", mc.Symbol, err)
			}
			price = mc.ReferencePrice
		}
		m.Price = price
		s.applyStats(&m)
		snapshot = append(snapshot, m)
	}

	s.snapshot = snapshot
	s.snapAt = time.Now()

	out := make([]domain.Market, len(snapshot))
	copy(out, snapshot)
	return out
}

func (s *MarketDataService) configToMarket(mc config.MarketConfig) domain.Market {
	return domain.Market{
		Symbol:         mc.Symbol,
		MarketIndex:    mc.MarketIndex,
		FundingRate:    mc.FundingRate,
		OpenInterest:   mc.OpenInterest,
		ReferencePrice: mc.ReferencePrice,
	}
}

// applyStats 维护 24 小时滚动窗口并填充 change/high/low
func (s *MarketDataService) applyStats(m *domain.Market) {
	if m.Price <= 0 {
		return
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st, ok := s.stats[m.Symbol]
	if !ok || time.Since(st.windowStart) > 24*time.Hour {
		st = &marketStats{
			windowStart: time.Now(),
			open:        m.Price,
			high:        m.Price,
			low:         m.Price,
		}
		s.stats[m.Symbol] = st
	}
	if m.Price > st.high {
		st.high = m.Price
	}
	if m.Price < st.low {
		st.low = m.Price
	}

	m.High24h = st.high
	m.Low24h = st.low
	if st.open > 0 {
		m.Change24h = (m.Price - st.open) / st.open * 100
	}
}

// parseOraclePrice oracle 账户布局：前 8 字节小端 i64 价格（1e6 刻度）
func parseOraclePrice(data []byte) (float64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("oracle data too short: %d bytes", len(data))
	}
	fixed := int64(binary.LittleEndian.Uint64(data[:8]))
	if fixed <= 0 {
		return 0, fmt.Errorf("oracle price non-positive: %d", fixed)
	}
	return float64(fixed) / 1e6, nil
}
