package services

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soldesk/goperp/pkg/config"
	"github.com/soldesk/goperp/pkg/solana"
)

// fakeAccountReader 地址 -> 账户数据，并统计链访问次数
type fakeAccountReader struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	calls int
}

func (f *fakeAccountReader) GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.data[address]
	if !ok {
		return nil, nil
	}
	return &solana.AccountInfo{
		Data: []string{base64.StdEncoding.EncodeToString(raw), "base64"},
	}, nil
}

func (f *fakeAccountReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// oracleData 构造 oracle 账户字节：前 8 字节小端 i64 定点价格（1e6 刻度）
func oracleData(price float64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, uint64(int64(price*1e6)))
	return buf
}

func testMarkets() []config.MarketConfig {
	return []config.MarketConfig{
		{Symbol: "SOL-PERP", MarketIndex: 0, OracleAccount: "oracle-sol", ReferencePrice: 95, FundingRate: 0.0001},
		{Symbol: "BTC-PERP", MarketIndex: 1, OracleAccount: "oracle-btc", ReferencePrice: 60000, FundingRate: 0.0002},
	}
}

// TestOraclePrice_CachedWithinTTL 同一 tick 窗口内重复查询只触链一次
func TestOraclePrice_CachedWithinTTL(t *testing.T) {
	reader := &fakeAccountReader{data: map[string][]byte{
		"oracle-sol": oracleData(101.5),
	}}
	svc := NewMarketDataService(reader, testMarkets(), time.Minute)

	for i := 0; i < 3; i++ {
		price, err := svc.OraclePrice(context.Background(), 0)
		if err != nil {
			t.Fatalf("OraclePrice: %v", err)
		}
		if price != 101.5 {
			t.Fatalf("期望 101.5，得到 %v", price)
		}
	}
	if n := reader.callCount(); n != 1 {
		t.Errorf("期望 1 次链访问，实际 %d", n)
	}
}

// TestOraclePrice_UnknownIndex 未配置的市场编号返回 NotFound
func TestOraclePrice_UnknownIndex(t *testing.T) {
	svc := NewMarketDataService(&fakeAccountReader{}, testMarkets(), time.Minute)
	if _, err := svc.OraclePrice(context.Background(), 99); err == nil {
		t.Fatal("期望未知市场报错")
	}
}

// TestSnapshot_SharedWithinTick tick 窗口内的快照共享同一次上游抓取
func TestSnapshot_SharedWithinTick(t *testing.T) {
	reader := &fakeAccountReader{data: map[string][]byte{
		"oracle-sol": oracleData(100),
		"oracle-btc": oracleData(65000),
	}}
	svc := NewMarketDataService(reader, testMarkets(), time.Minute)

	first := svc.Snapshot(context.Background())
	if len(first) != 2 {
		t.Fatalf("期望 2 个市场，得到 %d", len(first))
	}
	callsAfterFirst := reader.callCount()

	second := svc.Snapshot(context.Background())
	if reader.callCount() != callsAfterFirst {
		t.Error("窗口内第二次快照不应触链")
	}

	// 返回的是副本，调用方改写不影响缓存
	second[0].Price = -1
	third := svc.Snapshot(context.Background())
	if third[0].Price == -1 {
		t.Error("快照应返回副本")
	}

	if first[0].Symbol != "SOL-PERP" || first[0].Price != 100 {
		t.Errorf("市场 0 错误: %+v", first[0])
	}
	if first[1].Symbol != "BTC-PERP" || first[1].Price != 65000 {
		t.Errorf("市场 1 错误: %+v", first[1])
	}
	if first[0].FundingRate != 0.0001 {
		t.Errorf("fundingRate 未带出: %v", first[0].FundingRate)
	}
}

// TestSnapshot_FallbackToReferencePrice 价格抓取失败退化为参考价，不中断快照
func TestSnapshot_FallbackToReferencePrice(t *testing.T) {
	reader := &fakeAccountReader{err: errors.New("rpc down")}
	svc := NewMarketDataService(reader, testMarkets(), time.Minute)

	snapshot := svc.Snapshot(context.Background())
	if len(snapshot) != 2 {
		t.Fatalf("期望 2 个市场，得到 %d", len(snapshot))
	}
	if snapshot[0].Price != 95 {
		t.Errorf("期望参考价 95，得到 %v", snapshot[0].Price)
	}
	if snapshot[1].Price != 60000 {
		t.Errorf("期望参考价 60000，得到 %v", snapshot[1].Price)
	}
}

// TestSnapshot_Stats 滚动统计跟随价格
func TestSnapshot_Stats(t *testing.T) {
	reader := &fakeAccountReader{data: map[string][]byte{
		"oracle-sol": oracleData(100),
		"oracle-btc": oracleData(65000),
	}}
	// TTL 取极小值让每次快照都重新抓取
	svc := NewMarketDataService(reader, testMarkets(), time.Nanosecond)

	svc.Snapshot(context.Background())
	reader.mu.Lock()
	reader.data["oracle-sol"] = oracleData(110)
	reader.mu.Unlock()
	time.Sleep(time.Millisecond)

	snapshot := svc.Snapshot(context.Background())
	sol := snapshot[0]
	if sol.High24h != 110 || sol.Low24h != 100 {
		t.Errorf("期望 high=110 low=100，得到 high=%v low=%v", sol.High24h, sol.Low24h)
	}
	if sol.Change24h <= 9.9 || sol.Change24h >= 10.1 {
		t.Errorf("期望涨幅约 10%%，得到 %v", sol.Change24h)
	}
}

// TestMarketBySymbol 配置视图查询
func TestMarketBySymbol(t *testing.T) {
	svc := NewMarketDataService(&fakeAccountReader{}, testMarkets(), time.Minute)

	m, ok := svc.MarketBySymbol("SOL-PERP")
	if !ok || m.MarketIndex != 0 || m.ReferencePrice != 95 {
		t.Errorf("MarketBySymbol 错误: %+v ok=%v", m, ok)
	}
	if _, ok := svc.MarketBySymbol("DOGE-PERP"); ok {
		t.Error("未配置市场不应命中")
	}
	if got := svc.SymbolFor(1); got != "BTC-PERP" {
		t.Errorf("SymbolFor(1) = %q", got)
	}
	if got := svc.SymbolFor(99); got != "" {
		t.Errorf("未知编号应返回空串，得到 %q", got)
	}
}

// TestParseOraclePrice 字节布局边界
func TestParseOraclePrice(t *testing.T) {
	if _, err := parseOraclePrice([]byte{1, 2, 3}); err == nil {
		t.Error("短数据应报错")
	}
	if _, err := parseOraclePrice(make([]byte, 8)); err == nil {
		t.Error("零价格应报错")
	}
	price, err := parseOraclePrice(oracleData(123.456))
	if err != nil {
		t.Fatalf("parseOraclePrice: %v", err)
	}
	if price != 123.456 {
		t.Errorf("期望 123.456，得到 %v", price)
	}
}
