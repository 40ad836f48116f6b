package services

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/internal/perp"
)

const (
	testWallet  = "11111111111111111111111111111111"
	testProgram = "ComputeBudget111111111111111111111111111111"
)

// userAccountData 构造用户账户字节：8 字节头 + 18 字节定长记录
func userAccountData(records ...[3]int64) []byte {
	buf := make([]byte, 8+18*len(records))
	for i, rec := range records {
		off := 8 + 18*i
		binary.LittleEndian.PutUint16(buf[off:], uint16(rec[0]))
		binary.LittleEndian.PutUint64(buf[off+2:], uint64(rec[1]))
		binary.LittleEndian.PutUint64(buf[off+10:], uint64(rec[2]))
	}
	return buf
}

// TestFetchPositions_NoAccount 交易账户不存在 -> 空列表而非错误
func TestFetchPositions_NoAccount(t *testing.T) {
	reader := &fakeAccountReader{data: map[string][]byte{}}
	markets := NewMarketDataService(reader, testMarkets(), time.Minute)
	svc := NewPositionService(reader, markets, testProgram)

	positions, err := svc.FetchPositions(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if positions == nil || len(positions) != 0 {
		t.Errorf("期望空列表，得到 %v", positions)
	}
}

// TestFetchPositions_InvalidWallet 非法地址在触链前被拒绝
func TestFetchPositions_InvalidWallet(t *testing.T) {
	reader := &fakeAccountReader{data: map[string][]byte{}}
	markets := NewMarketDataService(reader, testMarkets(), time.Minute)
	svc := NewPositionService(reader, markets, testProgram)

	_, err := svc.FetchPositions(context.Background(), "bad!address")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("期望 ValidationError，得到 %v", err)
	}
	if reader.callCount() != 0 {
		t.Error("非法地址不应触链")
	}
}

// TestFetchPositions_Decode 整链路：账户字节 -> 解码仓位（零仓被过滤）
func TestFetchPositions_Decode(t *testing.T) {
	userAccount := perp.DeriveUserAccount(testProgram, testWallet)
	reader := &fakeAccountReader{data: map[string][]byte{
		userAccount:  userAccountData([3]int64{0, 2 * perp.BaseScale, 200 * perp.QuoteScale}, [3]int64{1, 0, 0}),
		"oracle-sol": oracleData(110),
	}}
	markets := NewMarketDataService(reader, testMarkets(), time.Minute)
	svc := NewPositionService(reader, markets, testProgram)

	positions, err := svc.FetchPositions(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("期望 1 个仓位（零仓被过滤），得到 %d", len(positions))
	}

	p := positions[0]
	if p.Market != "SOL-PERP" {
		t.Errorf("期望 SOL-PERP，得到 %s", p.Market)
	}
	if p.Direction != domain.DirectionLong || p.Size != 2 {
		t.Errorf("方向/规模错误: %+v", p)
	}
	if p.EntryPrice != 100 || p.MarkPrice != 110 {
		t.Errorf("价格错误: entry=%v mark=%v", p.EntryPrice, p.MarkPrice)
	}
	if p.Pnl != 20 {
		t.Errorf("期望 pnl=20，得到 %v", p.Pnl)
	}
}
