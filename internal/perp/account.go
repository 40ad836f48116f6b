package perp

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/mr-tron/base58"

	"github.com/soldesk/goperp/internal/domain"
)

// 用户账户数据布局：8 字节 discriminator 后跟定长仓位记录数组。
// 每条记录 18 字节：u16 marketIndex | i64 baseAssetAmount | i64 quoteEntryAmount
// （均为小端）。尾部不完整的记录直接忽略。
const (
	userAccountHeaderLen = 8
	rawPositionLen       = 18
)

// ParsePositions 从用户账户原始字节解出仓位记录列表。
// 空数据返回空列表；本函数不做业务过滤（零仓保留，由解码器过滤）。
func ParsePositions(data []byte) []domain.RawPosition {
	if len(data) <= userAccountHeaderLen {
		return nil
	}
	body := data[userAccountHeaderLen:]

	out := make([]domain.RawPosition, 0, len(body)/rawPositionLen)
	for off := 0; off+rawPositionLen <= len(body); off += rawPositionLen {
		rec := body[off : off+rawPositionLen]
		out = append(out, domain.RawPosition{
			MarketIndex:      int(binary.LittleEndian.Uint16(rec[0:2])),
			BaseAssetAmount:  int64(binary.LittleEndian.Uint64(rec[2:10])),
			QuoteEntryAmount: int64(binary.LittleEndian.Uint64(rec[10:18])),
		})
	}
	return out
}

// DeriveUserAccount 从 program 地址和钱包地址确定性推导用户交易账户地址。
// 同一 (program, wallet) 永远得到同一地址，查询与构建指令共用。
func DeriveUserAccount(programID, wallet string) string {
	h := sha256.New()
	if raw, err := base58.Decode(programID); err == nil {
		h.Write(raw)
	} else {
		h.Write([]byte(programID))
	}
	if raw, err := base58.Decode(wallet); err == nil {
		h.Write(raw)
	} else {
		h.Write([]byte(wallet))
	}
	h.Write([]byte("user"))
	return base58.Encode(h.Sum(nil))
}
