package solana

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// ValidateAddress 校验链地址格式：base58 编码的 32 字节 ed25519 公钥。
// 绑定钱包、查询仓位等所有接受外部地址的入口都必须先过这里。
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("empty address")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("not base58: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("decoded length %d, want 32", len(raw))
	}
	return nil
}

// ShortAddress 日志用缩写（前 4 + 后 4）
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:4] + ".." + address[len(address)-4:]
}
