package solana

import (
	"context"
	"encoding/base64"
	"fmt"
)

// commitment 级别
const (
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// AccountInfo getAccountInfo 返回的账户视图
type AccountInfo struct {
	Lamports uint64   `json:"lamports"`
	Owner    string   `json:"owner"`
	Data     []string `json:"data"` // [base64 数据, "base64"]
}

// DataBytes 解出账户原始数据
func (a *AccountInfo) DataBytes() ([]byte, error) {
	if a == nil || len(a.Data) == 0 {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(a.Data[0])
}

// BlockhashInfo getLatestBlockhash 返回值
type BlockhashInfo struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SignatureStatus getSignatureStatuses 的单条状态。
// ConfirmationStatus 取值 processed / confirmed / finalized。
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	ConfirmationStatus string      `json:"confirmationStatus"`
	Err                interface{} `json:"err"`
}

// TokenAccount getTokenAccountsByOwner 的单条结果
type TokenAccount struct {
	Pubkey string `json:"pubkey"`
}

// contextValue 带 context 包裹的 RPC 返回通用结构
type contextValue[T any] struct {
	Value T `json:"value"`
}

// GetAccountInfo 获取账户信息；账户不存在时返回 (nil, nil)。
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var out contextValue[*AccountInfo]
	params := []interface{}{
		address,
		map[string]interface{}{"encoding": "base64", "commitment": CommitmentConfirmed},
	}
	if err := c.Call(ctx, "getAccountInfo", params, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// GetLatestBlockhash 获取最新 blockhash（finalized：最终化程度最高的承诺级别）
func (c *Client) GetLatestBlockhash(ctx context.Context) (*BlockhashInfo, error) {
	var out contextValue[*BlockhashInfo]
	params := []interface{}{
		map[string]interface{}{"commitment": CommitmentFinalized},
	}
	if err := c.Call(ctx, "getLatestBlockhash", params, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		return nil, fmt.Errorf("getLatestBlockhash: empty result")
	}
	return out.Value, nil
}

// SendRawTransaction 中继已签名的交易字节（base64），返回签名。
// 只发送一次；重提交由调用方在重新签名后执行。
func (c *Client) SendRawTransaction(ctx context.Context, signedBase64 string) (string, error) {
	var sig string
	params := []interface{}{
		signedBase64,
		map[string]interface{}{"encoding": "base64"},
	}
	if err := c.Call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// GetSignatureStatus 查询单个签名的确认状态。
// 状态未知（节点近期状态缓存与历史记录都查不到）时返回 (nil, nil)，
// searchHistory=true 时该结果即意味着交易已被丢弃。
func (c *Client) GetSignatureStatus(ctx context.Context, signature string, searchHistory bool) (*SignatureStatus, error) {
	var out contextValue[[]*SignatureStatus]
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": searchHistory},
	}
	if err := c.Call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// TokenBalance getTokenAccountBalance 返回值
type TokenBalance struct {
	Amount   string  `json:"amount"`
	Decimals int     `json:"decimals"`
	UIAmount float64 `json:"uiAmount"`
}

// GetTokenAccountBalance 查询 token account 余额（十进制 UI 数值）
func (c *Client) GetTokenAccountBalance(ctx context.Context, account string) (float64, error) {
	var out contextValue[*TokenBalance]
	params := []interface{}{account}
	if err := c.Call(ctx, "getTokenAccountBalance", params, &out); err != nil {
		return 0, err
	}
	if out.Value == nil {
		return 0, nil
	}
	return out.Value.UIAmount, nil
}

// GetTokenAccountsByOwner 列出钱包持有的某 mint 的 token account
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccount, error) {
	var out contextValue[[]TokenAccount]
	params := []interface{}{
		owner,
		map[string]interface{}{"mint": mint},
		map[string]interface{}{"encoding": "base64"},
	}
	if err := c.Call(ctx, "getTokenAccountsByOwner", params, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}
