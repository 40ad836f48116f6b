package solana

// AccountMeta 指令引用的账户及其权限
type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// Instruction 单条未签名指令。Data 序列化为 base64（encoding/json 对
// []byte 的默认行为），浏览器端用 web3.js 原样重组。
type Instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// UnsignedTransaction 未签名交易：有序指令列表 + blockhash + 手续费付款人。
// 一次性结构：blockhash 过期即整体作废，必须重建。签名永远在客户端完成。
type UnsignedTransaction struct {
	Instructions         []Instruction `json:"instructions"`
	Blockhash            string        `json:"blockhash"`
	LastValidBlockHeight uint64        `json:"lastValidBlockHeight"`
	FeePayer             string        `json:"feePayer"`
}
