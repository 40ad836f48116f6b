package domain

// Market 市场快照（每个广播 tick 重新生成，除 symbol 外没有持久身份）
type Market struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change24h"`
	Volume24h    float64 `json:"volume24h"`
	High24h      float64 `json:"high24h"`
	Low24h       float64 `json:"low24h"`
	FundingRate  float64 `json:"fundingRate"`
	OpenInterest float64 `json:"openInterest"`

	// MarketIndex 协议内市场编号（oracle 查询与仓位记录都以此为键）
	MarketIndex int `json:"marketIndex"`

	// ReferencePrice 内部参考价，oracle 查询失败时的回退价
	ReferencePrice float64 `json:"-"`
}
