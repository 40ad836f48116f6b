package perp

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/pkg/solana"
)

// computeBudgetProgramID 计算预算系统 program（SetComputeUnitLimit）
const computeBudgetProgramID = "ComputeBudget111111111111111111111111111111"

// 指令 tag（协议侧 discriminator）
const (
	ixTagInitializeUser = 0
	ixTagDeposit        = 1
	ixTagPlaceOrder     = 2
)

// ChainReader 构建器需要的只读链访问
type ChainReader interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
	GetLatestBlockhash(ctx context.Context) (*solana.BlockhashInfo, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]solana.TokenAccount, error)
	GetTokenAccountBalance(ctx context.Context, account string) (float64, error)
}

// MarketSource 构建器需要的市场/价格查询
type MarketSource interface {
	MarketBySymbol(symbol string) (*domain.Market, bool)
	OraclePrice(ctx context.Context, marketIndex int) (float64, error)
}

// BuilderConfig 构建器配置
type BuilderConfig struct {
	ProgramID        string
	CollateralMint   string
	ComputeUnitLimit uint32  // 默认 400k
	SafetyBuffer     float64 // 默认 0.35
}

// Builder 未签名交易构建器。只读取链状态并序列化指令，
// 不触碰私钥，也不产生任何链上副作用。
type Builder struct {
	chain   ChainReader
	markets MarketSource
	cfg     BuilderConfig
	log     *logrus.Entry
}

// NewBuilder 创建交易构建器
func NewBuilder(chain ChainReader, markets MarketSource, cfg BuilderConfig) *Builder {
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = 400_000
	}
	if cfg.SafetyBuffer <= 0 {
		cfg.SafetyBuffer = DefaultSafetyBuffer
	}
	return &Builder{
		chain:   chain,
		markets: markets,
		cfg:     cfg,
		log:     logrus.WithField("component", "trade-builder"),
	}
}

// Collateral 查询钱包的可用抵押（抵押资产 token account 余额）。
// 找不到 token account 属于终态用户错误（ErrNoCollateralAccount），不重试。
func (b *Builder) Collateral(ctx context.Context, wallet string) (float64, string, error) {
	accounts, err := b.chain.GetTokenAccountsByOwner(ctx, wallet, b.cfg.CollateralMint)
	if err != nil {
		return 0, "", err
	}
	if len(accounts) == 0 {
		return 0, "", domain.ErrNoCollateralAccount
	}
	tokenAccount := accounts[0].Pubkey
	balance, err := b.chain.GetTokenAccountBalance(ctx, tokenAccount)
	if err != nil {
		return 0, "", err
	}
	return balance, tokenAccount, nil
}

// Build 组装开仓交易的有序指令列表并打包为未签名交易。
// 指令顺序不变式：compute budget -> （可选）账户初始化 -> 抵押充值 -> 下单。
func (b *Builder) Build(ctx context.Context, req domain.TradeRequest) (*solana.UnsignedTransaction, error) {
	direction := domain.Direction(req.Direction)
	if !direction.IsValid() {
		return nil, domain.NewValidationError("direction", "must be long or short")
	}
	if req.TradeAmount <= 0 {
		return nil, domain.NewValidationError("tradeAmount", "must be positive")
	}
	if err := solana.ValidateAddress(req.WalletAddress); err != nil {
		return nil, domain.NewValidationError("walletAddress", err.Error())
	}

	market, ok := b.markets.MarketBySymbol(req.MarketSymbol)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "market", Key: req.MarketSymbol}
	}

	// oracle 失败回退市场内部参考价
	price, err := b.markets.OraclePrice(ctx, market.MarketIndex)
	if err != nil || price <= 0 {
		if err != nil {
			b.log.Warnf("oracle 价格不可用（market=%s），回退参考价: %v", market.Symbol, err)
		}
		price = market.ReferencePrice
	}
	if price <= 0 {
		return nil, &domain.UpstreamError{Op: "oracle price", Err: errors.Errorf("no price for %s", market.Symbol)}
	}

	collateral, tokenAccount, err := b.Collateral(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if err := SafetyCheck(req.TradeAmount, req.Leverage, collateral, b.cfg.SafetyBuffer); err != nil {
		return nil, err
	}

	plan := Plan(req.TradeAmount, req.Leverage, collateral)

	// 目标名义价值 -> base 资产数量 -> 协议定点精度
	baseUnits := decimal.NewFromFloat(plan.PositionSize).
		Div(decimal.NewFromFloat(price)).
		Mul(baseScaleDec).
		IntPart()
	depositUnits := decimal.NewFromFloat(req.TradeAmount).Mul(quoteScaleDec).IntPart()

	userAccount := DeriveUserAccount(b.cfg.ProgramID, req.WalletAddress)

	instructions := []solana.Instruction{
		b.computeBudgetInstruction(),
	}

	// 钱包尚无交易账户时插入初始化指令
	info, err := b.chain.GetAccountInfo(ctx, userAccount)
	if err != nil {
		return nil, err
	}
	if info == nil {
		instructions = append(instructions, b.initializeUserInstruction(req.WalletAddress, userAccount))
	}

	instructions = append(instructions,
		b.depositInstruction(req.WalletAddress, userAccount, tokenAccount, uint64(depositUnits)),
		b.placeOrderInstruction(req.WalletAddress, userAccount, market.MarketIndex, direction, uint64(baseUnits)),
	)

	blockhash, err := b.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	b.log.Infof("构建未签名交易: wallet=%s market=%s dir=%s notional=%.2f lev=%.1f ix=%d",
		solana.ShortAddress(req.WalletAddress), market.Symbol, direction,
		plan.PositionSize, plan.ActualLeverage, len(instructions))

	return &solana.UnsignedTransaction{
		Instructions:         instructions,
		Blockhash:            blockhash.Blockhash,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
		FeePayer:             req.WalletAddress,
	}, nil
}

func (b *Builder) computeBudgetInstruction() solana.Instruction {
	// SetComputeUnitLimit: tag 0x02 + u32 LE units
	data := make([]byte, 5)
	data[0] = 0x02
	binary.LittleEndian.PutUint32(data[1:], b.cfg.ComputeUnitLimit)
	return solana.Instruction{
		ProgramID: computeBudgetProgramID,
		Accounts:  []solana.AccountMeta{},
		Data:      data,
	}
}

func (b *Builder) initializeUserInstruction(wallet, userAccount string) solana.Instruction {
	return solana.Instruction{
		ProgramID: b.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			{Pubkey: userAccount, IsSigner: false, IsWritable: true},
			{Pubkey: wallet, IsSigner: true, IsWritable: true},
		},
		Data: []byte{ixTagInitializeUser},
	}
}

func (b *Builder) depositInstruction(wallet, userAccount, tokenAccount string, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = ixTagDeposit
	binary.LittleEndian.PutUint64(data[1:], amount)
	return solana.Instruction{
		ProgramID: b.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			{Pubkey: userAccount, IsSigner: false, IsWritable: true},
			{Pubkey: tokenAccount, IsSigner: false, IsWritable: true},
			{Pubkey: wallet, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}

func (b *Builder) placeOrderInstruction(wallet, userAccount string, marketIndex int, direction domain.Direction, baseUnits uint64) solana.Instruction {
	// tag + u16 marketIndex + u8 direction + u64 baseUnits + u8 reduceOnly
	data := make([]byte, 13)
	data[0] = ixTagPlaceOrder
	binary.LittleEndian.PutUint16(data[1:], uint16(marketIndex))
	if direction == domain.DirectionShort {
		data[3] = 1
	}
	binary.LittleEndian.PutUint64(data[4:], baseUnits)
	data[12] = 0 // 市价开仓，reduce-only 恒为 false
	return solana.Instruction{
		ProgramID: b.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			{Pubkey: userAccount, IsSigner: false, IsWritable: true},
			{Pubkey: wallet, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}
