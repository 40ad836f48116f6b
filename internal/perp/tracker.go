package perp

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/pkg/solana"
)

// 确认跟踪默认参数
const (
	defaultPollInterval = 2 * time.Second
	defaultPollJitter   = 250 * time.Millisecond
	defaultWaitCeiling  = 60 * time.Second
)

// StatusClient 跟踪器需要的链访问：提交 + 状态查询
type StatusClient interface {
	SendRawTransaction(ctx context.Context, signedBase64 string) (string, error)
	GetSignatureStatus(ctx context.Context, signature string, searchHistory bool) (*solana.SignatureStatus, error)
}

// TrackedTransaction 单笔已提交交易的跟踪状态
type TrackedTransaction struct {
	Signature   string            `json:"signature"`
	State       domain.TradeState `json:"state"`
	ChainError  string            `json:"chainError,omitempty"`
	SubmittedAt time.Time         `json:"submittedAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// TerminalHook 终态回调（交易流水落库用）
type TerminalHook func(signature string, state domain.TradeState, chainErr string)

// Tracker 提交/确认状态机：
// Submitted -> Pending -> {Confirmed | Failed | Dropped | TimedOut}。
// blockhash 过期导致的重签重发属于调用方职责（签名在外部钱包完成），
// 跟踪器不隐藏这类重试。
type Tracker struct {
	chain    StatusClient
	interval time.Duration
	jitter   time.Duration
	ceiling  time.Duration

	mu  sync.RWMutex
	txs map[string]*TrackedTransaction

	onTerminal TerminalHook
	log        *logrus.Entry
}

// NewTracker 创建确认跟踪器
func NewTracker(chain StatusClient, onTerminal TerminalHook) *Tracker {
	return &Tracker{
		chain:      chain,
		interval:   defaultPollInterval,
		jitter:     defaultPollJitter,
		ceiling:    defaultWaitCeiling,
		txs:        make(map[string]*TrackedTransaction),
		onTerminal: onTerminal,
		log:        logrus.WithField("component", "confirm-tracker"),
	}
}

// Submit 把已签名交易字节中继上链（只发一次），
// 返回签名并启动后台轮询直至终态。
func (t *Tracker) Submit(ctx context.Context, signedBase64 string) (string, error) {
	sig, err := t.chain.SendRawTransaction(ctx, signedBase64)
	if err != nil {
		return "", err
	}

	now := time.Now()
	t.mu.Lock()
	t.txs[sig] = &TrackedTransaction{
		Signature:   sig,
		State:       domain.TradeStateSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	t.mu.Unlock()

	go t.track(sig)

	t.log.Infof("交易已提交: %s", sig)
	return sig, nil
}

// Status 查询跟踪中（或已终态）的交易状态
func (t *Tracker) Status(signature string) (TrackedTransaction, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tx, ok := t.txs[signature]
	if !ok {
		return TrackedTransaction{}, false
	}
	return *tx, true
}

// track 后台轮询循环。固定间隔加随机抖动，
// 避免大量客户端同步轮询形成风暴；总等待设硬上限。
func (t *Tracker) track(signature string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.ceiling)
	defer cancel()

	t.setState(signature, domain.TradeStatePending, "")

	for {
		select {
		case <-ctx.Done():
			// 超出硬上限：终态但仅为告知性质（交易之后仍可能确认）
			t.setState(signature, domain.TradeStateTimedOut, "")
			t.log.Warnf("确认等待超时: %s", signature)
			return
		case <-time.After(t.nextDelay()):
		}

		status, err := t.chain.GetSignatureStatus(ctx, signature, true)
		if err != nil {
			// 上游故障不下结论，留给下一轮
			t.log.Warnf("查询签名状态失败: %s: %v", signature, err)
			continue
		}

		if status == nil {
			// 近期状态与历史记录都查不到：交易已被丢弃，用户需重新提交
			t.setState(signature, domain.TradeStateDropped, "")
			t.log.Warnf("交易已丢弃: %s", signature)
			return
		}
		if status.Err != nil {
			t.setState(signature, domain.TradeStateFailed, chainErrString(status.Err))
			t.log.Warnf("交易执行失败: %s: %v", signature, status.Err)
			return
		}
		switch status.ConfirmationStatus {
		case "confirmed", "finalized":
			t.setState(signature, domain.TradeStateConfirmed, "")
			t.log.Infof("交易已确认: %s (%s)", signature, status.ConfirmationStatus)
			return
		}
		// processed / 无状态字段：继续等待
	}
}

// nextDelay 轮询间隔 ± 抖动
func (t *Tracker) nextDelay() time.Duration {
	j := time.Duration(rand.Int63n(int64(2*t.jitter))) - t.jitter
	return t.interval + j
}

func (t *Tracker) setState(signature string, state domain.TradeState, chainErr string) {
	t.mu.Lock()
	tx, ok := t.txs[signature]
	if ok {
		tx.State = state
		tx.ChainError = chainErr
		tx.UpdatedAt = time.Now()
	}
	t.mu.Unlock()

	if ok && state.Terminal() && t.onTerminal != nil {
		t.onTerminal(signature, state, chainErr)
	}
}

// chainErrString 链上报告的错误通常是结构化对象，序列化为字符串透传给用户
func chainErrString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "transaction error"
	}
	return string(b)
}
