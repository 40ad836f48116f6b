// Package solana 提供对链 JSON-RPC 的限速、重试访问层。
// 所有出站链上调用（tick 驱动的仓位抓取、HTTP handler、交易构建）
// 共用同一个 Client，经过同一个最小间隔限速器串行排队。
package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/pkg/ratelimit"
)

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
)

// Config RPC 客户端配置
type Config struct {
	Endpoint    string
	MinInterval time.Duration // 相邻两次调用的最小间隔
	MaxRetries  int           // 单次 Call 的最大重试次数
	Timeout     time.Duration // 单次 HTTP 请求超时
}

// Client 链 RPC 网关：限速 + 指数退避重试。
// 重试耗尽后把最后一次错误原样交给调用方，从不静默吞掉。
type Client struct {
	http    *resty.Client
	limiter *ratelimit.IntervalLimiter
	cfg     Config
	log     *logrus.Entry
	reqID   atomic.Uint64
}

// NewClient 创建 RPC 客户端
func NewClient(cfg Config) *Client {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY / HTTPS_PROXY）
	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		limiter: ratelimit.NewIntervalLimiter(cfg.MinInterval),
		cfg:     cfg,
		log:     logrus.WithField("component", "solana-rpc"),
	}
}

// rpcRequest JSON-RPC 2.0 请求体
type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCError 节点返回的 JSON-RPC 错误对象
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call 发起一次 JSON-RPC 调用，结果反序列化进 out。
// 每次尝试都要先过限速器；失败按指数退避重试（基础延迟翻倍、封顶），
// 上游给出 Retry-After 提示时优先采用。
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{
		Jsonrpc: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}

	var lastErr error
	delay := defaultRetryBaseDelay

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > defaultRetryMaxDelay {
				delay = defaultRetryMaxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			Post("")
		if err != nil {
			lastErr = err
			c.log.Warnf("%s 调用失败（第 %d 次）: %v", method, attempt+1, err)
			continue
		}

		if resp.StatusCode() == 429 {
			lastErr = fmt.Errorf("rate limited by upstream (429)")
			// 上游限流：优先使用 Retry-After 提示
			if ra := resp.Header().Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
					delay = time.Duration(secs) * time.Second
				}
			}
			c.log.Warnf("%s 被上游限流（第 %d 次），退避 %v", method, attempt+1, delay)
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("upstream http %d: %s", resp.StatusCode(), resp.Status())
			continue
		}
		if !resp.IsSuccess() {
			// 4xx（非 429）不可重试，直接返回
			return &domain.UpstreamError{
				Op:  method,
				Err: fmt.Errorf("http %d: %s", resp.StatusCode(), string(resp.Body())),
			}
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
			lastErr = fmt.Errorf("decode rpc response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			// 节点层错误（参数/状态问题）不属于传输故障，不重试
			return rpcResp.Error
		}
		if out != nil && len(rpcResp.Result) > 0 {
			if err := json.Unmarshal(rpcResp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}

	return &domain.UpstreamError{Op: method, Err: lastErr}
}
