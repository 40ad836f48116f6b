package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MarketConfig 单个市场的静态配置
type MarketConfig struct {
	Symbol         string  `yaml:"symbol"`
	MarketIndex    int     `yaml:"market_index"`
	OracleAccount  string  `yaml:"oracle_account"`  // oracle 价格账户地址
	ReferencePrice float64 `yaml:"reference_price"` // oracle 不可用时的内部参考价
	FundingRate    float64 `yaml:"funding_rate"`
	OpenInterest   float64 `yaml:"open_interest"` // 市场未平仓量（静态行情字段）
}

// Config 应用配置
type Config struct {
	ListenAddr       string         // HTTP 监听地址
	RPCEndpoint      string         // 链 RPC 端点 URL
	Network          string         // 目标网络标识（mainnet-beta / devnet）
	ProgramID        string         // 衍生品协议 program 地址
	CollateralMint   string         // 抵押资产 mint 地址（USDC）
	MinRPCIntervalMS int            // RPC 最小调用间隔（毫秒）
	MaxRetries       int            // RPC 最大重试次数
	RPCTimeoutSec    int            // 单次 RPC 调用超时（秒）
	TickSeconds      int            // 广播 tick 间隔（秒）
	JournalDB        string         // 交易流水 sqlite 路径
	LogLevel         string         // 日志级别
	LogFile          string         // 日志文件路径（可选）
	Markets          []MarketConfig // 市场列表
}

// configFile 配置文件结构（用于 YAML 解析）
type configFile struct {
	Server struct {
		Listen    string `yaml:"listen"`
		TickSec   int    `yaml:"tick_seconds"`
		JournalDB string `yaml:"journal_db"`
	} `yaml:"server"`
	Chain struct {
		RPCEndpoint      string `yaml:"rpc_endpoint"`
		Network          string `yaml:"network"`
		ProgramID        string `yaml:"program_id"`
		CollateralMint   string `yaml:"collateral_mint"`
		MinRPCIntervalMS int    `yaml:"min_rpc_interval_ms"`
		MaxRetries       int    `yaml:"max_retries"`
		RPCTimeoutSec    int    `yaml:"rpc_timeout_seconds"`
	} `yaml:"chain"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Markets []MarketConfig `yaml:"markets"`
}

// Load 加载配置：YAML 文件（可选）-> 环境变量覆盖 -> 默认值兜底
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:       ":8080",
		Network:          "devnet",
		MinRPCIntervalMS: 1000,
		MaxRetries:       3,
		RPCTimeoutSec:    30,
		TickSeconds:      5,
		JournalDB:        "data/journal.db",
		LogLevel:         "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var cf configFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(cfg, &cf)
	}

	applyEnv(cfg)

	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required (chain.rpc_endpoint or GOPERP_RPC_ENDPOINT)")
	}
	return cfg, nil
}

func applyFile(cfg *Config, cf *configFile) {
	if cf.Server.Listen != "" {
		cfg.ListenAddr = cf.Server.Listen
	}
	if cf.Server.TickSec > 0 {
		cfg.TickSeconds = cf.Server.TickSec
	}
	if cf.Server.JournalDB != "" {
		cfg.JournalDB = cf.Server.JournalDB
	}
	if cf.Chain.RPCEndpoint != "" {
		cfg.RPCEndpoint = cf.Chain.RPCEndpoint
	}
	if cf.Chain.Network != "" {
		cfg.Network = cf.Chain.Network
	}
	if cf.Chain.ProgramID != "" {
		cfg.ProgramID = cf.Chain.ProgramID
	}
	if cf.Chain.CollateralMint != "" {
		cfg.CollateralMint = cf.Chain.CollateralMint
	}
	if cf.Chain.MinRPCIntervalMS > 0 {
		cfg.MinRPCIntervalMS = cf.Chain.MinRPCIntervalMS
	}
	if cf.Chain.MaxRetries > 0 {
		cfg.MaxRetries = cf.Chain.MaxRetries
	}
	if cf.Chain.RPCTimeoutSec > 0 {
		cfg.RPCTimeoutSec = cf.Chain.RPCTimeoutSec
	}
	if cf.Log.Level != "" {
		cfg.LogLevel = cf.Log.Level
	}
	if cf.Log.File != "" {
		cfg.LogFile = cf.Log.File
	}
	if len(cf.Markets) > 0 {
		cfg.Markets = cf.Markets
	}
}

// applyEnv 环境变量覆盖（部署时无需改配置文件）
func applyEnv(cfg *Config) {
	if v := os.Getenv("GOPERP_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GOPERP_RPC_ENDPOINT"); v != "" {
		cfg.RPCEndpoint = v
	}
	if v := os.Getenv("GOPERP_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("GOPERP_PROGRAM_ID"); v != "" {
		cfg.ProgramID = v
	}
	if v := os.Getenv("GOPERP_COLLATERAL_MINT"); v != "" {
		cfg.CollateralMint = v
	}
	if v := os.Getenv("GOPERP_MIN_RPC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinRPCIntervalMS = n
		}
	}
	if v := os.Getenv("GOPERP_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("GOPERP_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TickSeconds = n
		}
	}
	if v := os.Getenv("GOPERP_JOURNAL_DB"); v != "" {
		cfg.JournalDB = v
	}
	if v := os.Getenv("GOPERP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOPERP_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}
