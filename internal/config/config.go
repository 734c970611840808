package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Task     TaskConfig     `mapstructure:"task"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Treasury TreasuryConfig `mapstructure:"treasury"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// RequireSignature 是否校验请求签名
	RequireSignature bool          `mapstructure:"require_signature"`
	SignatureMaxSkew time.Duration `mapstructure:"signature_max_skew"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

type TaskConfig struct {
	Interval            int `mapstructure:"interval"`              // 提案结算检查间隔，秒
	ScoreExpiryInterval int `mapstructure:"score_expiry_interval"` // 过期评分清理间隔，秒
}

// LedgerConfig 账本固定参数
type LedgerConfig struct {
	MaxRequestedAmount uint64        `mapstructure:"max_requested_amount"`
	MinVotingPeriod    time.Duration `mapstructure:"min_voting_period"`
	MaxVotingPeriod    time.Duration `mapstructure:"max_voting_period"`
	AIScoreThreshold   uint8         `mapstructure:"ai_score_threshold"`
	QuorumVotes        uint64        `mapstructure:"quorum_votes"`
	MinProposerWeight  uint64        `mapstructure:"min_proposer_weight"`
	Operator           string        `mapstructure:"operator"`
	TreasurySink       string        `mapstructure:"treasury_sink"`
}

// ProposalParams 转换为提案账本参数
func (c LedgerConfig) ProposalParams() logic.ProposalParams {
	return logic.ProposalParams{
		MaxRequestedAmount: c.MaxRequestedAmount,
		MinVotingPeriod:    c.MinVotingPeriod,
		MaxVotingPeriod:    c.MaxVotingPeriod,
		AIScoreThreshold:   c.AIScoreThreshold,
		QuorumVotes:        c.QuorumVotes,
		MinProposerWeight:  c.MinProposerWeight,
		Operator:           c.Operator,
	}
}

// EscrowParams 转换为托管账本参数
func (c LedgerConfig) EscrowParams() logic.EscrowParams {
	return logic.EscrowParams{TreasurySink: c.TreasurySink}
}

type ScoringConfig struct {
	Validity  time.Duration `mapstructure:"validity"`  // 评分有效期
	Tolerance int           `mapstructure:"tolerance"` // 总分与分项均值的允许偏差
	Models    []string      `mapstructure:"models"`    // 初始接受的模型标识
}

type TreasuryConfig struct {
	Backend        string `mapstructure:"backend"` // memory, chain
	InitialBalance uint64 `mapstructure:"initial_balance"`
}

type AuthConfig struct {
	Backend string `mapstructure:"backend"` // memory, store
	// Grants 启动时授予的角色 identity -> roles
	Grants map[string][]string `mapstructure:"grants"`
}

// ChainConfig 链上资金托管配置
type ChainConfig struct {
	ChainId      int64         `mapstructure:"chain_id"`      // 链ID
	RpcUrl       string        `mapstructure:"rpc_url"`       // RPC节点URL
	PrivateKey   string        `mapstructure:"private_key"`   // 私钥
	VaultAddress string        `mapstructure:"vault_address"` // 托管合约地址
	DialAttempts uint          `mapstructure:"dial_attempts"` // 连接重试次数
	TxTimeout    time.Duration `mapstructure:"tx_timeout"`    // 等待交易上链超时
	StartBlock   uint64        `mapstructure:"start_block"`   // 监听起始区块
	BlockBatch   uint64        `mapstructure:"block_batch"`   // 每次拉取日志的区块数
	PollInterval time.Duration `mapstructure:"poll_interval"` // 监听轮询间隔
}

type NatsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	def := logic.DefaultProposalParams()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.require_signature", false)
	v.SetDefault("server.signature_max_skew", 5*time.Minute)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "tgs")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "~/.tgs/tgs.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/tgs.log")
	v.SetDefault("task.interval", 60)
	v.SetDefault("task.score_expiry_interval", 300)
	v.SetDefault("ledger.max_requested_amount", def.MaxRequestedAmount)
	v.SetDefault("ledger.min_voting_period", def.MinVotingPeriod)
	v.SetDefault("ledger.max_voting_period", def.MaxVotingPeriod)
	v.SetDefault("ledger.ai_score_threshold", def.AIScoreThreshold)
	v.SetDefault("ledger.quorum_votes", def.QuorumVotes)
	v.SetDefault("ledger.min_proposer_weight", def.MinProposerWeight)
	v.SetDefault("ledger.operator", def.Operator)
	v.SetDefault("ledger.treasury_sink", "")
	v.SetDefault("scoring.validity", time.Hour)
	v.SetDefault("scoring.tolerance", 5)
	v.SetDefault("scoring.models", []string{})
	v.SetDefault("treasury.backend", "memory")
	v.SetDefault("treasury.initial_balance", 0)
	v.SetDefault("auth.backend", "store")
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.dial_attempts", 5)
	v.SetDefault("chain.tx_timeout", 2*time.Minute)
	v.SetDefault("chain.start_block", 0)
	v.SetDefault("chain.block_batch", 500)
	v.SetDefault("chain.poll_interval", time.Minute)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "tgs.audit")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load 读取配置文件与 TGS_ 前缀的环境变量
// file 为空时在默认路径中查找 config.yaml
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, errors.Wrapf(err, "expand config path %s", file)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tgs")
	}

	// 自动读取环境变量
	v.SetEnvPrefix("TGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, errors.Wrap(err, "read config")
		}
		logger.Warn("Could not find config file, using defaults and environment: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "unable to decode config into struct")
	}

	var err error
	if config.Database.Path, err = homedir.Expand(config.Database.Path); err != nil {
		return nil, errors.Wrap(err, "expand database.path")
	}
	if config.Log.File, err = homedir.Expand(config.Log.File); err != nil {
		return nil, errors.Wrap(err, "expand log.file")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 检查跨字段约束
func (c *Config) Validate() error {
	if err := c.Ledger.ProposalParams().Validate(); err != nil {
		return errors.Wrap(err, "ledger")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Treasury.Backend {
	case "memory":
	case "chain":
		if c.Chain.RpcUrl == "" || c.Chain.PrivateKey == "" || c.Chain.VaultAddress == "" {
			return fmt.Errorf("treasury.backend chain requires chain.rpc_url, chain.private_key and chain.vault_address")
		}
	default:
		return fmt.Errorf("unsupported treasury.backend %q", c.Treasury.Backend)
	}
	switch c.Auth.Backend {
	case "memory", "store":
	default:
		return fmt.Errorf("unsupported auth.backend %q", c.Auth.Backend)
	}
	for identity, roles := range c.Auth.Grants {
		for _, r := range roles {
			if _, ok := logic.ParseRole(r); !ok {
				return fmt.Errorf("auth.grants.%s: unknown role %q", identity, r)
			}
		}
	}
	if c.Task.Interval <= 0 || c.Task.ScoreExpiryInterval <= 0 {
		return fmt.Errorf("task intervals must be positive")
	}
	if c.Scoring.Validity <= 0 || c.Scoring.Tolerance < 0 {
		return fmt.Errorf("scoring.validity must be positive and scoring.tolerance non-negative")
	}
	if c.Nats.Enabled && c.Nats.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	return nil
}
