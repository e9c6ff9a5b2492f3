// Package config 載入帳本服務設定：config.yaml → .env → LEDGER_* 環境變數 (後者覆蓋前者)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/redis"
)

// StoreDriver 帳本儲存層
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreMySQL    StoreDriver = "mysql"
	StorePostgres StoreDriver = "postgres"
	StoreRedis    StoreDriver = "redis"
)

const envPrefix = "LEDGER_"

type Config struct {
	Log      logger.Config   `yaml:"log"`
	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Store    StoreConfig     `yaml:"store"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    RedisConfig     `yaml:"redis"`
	Kafka    KafkaConfig     `yaml:"kafka"`
}

type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Reflection      bool          `yaml:"reflection"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type LedgerConfig struct {
	HistoryLimit int         `yaml:"history_limit"`
	Retry        RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Policy 轉成帳本核心的重試策略
func (r RetryConfig) Policy() usecase.RetryPolicy {
	return usecase.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseBackoff: r.BaseBackoff,
		MaxBackoff:  r.MaxBackoff,
	}
}

type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`
	// WALPath 只有 memory 使用，空字串表示不落地
	WALPath string `yaml:"wal_path"`
	// AutoMigrate 啟動時建立 MySQL / PostgreSQL 資料表
	AutoMigrate bool `yaml:"auto_migrate"`
}

type RedisConfig struct {
	redis.Config `yaml:",inline"`
	KeyPrefix    string `yaml:"key_prefix"`
}

type KafkaConfig struct {
	Enabled      bool `yaml:"enabled"`
	kafka.Config `yaml:",inline"`
}

// Load 讀取設定檔
//
// 參數:
//
//	path: yaml 路徑，檔案不存在時只使用預設值與環境變數
//
// 回傳值:
//
//	*Config: 已補上預設值並通過 Validate 的設定
//	error: 檔案格式錯誤或設定不合法
func Load(path string) (*Config, error) {
	// .env 不存在是正常情況 (例如容器內直接給環境變數)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 以 LEDGER_* 覆蓋設定
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = splitList(v)
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_DEVELOPMENT", &c.Log.Development)

	str("GRPC_ADDR", &c.Server.GRPCAddr)
	str("HTTP_ADDR", &c.Server.HTTPAddr)

	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("JWT_ISSUER", &c.Auth.Issuer)
	str("JWT_AUDIENCE", &c.Auth.Audience)

	integer("HISTORY_LIMIT", &c.Ledger.HistoryLimit)
	integer("RETRY_MAX_ATTEMPTS", &c.Ledger.Retry.MaxAttempts)

	if v, ok := lookup(envPrefix + "STORE_DRIVER"); ok {
		c.Store.Driver = StoreDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	str("WAL_PATH", &c.Store.WALPath)
	boolean("AUTO_MIGRATE", &c.Store.AutoMigrate)

	str("MYSQL_HOST", &c.MySQL.Host)
	integer("MYSQL_PORT", &c.MySQL.Port)
	str("MYSQL_USER", &c.MySQL.User)
	str("MYSQL_PASSWORD", &c.MySQL.Password)
	str("MYSQL_DB", &c.MySQL.DBName)

	str("POSTGRES_URL", &c.Postgres.URL)

	list("REDIS_ADDRS", &c.Redis.Addrs)
	str("REDIS_PASSWORD", &c.Redis.Password)

	boolean("KAFKA_ENABLED", &c.Kafka.Enabled)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)

	return errors.Join(errs...)
}

// setDefaults 補全 yaml 沒寫的設定
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Ledger.HistoryLimit == 0 {
		c.Ledger.HistoryLimit = 50
	}
	def := usecase.DefaultRetryPolicy()
	if c.Ledger.Retry.MaxAttempts == 0 {
		c.Ledger.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Ledger.Retry.BaseBackoff == 0 {
		c.Ledger.Retry.BaseBackoff = def.BaseBackoff
	}
	if c.Ledger.Retry.MaxBackoff == 0 {
		c.Ledger.Retry.MaxBackoff = def.MaxBackoff
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "ledger"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = kafka.DefaultTopic
	}
}

// Validate 檢查設定是否完整
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Ledger.HistoryLimit < 0 {
		errs = append(errs, errors.New("ledger.history_limit must not be negative"))
	}
	if c.Ledger.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("ledger.retry.max_attempts must be at least 1"))
	}
	if c.Ledger.Retry.MaxBackoff < c.Ledger.Retry.BaseBackoff {
		errs = append(errs, errors.New("ledger.retry.max_backoff must be >= base_backoff"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			errs = append(errs, errors.New("mysql.host and mysql.db_name are required for the mysql store"))
		}
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres.url is required for the postgres store"))
		}
	case StoreRedis:
		if len(c.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("redis.addrs is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
