// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Extract       ExtractConfig       `mapstructure:"extract"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Store         StoreConfig         `mapstructure:"store"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// AdminConfig 存储管理接口的访问凭证。
// APIKeyHash 是管理 API Key 的 bcrypt 哈希，明文 Key 不落盘。
type AdminConfig struct {
	APIKeyHash string `mapstructure:"api_key_hash"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ExtractConfig 存储文本提取服务（Tika 协议）相关的配置。
type ExtractConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// Dimensions 声明模型输出的向量维度，所有返回向量必须与之相等。
	Dimensions int `mapstructure:"dimensions"`
	// MaxRetries 是单次请求允许的最大重试次数（不含首次尝试）。
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelayMs 是指数退避的基础延迟（毫秒）。
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
	// RetryMaxElapsedMs 是所有重试允许的总耗时上限（毫秒）。
	RetryMaxElapsedMs int `mapstructure:"retry_max_elapsed_ms"`
	// RequestIntervalMs 是相邻请求之间的礼貌性间隔（毫秒），0 表示不限制。
	RequestIntervalMs int `mapstructure:"request_interval_ms"`
	// Concurrency 限制批量向量化时的并发请求数。
	Concurrency int `mapstructure:"concurrency"`
}

// ChunkingConfig 存储文本分块相关的配置，单位均为词数。
type ChunkingConfig struct {
	MaxSize int `mapstructure:"max_size"`
	Overlap int `mapstructure:"overlap"`
}

// StoreConfig 选择分块向量存储的实现。
type StoreConfig struct {
	// Driver 可选 "elasticsearch" 或 "memory"（memory 仅用于本地联调）。
	Driver string `mapstructure:"driver"`
}

// RetrievalConfig 存储检索引擎相关的配置。
type RetrievalConfig struct {
	// RecallFloor 是召回阶段的低水位线，仅用于限制候选集大小，非展示阈值。
	RecallFloor float64 `mapstructure:"recall_floor"`
	// DefaultMinSimilarity 是调用方未指定时使用的展示阈值。
	DefaultMinSimilarity float64 `mapstructure:"default_min_similarity"`
	// DefaultTopK 是调用方未指定时的候选数量。
	DefaultTopK int `mapstructure:"default_top_k"`
	// SnippetMaxLen 是引用摘要的最大长度（rune 数）。
	SnippetMaxLen int `mapstructure:"snippet_max_len"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 填充未配置项的缺省值。
func applyDefaults(c *Config) {
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.RetryBaseDelayMs == 0 {
		c.Embedding.RetryBaseDelayMs = 200
	}
	if c.Embedding.RetryMaxElapsedMs == 0 {
		c.Embedding.RetryMaxElapsedMs = 30000
	}
	if c.Embedding.Concurrency == 0 {
		c.Embedding.Concurrency = 5
	}
	if c.Chunking.MaxSize == 0 {
		c.Chunking.MaxSize = 500
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = 50
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "elasticsearch"
	}
	if c.Retrieval.RecallFloor == 0 {
		c.Retrieval.RecallFloor = 0.3
	}
	if c.Retrieval.DefaultMinSimilarity == 0 {
		c.Retrieval.DefaultMinSimilarity = 0.7
	}
	if c.Retrieval.DefaultTopK == 0 {
		c.Retrieval.DefaultTopK = 5
	}
	if c.Retrieval.SnippetMaxLen == 0 {
		c.Retrieval.SnippetMaxLen = 500
	}
}
