// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	AI            AIConfig            `mapstructure:"ai"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Worker        WorkerConfig        `mapstructure:"worker"`
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
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
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
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
// Addresses 为空时不启用向量索引，检索退化为词法粗筛。
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
// APIKey 为空表示未配置向量服务，查重自动使用文本相似度。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// AIConfig 存储 AI 生成检测所用的大模型配置。
type AIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DetectionConfig 存储相似度检测的算法参数。
type DetectionConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	TextAccept          float64 `mapstructure:"text_accept"`
	VectorAccept        float64 `mapstructure:"vector_accept"`
	BatchMinScore       float64 `mapstructure:"batch_min_score"`
	LibraryMinScore     float64 `mapstructure:"library_min_score"`
	TopK                int     `mapstructure:"top_k"`
	CandidatePool       int     `mapstructure:"candidate_pool"`
	PrefixRunes         int     `mapstructure:"prefix_runes"`
	DocumentConcurrency int     `mapstructure:"document_concurrency"`
}

// WorkerConfig 存储批次消费者的配置。
type WorkerConfig struct {
	Consumers    int           `mapstructure:"consumers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// setDefaults 写入与原有系统一致的默认参数。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "plagcheck-batches")
	v.SetDefault("kafka.group_id", "plagcheck-go-consumer")
	v.SetDefault("elasticsearch.index_name", "library_documents")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)
	v.SetDefault("ai.model", "gpt-3.5-turbo")
	v.SetDefault("ai.timeout", 60*time.Second)

	v.SetDefault("detection.chunk_size", 500)
	v.SetDefault("detection.chunk_overlap", 50)
	v.SetDefault("detection.text_accept", 0.3)
	v.SetDefault("detection.vector_accept", 0.75)
	v.SetDefault("detection.batch_min_score", 0.1)
	v.SetDefault("detection.library_min_score", 0.05)
	v.SetDefault("detection.top_k", 10)
	v.SetDefault("detection.candidate_pool", 20)
	v.SetDefault("detection.prefix_runes", 2000)
	v.SetDefault("detection.document_concurrency", 1)

	v.SetDefault("worker.consumers", 2)
	v.SetDefault("worker.batch_timeout", 30*time.Minute)
	v.SetDefault("worker.lock_ttl", 35*time.Minute)
	v.SetDefault("worker.max_attempts", 3)
}

// Load 读取 YAML 配置文件并返回解析后的配置，环境变量（如 AI_API_KEY）优先于文件。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.Detection.ChunkOverlap >= cfg.Detection.ChunkSize {
		return cfg, fmt.Errorf("detection.chunk_overlap (%d) 必须小于 chunk_size (%d)", cfg.Detection.ChunkOverlap, cfg.Detection.ChunkSize)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
