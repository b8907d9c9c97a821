package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the seatwise service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Report    ReportConfig    `mapstructure:"report"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// DatabasesConfig groups the relational and lock stores.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the relational store connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the lock store used to serialize report generation.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// StorageConfig describes the object store holding documents and reports.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

func (s StorageConfig) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("storage.endpoint is required")
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	return nil
}

// LLMConfig contains the completion-service client settings.
// An empty APIKey is legal: the decision engine treats it as a missing
// capability and returns intervention_required instead of guessing.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset LLM values.
func (l LLMConfig) Normalize() LLMConfig {
	if l.BaseURL == "" {
		l.BaseURL = "https://api.openai.com/v1"
	}
	if l.Model == "" {
		l.Model = "gpt-4.1-mini"
	}
	if l.Timeout <= 0 {
		l.Timeout = 120 * time.Second
	}
	return l
}

// ChatConfig bounds the conversational context.
type ChatConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

// Normalize applies defaults for unset chat values.
func (c ChatConfig) Normalize() ChatConfig {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
	return c
}

// ReportConfig tunes the evidence selector and renderer.
type ReportConfig struct {
	MaxEvidencePages int `mapstructure:"max_evidence_pages"`
	ExcerptChars     int `mapstructure:"excerpt_chars"`
	LockTTLSeconds   int `mapstructure:"lock_ttl_seconds"`
}

// Normalize applies defaults for unset report values.
func (r ReportConfig) Normalize() ReportConfig {
	if r.MaxEvidencePages <= 0 {
		r.MaxEvidencePages = 14
	}
	if r.ExcerptChars <= 0 {
		r.ExcerptChars = 1600
	}
	if r.LockTTLSeconds <= 0 {
		r.LockTTLSeconds = 300
	}
	return r
}

// LoadConfig reads configuration from file and environment.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("storage.bucket", "project-files")
	viper.SetDefault("chat.max_history", 20)
	viper.SetDefault("report.max_evidence_pages", 14)
	viper.SetDefault("report.excerpt_chars", 1600)
	viper.SetDefault("report.lock_ttl_seconds", 300)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SEATWISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.LLM = config.LLM.Normalize()
	config.Chat = config.Chat.Normalize()
	config.Report = config.Report.Normalize()
	if err := config.Storage.Validate(); err != nil {
		panic(err)
	}
	return &config
}
