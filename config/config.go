package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SessionBackendTKV    = "tkv"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"

	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"

	DefaultEditModel     = "gpt-4o-all"
	DefaultAnalysisModel = "deepseek-v3"
	DefaultNamespace     = "s3edit"
)

// Environment variables that override secrets from the config file.
const (
	EnvOpenAIAPIKey    = "TXT2IMG_OPENAI_API_KEY"
	EnvOpenAIBaseURL   = "TXT2IMG_OPENAI_BASE_URL"
	EnvObjectAccessKey = "TXT2IMG_OBJECT_ACCESS_KEY"
	EnvObjectSecretKey = "TXT2IMG_OBJECT_SECRET_KEY"
)

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Credentials struct {
	OpenAIAPIKey  string `yaml:"openaiApiKey"`
	OpenAIBaseURL string `yaml:"openaiBaseUrl"`
}

type ObjectStore struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Namespace string `yaml:"namespace"`
}

// Configured reports whether enough of the object store is set to build a client.
func (o ObjectStore) Configured() bool {
	return o.Bucket != "" && o.Endpoint != "" && o.Region != "" && o.AccessKey != "" && o.SecretKey != ""
}

type SessionStore struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redisAddr,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"` // 0 keeps history forever
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

type Models struct {
	Edit     string `yaml:"edit"`
	Analysis string `yaml:"analysis"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Invoke  RateLimiterConfig `yaml:"invoke"`
	Default RateLimiterConfig `yaml:"default"`
}

type Config struct {
	HttpBinding  string       `yaml:"httpBinding"`
	ApiKey       string       `yaml:"apiKey,omitempty"` // empty disables bearer auth on plugin routes
	DataDir      string       `yaml:"dataDir"`
	Logging      Logging      `yaml:"logging"`
	Credentials  Credentials  `yaml:"credentials"`
	ObjectStore  ObjectStore  `yaml:"objectStore"`
	SessionStore SessionStore `yaml:"sessionStore"`
	Models       Models       `yaml:"models"`
	RateLimiters RateLimiters `yaml:"rateLimiters"`
}

var (
	ErrConfigFileUnreadable            = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable        = errors.New("config file is unmarshallable")
	ErrHttpBindingMissing              = errors.New("httpBinding is missing in config")
	ErrDataDirMissing                  = errors.New("dataDir is missing in config and is required by the tkv session backend")
	ErrSessionBackendUnknown           = errors.New("sessionStore.backend must be one of tkv, redis, memory")
	ErrRedisAddrMissing                = errors.New("sessionStore.redisAddr is required for the redis backend")
	ErrLogFormatUnknown                = errors.New("logging.format must be json or pretty")
	ErrRateLimitersInvokeLimitMissing  = errors.New("rateLimiters.invoke.limit is missing in config")
	ErrRateLimitersDefaultLimitMissing = errors.New("rateLimiters.default.limit is missing in config")
	ErrObjectStoreIncomplete           = errors.New("objectStore is partially configured: bucket, endpoint, accessKey and secretKey are all required")
)

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets with any values present in the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	override := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Credentials.OpenAIAPIKey, EnvOpenAIAPIKey)
	override(&c.Credentials.OpenAIBaseURL, EnvOpenAIBaseURL)
	override(&c.ObjectStore.AccessKey, EnvObjectAccessKey)
	override(&c.ObjectStore.SecretKey, EnvObjectSecretKey)
}

func (c *Config) applyDefaults() {
	if c.SessionStore.Backend == "" {
		c.SessionStore.Backend = SessionBackendTKV
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatJSON
	}
	if c.Models.Edit == "" {
		c.Models.Edit = DefaultEditModel
	}
	if c.Models.Analysis == "" {
		c.Models.Analysis = DefaultAnalysisModel
	}
	if c.ObjectStore.Namespace == "" {
		c.ObjectStore.Namespace = DefaultNamespace
	}
	c.ObjectStore.Namespace = strings.Trim(c.ObjectStore.Namespace, "/")
}

func (c *Config) Validate() error {
	if c.HttpBinding == "" {
		return ErrHttpBindingMissing
	}

	switch c.SessionStore.Backend {
	case SessionBackendTKV:
		if c.DataDir == "" {
			return ErrDataDirMissing
		}
	case SessionBackendRedis:
		if c.SessionStore.RedisAddr == "" {
			return ErrRedisAddrMissing
		}
	case SessionBackendMemory:
	default:
		return ErrSessionBackendUnknown
	}

	switch c.Logging.Format {
	case LogFormatJSON, LogFormatPretty:
	default:
		return ErrLogFormatUnknown
	}

	o := c.ObjectStore
	anySet := o.Bucket != "" || o.Endpoint != "" || o.AccessKey != "" || o.SecretKey != ""
	if anySet && !o.Configured() {
		return ErrObjectStoreIncomplete
	}

	if c.RateLimiters.Invoke.Limit == 0 {
		return ErrRateLimitersInvokeLimitMissing
	}
	if c.RateLimiters.Default.Limit == 0 {
		return ErrRateLimitersDefaultLimitMissing
	}
	return nil
}

func GenerateConfig(configFile string) (*Config, error) {
	cfg := Config{
		HttpBinding: "127.0.0.1:8088",
		DataDir:     "data/txt2img",
		Logging: Logging{
			Level:  "info",
			Format: LogFormatJSON,
		},
		Credentials: Credentials{
			OpenAIAPIKey:  "please_set_your_api_key",
			OpenAIBaseURL: "https://api.openai.com",
		},
		ObjectStore: ObjectStore{
			Region:    "cn-beijing",
			UseSSL:    true,
			Namespace: DefaultNamespace,
		},
		SessionStore: SessionStore{
			Backend:  SessionBackendTKV,
			CacheTTL: 1 * time.Minute,
		},
		Models: Models{
			Edit:     DefaultEditModel,
			Analysis: DefaultAnalysisModel,
		},
		RateLimiters: RateLimiters{
			Invoke:  RateLimiterConfig{Limit: 2.0, Burst: 5},
			Default: RateLimiterConfig{Limit: 20.0, Burst: 40},
		},
	}

	return &cfg, nil
}
