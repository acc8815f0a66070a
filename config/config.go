package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/storage/conf"
)

const (
	QueueTable     = "table"
	QueueRedis     = "redis"
	QueueStreaming = "streaming"
	QueueLocal     = "local"
)

var queueAliases = map[string]string{
	"table":     QueueTable,
	"dynamodb":  QueueTable,
	"redis":     QueueRedis,
	"list":      QueueRedis,
	"streaming": QueueStreaming,
	"ephemeral": QueueStreaming,
	"local":     QueueLocal,
	"debug":     QueueLocal,
}

// NormalizeQueueType maps a queue type or one of its aliases to its canonical name.
func NormalizeQueueType(s string) (string, bool) {
	kind, ok := queueAliases[strings.ToLower(strings.TrimSpace(s))]
	return kind, ok
}

type Config struct {
	LogLevel       string `toml:"log_level"`
	LogDir         string `toml:"log_dir"`
	LogFormat      string `toml:"log_format"`
	BacktrackLevel string `toml:"backtrack_level"`
	AdminHost      string `toml:"admin_host"`
	AdminPort      int    `toml:"admin_port"`

	// StoreURL is where the queues live: redis://, postgres://, spanner://projects/p/instances/i/databases/d
	// or memory:// (single process).
	StoreURL string `toml:"store_url"`
	// LockURL is where execution records live, it defaults to StoreURL when that is a table store.
	LockURL   string              `toml:"lock_url"`
	TableName string              `toml:"table_name"`
	QueueType string              `toml:"queue_type"`
	Spanner   *conf.SpannerConfig `toml:"spanner"`

	MaxRetries   int  `toml:"max_retries"`
	LogErrorOnly bool `toml:"log_error_only"`

	PollIntervalMS      int `toml:"poll_interval_ms"`
	PulseIntervalSecond int `toml:"pulse_interval_second"`
	RecheckDelayMS      int `toml:"recheck_delay_ms"`
	LockDelayMS         int `toml:"lock_delay_ms"`
	AckTimeoutSecond    int `toml:"ack_timeout_second"`
	StalledAfterMinute  int `toml:"stalled_after_minute"`

	Cache    CacheConf          `toml:"cache"`
	EveryJob JobConf            `toml:"every_job"`
	Jobs     map[string]JobConf `toml:"jobs"`
}

type CacheConf struct {
	Enable         bool   `toml:"enable"`
	Prefix         string `toml:"prefix"`
	Step           int64  `toml:"step"`
	StartBeforeJob string `toml:"start_before_job"`
	StopAfterJob   string `toml:"stop_after_job"`
	QueueFillCount int64  `toml:"queue_fill_count"`
}

// Env holds the process environment overrides. Nil fields were not set.
type Env struct {
	StoreURL     string       `env:"BERT_STORE_URL"`
	QueueType    string       `env:"BERT_QUEUE_TYPE"`
	MaxRetry     *int         `env:"MAX_RETRY"`
	LogErrorOnly *LenientBool `env:"LOG_ERROR_ONLY"`
	Strict       *bool        `env:"BERT_STRICT"`
	LogLevel     string       `env:"BERT_LOG_LEVEL"`
}

// LenientBool is true unless the text is one of the usual negatives
// (false, no, off, 0...).
type LenientBool bool

func (b *LenientBool) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "f", "false", "n", "no", "0", "off":
		*b = false
	default:
		*b = true
	}
	return nil
}

// Default returns a config with every default filled in.
func Default() *Config {
	return &Config{
		LogLevel:            "info",
		BacktrackLevel:      "error",
		AdminHost:           "127.0.0.1",
		MaxRetries:          10,
		LogErrorOnly:        true,
		PollIntervalMS:      100,
		PulseIntervalSecond: 30,
		RecheckDelayMS:      1000,
		LockDelayMS:         3000,
		AckTimeoutSecond:    15,
		StalledAfterMinute:  15,
		Cache: CacheConf{
			Prefix: "redis-cache-backend-",
			Step:   20000,
		},
		Jobs: make(map[string]JobConf),
	}
}

// MustLoad load config file with specified path, an error returned if any condition not met.
// An empty path loads the defaults, environment overrides still apply.
func MustLoad(path string) (*Config, error) {
	conf := Default()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		if _, err := toml.DecodeFile(path, conf); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ApplyEnv overrides the config with the process environment.
func (c *Config) ApplyEnv() error {
	var e Env
	if err := env.Parse(&e); err != nil {
		return newError("env", "%s", err)
	}
	if e.StoreURL != "" {
		c.StoreURL = e.StoreURL
	}
	if e.QueueType != "" {
		c.QueueType = e.QueueType
	}
	if e.LogLevel != "" {
		c.LogLevel = e.LogLevel
	}
	if e.MaxRetry != nil {
		c.MaxRetries = *e.MaxRetry
	}
	if e.LogErrorOnly != nil {
		c.LogErrorOnly = bool(*e.LogErrorOnly)
	}
	if e.Strict != nil {
		c.LogErrorOnly = !*e.Strict
	}
	return nil
}

// StoreScheme returns the scheme of the store url, memory when unset.
func StoreScheme(rawURL string) (string, error) {
	if rawURL == "" {
		return "memory", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "redis", "rediss", "postgres", "postgresql", "spanner", "memory":
		return u.Scheme, nil
	}
	return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newError("log_level", "%q is invalid", c.LogLevel)
	}
	if c.BacktrackLevel != "" {
		if _, err := logrus.ParseLevel(c.BacktrackLevel); err != nil {
			return newError("backtrack_level", "%q is invalid", c.BacktrackLevel)
		}
	}
	scheme, err := StoreScheme(c.StoreURL)
	if err != nil {
		return newError("store_url", "%s", err)
	}
	if c.LockURL != "" {
		lockScheme, err := StoreScheme(c.LockURL)
		if err != nil {
			return newError("lock_url", "%s", err)
		}
		if lockScheme == "redis" || lockScheme == "rediss" {
			return newError("lock_url", "execution records need a table store")
		}
	}
	if c.QueueType == "" {
		switch scheme {
		case "redis", "rediss":
			c.QueueType = QueueRedis
		case "memory":
			c.QueueType = QueueLocal
		default:
			c.QueueType = QueueTable
		}
	}
	kind, ok := NormalizeQueueType(c.QueueType)
	if !ok {
		return newError("queue_type", "%q is unsupported", c.QueueType)
	}
	c.QueueType = kind
	switch kind {
	case QueueRedis:
		if scheme != "redis" && scheme != "rediss" {
			return newError("store_url", "queue type %s needs a redis store", kind)
		}
	case QueueTable:
		if scheme == "redis" || scheme == "rediss" {
			return newError("store_url", "queue type %s needs a table store", kind)
		}
	}
	if c.MaxRetries < 1 {
		return newError("max_retries", "must be greater than 0, got %d", c.MaxRetries)
	}
	if c.PollIntervalMS <= 0 || c.RecheckDelayMS < 0 || c.LockDelayMS <= 0 {
		return newError("intervals", "poll and lock intervals must be positive")
	}
	if c.Cache.Step <= 0 {
		return newError("cache.step", "must be positive, got %d", c.Cache.Step)
	}
	if !c.Cache.Enable && (c.Cache.StartBeforeJob != "" || c.Cache.StopAfterJob != "") {
		return newError("cache", "start_before_job and stop_after_job need cache.enable")
	}
	if c.Cache.Enable && c.Cache.StartBeforeJob == "" && c.Cache.StopAfterJob == "" {
		return newError("cache", "enable needs start_before_job or stop_after_job")
	}
	if err := c.EveryJob.validate(""); err != nil {
		return err
	}
	for name, job := range c.Jobs {
		if err := job.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Strict() bool {
	return !c.LogErrorOnly
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) PulseInterval() time.Duration {
	return time.Duration(c.PulseIntervalSecond) * time.Second
}

func (c *Config) RecheckDelay() time.Duration {
	return time.Duration(c.RecheckDelayMS) * time.Millisecond
}

func (c *Config) LockDelay() time.Duration {
	return time.Duration(c.LockDelayMS) * time.Millisecond
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSecond) * time.Second
}

func (c *Config) StalledAfter() time.Duration {
	return time.Duration(c.StalledAfterMinute) * time.Minute
}
