package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Bus      BusConfig      `mapstructure:"bus"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Selector SelectorConfig `mapstructure:"selector"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Cron     CronConfig     `mapstructure:"cron"`
	Slack    SlackConfig    `mapstructure:"slack"`

	Strategies []StrategyConfig `mapstructure:"strategies"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

type BusConfig struct {
	URL               string        `mapstructure:"url"`
	Topics            []string      `mapstructure:"topics"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BackoffMin        time.Duration `mapstructure:"backoff_min"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
}

type ConsumerConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SelectorConfig is the significance policy. Probability cutoffs are per
// source class; distance and area carry a global cutoff plus optional
// per-class overrides. A zero/absent cutoff disables that criterion.
type SelectorConfig struct {
	Probability map[string]float64 `mapstructure:"probability"`

	DistanceMpc        float64            `mapstructure:"distance_mpc"`
	DistanceMpcByClass map[string]float64 `mapstructure:"distance_mpc_by_class"`

	AreaDeg2        float64            `mapstructure:"area_deg2"`
	AreaDeg2ByClass map[string]float64 `mapstructure:"area_deg2_by_class"`
}

type StrategyConfig struct {
	Telescopes []string `mapstructure:"telescopes"`
	TileCount  int      `mapstructure:"tile_count"`
	Kind       string   `mapstructure:"kind"`
}

type PlannerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type CronConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	StaleJobSweep      string        `mapstructure:"stale_job_sweep"`
	StaleJobAge        time.Duration `mapstructure:"stale_job_age"`
	RawNoticeSweep     string        `mapstructure:"raw_notice_sweep"`
	RawNoticeRetainFor time.Duration `mapstructure:"raw_notice_retain_for"`
}

type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.namespace", "skywatch")
	v.SetDefault("bus.url", "")
	v.SetDefault("bus.topics", []string{"igwn.gwalert"})
	v.SetDefault("bus.heartbeat_interval", "20s")
	v.SetDefault("bus.backoff_min", "1s")
	v.SetDefault("bus.backoff_max", "30s")
	v.SetDefault("consumer.max_attempts", 5)
	v.SetDefault("consumer.retry_backoff", "200ms")
	v.SetDefault("selector.probability", map[string]float64{})
	v.SetDefault("selector.distance_mpc", 0)
	v.SetDefault("selector.area_deg2", 0)
	v.SetDefault("planner.base_url", "http://localhost:9090")
	v.SetDefault("planner.timeout", "15m")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.attempt_timeout", "10m")
	v.SetDefault("worker.retry_backoff", "2s")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.stale_job_sweep", "@every 5m")
	v.SetDefault("cron.stale_job_age", "30m")
	v.SetDefault("cron.raw_notice_sweep", "@every 12h")
	v.SetDefault("cron.raw_notice_retain_for", "720h")
	v.SetDefault("slack.enabled", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var knownClasses = map[string]bool{
	"BBH":         true,
	"BNS":         true,
	"NSBH":        true,
	"Terrestrial": true,
}

var knownStrategyKinds = map[string]bool{
	"tiling":           true,
	"galaxy-targeting": true,
}

// Validate rejects configurations that would make the service misclassify or
// dispatch garbage. Called once at startup; a failure is fatal.
func (c Config) Validate() error {
	for class, cutoff := range c.Selector.Probability {
		if !knownClasses[class] {
			return fmt.Errorf("selector.probability: unknown class %q", class)
		}
		if cutoff < 0 || cutoff > 1 {
			return fmt.Errorf("selector.probability.%s: cutoff %v outside [0,1]", class, cutoff)
		}
	}
	if len(c.Selector.Probability) == 0 {
		return fmt.Errorf("selector.probability: at least one class cutoff required")
	}
	for class := range c.Selector.DistanceMpcByClass {
		if !knownClasses[class] {
			return fmt.Errorf("selector.distance_mpc_by_class: unknown class %q", class)
		}
	}
	for class := range c.Selector.AreaDeg2ByClass {
		if !knownClasses[class] {
			return fmt.Errorf("selector.area_deg2_by_class: unknown class %q", class)
		}
	}
	if c.Selector.DistanceMpc < 0 {
		return fmt.Errorf("selector.distance_mpc: negative cutoff %v", c.Selector.DistanceMpc)
	}
	if c.Selector.AreaDeg2 < 0 {
		return fmt.Errorf("selector.area_deg2: negative cutoff %v", c.Selector.AreaDeg2)
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("strategies: at least one strategy required")
	}
	for i, s := range c.Strategies {
		if len(s.Telescopes) == 0 {
			return fmt.Errorf("strategies[%d]: empty telescope list", i)
		}
		if s.TileCount <= 0 {
			return fmt.Errorf("strategies[%d]: tile_count %d must be positive", i, s.TileCount)
		}
		if !knownStrategyKinds[s.Kind] {
			return fmt.Errorf("strategies[%d]: unknown kind %q", i, s.Kind)
		}
	}

	if c.Planner.BaseURL == "" {
		return fmt.Errorf("planner.base_url required")
	}

	if c.Slack.Enabled && c.Slack.Token == "" {
		return fmt.Errorf("slack.token required when slack is enabled")
	}
	if c.Slack.Enabled && c.Slack.Channel == "" {
		return fmt.Errorf("slack.channel required when slack is enabled")
	}
	return nil
}
