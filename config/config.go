package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Security SecurityConfig `mapstructure:"security"`
	Friends  FriendsConfig  `mapstructure:"friends"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// MetricsAllowIPs restricts GET /metrics. Empty allows every client.
	MetricsAllowIPs []string `mapstructure:"metrics_allow_ips"`
	// StatsInterval is how often the relationship gauges are recomputed.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// RealtimeConfig selects the transport behind the per-user notification channels.
// NATSURL takes precedence over the cache pub/sub when set.
type RealtimeConfig struct {
	NATSURL           string        `mapstructure:"nats_url"`
	NATSMaxReconnects int           `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait time.Duration `mapstructure:"nats_reconnect_wait"`
	ChannelPrefix     string        `mapstructure:"channel_prefix"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout"`
	KeepAlive         time.Duration `mapstructure:"keep_alive"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type FriendsConfig struct {
	// LookupConcurrency caps the parallel last-message lookups per friends request.
	LookupConcurrency int    `mapstructure:"lookup_concurrency"`
	PlaceholderPrefix string `mapstructure:"placeholder_prefix"`
}

// Load reads config from the given YAML file path. Every key can be
// overridden from the environment, e.g. SOCIAL_DATABASE_MODE=mysql.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("social")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.stats_interval", "1m")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/social.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("realtime.nats_max_reconnects", 60)
	v.SetDefault("realtime.nats_reconnect_wait", "2s")
	v.SetDefault("realtime.channel_prefix", "user_")
	v.SetDefault("realtime.publish_timeout", "2s")
	v.SetDefault("realtime.keep_alive", "30s")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("friends.lookup_concurrency", 8)
	v.SetDefault("friends.placeholder_prefix", "/avatars/placeholder/")
}
