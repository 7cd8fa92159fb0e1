package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	rtdb "github.com/durable-streams/rtdb-go"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	URL  string `mapstructure:"url"`
	Auth string `mapstructure:"auth"`
}

type StreamConfig struct {
	Path           string        `mapstructure:"path"`
	AutoRestart    int           `mapstructure:"auto_restart"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
	InitialTimeout time.Duration `mapstructure:"initial_timeout"`
}

type SnapshotConfig struct {
	// Path is the bbolt file snapshots are kept in; empty keeps them in
	// memory.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	// Listen is the address /metrics is served on; empty disables it.
	Listen string `mapstructure:"listen"`
}

// Load reads the config file at path, if path is not empty, then applies
// RTDB_* environment variables and any changed flags named after the keys,
// such as --database.url. Flags not named after a key are ignored.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("rtdb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}
	if flags != nil {
		// Other flags in the set, such as --snapshot, must not shadow a key.
		for _, key := range v.AllKeys() {
			flag := flags.Lookup(key)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default for AutomaticEnv to reach it on Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("database.auth", "")
	v.SetDefault("stream.path", "/")
	v.SetDefault("stream.auto_restart", 0)
	v.SetDefault("stream.restart_delay", rtdb.DefaultRestartDelay)
	v.SetDefault("stream.initial_timeout", rtdb.DefaultInitialTimeout)
	v.SetDefault("snapshot.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.listen", "")
}

func (c Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	u, err := url.Parse(c.Database.URL)
	if err != nil {
		return fmt.Errorf("database.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("database.url must be http or https, got %q", u.Scheme)
	}
	if c.Stream.RestartDelay < 0 {
		return fmt.Errorf("stream.restart_delay must not be negative")
	}
	if c.Stream.InitialTimeout <= 0 {
		return fmt.Errorf("stream.initial_timeout must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ClientOptions returns the client options the config selects.
func (c Config) ClientOptions() []rtdb.ClientOption {
	var opts []rtdb.ClientOption
	if c.Database.Auth != "" {
		opts = append(opts, rtdb.WithAuth(c.Database.Auth))
	}
	return opts
}

// StreamOptions returns the stream options the config selects.
func (c Config) StreamOptions() []rtdb.StreamOption {
	return []rtdb.StreamOption{
		rtdb.WithAutoRestart(c.Stream.AutoRestart),
		rtdb.WithRestartDelay(c.Stream.RestartDelay),
		rtdb.WithInitialTimeout(c.Stream.InitialTimeout),
	}
}

// Logger builds a production zap logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}
