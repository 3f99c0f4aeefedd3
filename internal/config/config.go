package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	CollectorURL     string `mapstructure:"COLLECTOR_URL"`
	CollectorWSPath  string `mapstructure:"COLLECTOR_WS_PATH"`
	DeviceToken      string `mapstructure:"DEVICE_TOKEN"`
	DeviceID         string `mapstructure:"DEVICE_ID"`
	SessionID        string `mapstructure:"SESSION_ID"`
	UserID           string `mapstructure:"USER_ID"`
	DataDir          string `mapstructure:"DATA_DIR"`
	StoreDriver      string `mapstructure:"STORE_DRIVER"`
	SQLitePath       string `mapstructure:"SQLITE_PATH"`
	PostgresURL      string `mapstructure:"POSTGRES_URL"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	MaxPendingPoints int    `mapstructure:"MAX_PENDING_POINTS"`
	BatchSize        int    `mapstructure:"BATCH_SIZE"`
	SyncTransport    string `mapstructure:"SYNC_TRANSPORT"`
	TrackingMode     string `mapstructure:"TRACKING_MODE"`
	StatusPort       string `mapstructure:"STATUS_PORT"`
	StatusJWTSecret  string `mapstructure:"STATUS_JWT_SECRET"`
	FixSource        string `mapstructure:"FIX_SOURCE"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	DevMode          bool   `mapstructure:"DEV_MODE"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("COLLECTOR_URL", "http://localhost:8080")
	v.SetDefault("COLLECTOR_WS_PATH", "/ws/telemetry")
	v.SetDefault("DEVICE_TOKEN", "")
	v.SetDefault("DEVICE_ID", "")
	v.SetDefault("SESSION_ID", "")
	v.SetDefault("USER_ID", "")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("SQLITE_PATH", "")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("MAX_PENDING_POINTS", 5000)
	v.SetDefault("BATCH_SIZE", 100)
	v.SetDefault("SYNC_TRANSPORT", "ws")
	v.SetDefault("TRACKING_MODE", "auto")
	v.SetDefault("STATUS_PORT", "127.0.0.1:8787")
	v.SetDefault("STATUS_JWT_SECRET", "")
	v.SetDefault("FIX_SOURCE", "-")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEV_MODE", false)
}

// Load reads configuration from the environment only.
func Load() Config {
	cfg, _ := LoadArgs(nil)
	return cfg
}

// LoadArgs layers command line flags over an optional config file over the
// environment over defaults. Flags use the lowercase dashed form of the key,
// e.g. --collector-url for COLLECTOR_URL.
func LoadArgs(args []string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("fieldtrack-agent", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.String("collector-url", "", "base URL of the telemetry collector")
	fs.String("device-token", "", "bearer token presented to the collector")
	fs.String("session-id", "", "tracking session to tag points with")
	fs.String("store-driver", "", "point store backend: sqlite or postgres")
	fs.Int("max-pending-points", 0, "hard cap on unsynced points kept on disk")
	fs.String("sync-transport", "", "sync transport: ws or http")
	fs.String("tracking-mode", "", "eco, normal, precise or auto")
	fs.String("status-port", "", "listen address of the local status API")
	fs.String("fix-source", "", "NDJSON fix source path, - for stdin")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.Bool("dev-mode", false, "human readable console logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	bindings := map[string]string{
		"COLLECTOR_URL":      "collector-url",
		"DEVICE_TOKEN":       "device-token",
		"SESSION_ID":         "session-id",
		"STORE_DRIVER":       "store-driver",
		"MAX_PENDING_POINTS": "max-pending-points",
		"SYNC_TRANSPORT":     "sync-transport",
		"TRACKING_MODE":      "tracking-mode",
		"STATUS_PORT":        "status-port",
		"FIX_SOURCE":         "fix-source",
		"LOG_LEVEL":          "log-level",
		"DEV_MODE":           "dev-mode",
	}
	for key, name := range bindings {
		// Only flags the user actually set override lower layers.
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
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
