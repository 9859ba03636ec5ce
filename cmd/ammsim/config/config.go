package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds simulator settings merged from flags, environment variables
// and an optional config file.
type Config struct {
	Asset0       string
	Asset1       string
	FeePips      uint64
	TickSpacing  int64
	SqrtPriceX96 string
	Script       string
	ListenAddr   string
	SnapshotDir  string
	SnapshotName string
	PgDSN        string
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMMSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("fee-pips", uint64(3000))
	v.SetDefault("tick-spacing", int64(60))
	v.SetDefault("listen", ":8080")
	v.SetDefault("snapshot-dir", "./data/snapshots")
	v.SetDefault("snapshot-name", "pool")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("ammsim")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Asset0:       v.GetString("asset0"),
		Asset1:       v.GetString("asset1"),
		FeePips:      v.GetUint64("fee-pips"),
		TickSpacing:  v.GetInt64("tick-spacing"),
		SqrtPriceX96: v.GetString("sqrt-price-x96"),
		Script:       v.GetString("script"),
		ListenAddr:   v.GetString("listen"),
		SnapshotDir:  v.GetString("snapshot-dir"),
		SnapshotName: v.GetString("snapshot-name"),
		PgDSN:        v.GetString("pg-dsn"),
		LogLevel:     v.GetString("log-level"),
	}
	return cfg, nil
}
