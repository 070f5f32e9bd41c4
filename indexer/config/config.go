// Package config loads the indexer configuration from a TOML file or from
// INDEXER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// PriceProviderConfig configures the external price source.
type PriceProviderConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Tier            string `mapstructure:"tier"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
	BatchSize       int    `mapstructure:"batch_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// LocalChainConfig names the local chain's deployments.
type LocalChainConfig struct {
	MainnetID string `mapstructure:"mainnet_id"`
	TestnetID string `mapstructure:"testnet_id"`
}

// RemoteRPCConfig configures counterparty chain queries.
type RemoteRPCConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ServerConfig configures the HTTP read API.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RatePerMinute  int      `mapstructure:"rate_per_minute"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Config is the full indexer configuration.
type Config struct {
	PriceProvider PriceProviderConfig `mapstructure:"price_provider"`
	LocalChain    LocalChainConfig    `mapstructure:"local_chain"`
	RemoteRPC     RemoteRPCConfig     `mapstructure:"remote_rpc"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	TokenMapFile  string              `mapstructure:"token_map_file"`
}

// Load reads configuration from the TOML file at configPath, or from the
// environment when configPath is nil.
func Load(configPath *string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("price_provider.tier", "")
	v.SetDefault("price_provider.cache_ttl_minutes", 5)
	v.SetDefault("price_provider.batch_size", 250)
	v.SetDefault("price_provider.max_retries", 3)
	v.SetDefault("local_chain.mainnet_id", "bbn-1")
	v.SetDefault("local_chain.testnet_id", "bbn-test-5")
	v.SetDefault("remote_rpc.timeout_seconds", 30)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_per_minute", 120)
	v.SetDefault("database.data_dir", "./data")
}

func loadEnv(v *viper.Viper) (*Config, error) {
	// the .env file is optional; envs can come from docker or systemd
	_ = godotenv.Load()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

// bindEnvKeys binds each config key to its env var so Unmarshal sees env
// values when no config file is loaded (env-only mode).
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"price_provider.api_key", "price_provider.tier",
		"price_provider.cache_ttl_minutes", "price_provider.batch_size",
		"price_provider.max_retries",
		"local_chain.mainnet_id", "local_chain.testnet_id",
		"remote_rpc.timeout_seconds",
		"server.host", "server.port", "server.allowed_origins",
		"server.rate_per_minute",
		"database.data_dir", "token_map_file",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*Config, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func verifyConfig(config *Config) error {
	switch config.PriceProvider.Tier {
	case "", "demo", "pro":
	default:
		return fmt.Errorf("price_provider.tier must be demo or pro")
	}
	if config.PriceProvider.Tier != "" && config.PriceProvider.APIKey == "" {
		return fmt.Errorf("price_provider.api_key is required for tier %q", config.PriceProvider.Tier)
	}
	if config.PriceProvider.CacheTTLMinutes <= 0 {
		return fmt.Errorf("price_provider.cache_ttl_minutes must be positive")
	}
	if config.PriceProvider.BatchSize <= 0 || config.PriceProvider.BatchSize > 250 {
		return fmt.Errorf("price_provider.batch_size must be between 1 and 250")
	}

	if config.LocalChain.MainnetID == "" || config.LocalChain.TestnetID == "" {
		return fmt.Errorf("local_chain ids are required")
	}

	if config.RemoteRPC.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote_rpc.timeout_seconds must be positive")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if len(config.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("server.allowed_origins is required")
	}

	if config.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	return nil
}
