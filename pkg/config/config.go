package config

// Package config provides a reusable loader for devnet configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"starkdevnet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified startup configuration for a devnet node. It
// mirrors the structure of the YAML files under cmd/devnetd/config.
type Config struct {
	Network struct {
		ChainID         string `mapstructure:"chain_id" json:"chain_id"` // hex felt, e.g. "0x534e5f5345504f4c4941"
		ProtocolVersion string `mapstructure:"protocol_version" json:"protocol_version"`
		SpecVersion     string `mapstructure:"spec_version" json:"spec_version"`
		Sequencer       string `mapstructure:"sequencer_address" json:"sequencer_address"`
		ListenAddr      string `mapstructure:"listen_addr" json:"listen_addr"`
		MetricsAddr     string `mapstructure:"metrics_addr" json:"metrics_addr"`
	} `mapstructure:"network" json:"network"`

	BlockProduction struct {
		// Mode is one of "transaction", "demand", "interval".
		Mode        string `mapstructure:"mode" json:"mode"`
		IntervalMS  int    `mapstructure:"interval_ms" json:"interval_ms"`
		StartTime   uint64 `mapstructure:"start_time" json:"start_time"`
	} `mapstructure:"block_production" json:"block_production"`

	Accounts struct {
		Count           int    `mapstructure:"count" json:"count"`
		Seed            string `mapstructure:"seed" json:"seed"`
		InitialBalance  string `mapstructure:"initial_balance" json:"initial_balance"` // hex felt, per unit
	} `mapstructure:"accounts" json:"accounts"`

	GasPrices struct {
		L1GasWei     string `mapstructure:"l1_gas_wei" json:"l1_gas_wei"`
		L1GasFri     string `mapstructure:"l1_gas_fri" json:"l1_gas_fri"`
		L1DataGasWei string `mapstructure:"l1_data_gas_wei" json:"l1_data_gas_wei"`
		L1DataGasFri string `mapstructure:"l1_data_gas_fri" json:"l1_data_gas_fri"`
		L2GasWei     string `mapstructure:"l2_gas_wei" json:"l2_gas_wei"`
		L2GasFri     string `mapstructure:"l2_gas_fri" json:"l2_gas_fri"`
	} `mapstructure:"gas_prices" json:"gas_prices"`

	FeeToken struct {
		WeiAddress string `mapstructure:"wei_address" json:"wei_address"`
		FriAddress string `mapstructure:"fri_address" json:"fri_address"`
	} `mapstructure:"fee_token" json:"fee_token"`

	Fork struct {
		Enabled     bool   `mapstructure:"enabled" json:"enabled"`
		URL         string `mapstructure:"url" json:"url"`
		BlockNumber uint64 `mapstructure:"block_number" json:"block_number"`
		CacheSize   int    `mapstructure:"cache_size" json:"cache_size"`
	} `mapstructure:"fork" json:"fork"`

	Messaging struct {
		ContractAddress string `mapstructure:"contract_address" json:"contract_address"`
		DryRun          bool   `mapstructure:"dry_run" json:"dry_run"`
	} `mapstructure:"messaging" json:"messaging"`

	Journal struct {
		// Mode is one of "off", "on_accepted_block", "on_accepted_transaction",
		// "on_clean_shutdown", "on_explicit_request".
		Mode string `mapstructure:"mode" json:"mode"`
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"journal" json:"journal"`

	Storage struct {
		Archival bool `mapstructure:"archival" json:"archival"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	// A missing .env is not an error: it is the normal case outside
	// local development.
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/devnetd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the STARKDEVNET_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("STARKDEVNET_ENV", ""))
}
