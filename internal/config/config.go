// Package config provides configuration loading for the acksp CLI.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/crestfallnatwork/acksp-go"
)

// Config holds all configuration for the CLI.
type Config struct {
	Chain   ChainConfig   `mapstructure:"chain"`
	Signer  SignerConfig  `mapstructure:"signer"`
	Escrow  EscrowConfig  `mapstructure:"escrow"`
	OpenBao OpenBaoConfig `mapstructure:"openbao"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ChainConfig holds registry connection settings.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url" validate:"url"`
	Contract       HexAddress    `mapstructure:"contract" validate:"eth_addr"`
	ChainID        int64         `mapstructure:"chain_id" validate:"gte=0"` // 0 = ask the node
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" validate:"gte=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=0"`
}

// SignerConfig selects the transaction signer. PrivateKey wins over BaoKey.
type SignerConfig struct {
	PrivateKey HexKey `mapstructure:"private_key"`
	BaoKey     string `mapstructure:"bao_key"`
}

// Escrow modes.
const (
	EscrowNone       = "none"
	EscrowSelf       = "self"
	EscrowPassphrase = "passphrase"
	EscrowBao        = "bao"
)

// EscrowConfig selects how published private keys are escrowed.
type EscrowConfig struct {
	Mode       string `mapstructure:"mode" validate:"oneof=none self passphrase bao"`
	Passphrase string `mapstructure:"passphrase"`
	TransitKey string `mapstructure:"transit_key"`
}

// OpenBaoConfig holds OpenBao configuration.
type OpenBaoConfig struct {
	Address       string `mapstructure:"address" validate:"omitempty,url"`
	Token         string `mapstructure:"token"`
	Namespace     string `mapstructure:"namespace"`
	Secp256k1Path string `mapstructure:"secp256k1_path"`
	TransitPath   string `mapstructure:"transit_path"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
}

// StoreConfig holds the local key store location.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// Textfile, when set, receives ledger metrics in the node_exporter
	// textfile format after each command.
	Textfile string `mapstructure:"textfile"`
}

// Load reads configuration from file and ACKSP_* environment variables.
// An empty path searches the default locations; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("acksp")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.acksp")
		v.AddConfigPath("/etc/acksp")
	}

	v.SetEnvPrefix("ACKSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// HexAddress is a 20-byte account address written as hex.
type HexAddress string

// HexKey is a 32-byte private key written as hex.
type HexKey string

// decodeHook keeps viper's duration and slice hooks and adds hexIntDecodeHook.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		hexIntDecodeHook(),
	)
}

// hexIntDecodeHook restores hex values that YAML parsed as integers.
// An unquoted "contract: 0x00...acc5b" arrives as 707675; left alone the
// weak string conversion would turn it into "707675".
func hexIntDecodeHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		var width int
		switch t {
		case reflect.TypeOf(HexAddress("")):
			width = common.AddressLength
		case reflect.TypeOf(HexKey("")):
			width = common.HashLength
		default:
			return data, nil
		}

		n := new(big.Int)
		rv := reflect.ValueOf(data)
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if rv.Int() < 0 {
				return nil, fmt.Errorf("negative value %d for %s, quote the hex string", rv.Int(), t.Name())
			}
			n.SetInt64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n.SetUint64(rv.Uint())
		default:
			return data, nil
		}

		if t == reflect.TypeOf(HexAddress("")) {
			return HexAddress(common.BigToAddress(n).Hex()), nil
		}
		return HexKey(hexutil.Encode(common.LeftPadBytes(n.Bytes(), width))), nil
	}
}

// setDefaults configures default values for all settings. Every key is
// listed so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.contract", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.confirm_timeout", acksp.DefaultConfirmTimeout.String())
	v.SetDefault("chain.poll_interval", acksp.DefaultReceiptPollInterval.String())
	v.SetDefault("chain.concurrency", acksp.DefaultRecoverConcurrency)

	v.SetDefault("signer.private_key", "")
	v.SetDefault("signer.bao_key", "")

	v.SetDefault("escrow.mode", EscrowSelf)
	v.SetDefault("escrow.passphrase", "")
	v.SetDefault("escrow.transit_key", "acksp")

	v.SetDefault("openbao.address", "")
	v.SetDefault("openbao.token", "")
	v.SetDefault("openbao.namespace", "")
	v.SetDefault("openbao.secp256k1_path", acksp.DefaultSecp256k1Path)
	v.SetDefault("openbao.transit_path", acksp.DefaultTransitPath)
	v.SetDefault("openbao.skip_tls_verify", false)

	v.SetDefault("store.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.textfile", "")
}

var validate = newValidator()

// newValidator reports fields by their config key.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

// Validate checks values the library cannot default.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return acksp.ErrMissingRPCURL
	}
	if c.Chain.Contract == "" {
		return acksp.ErrMissingContract
	}
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return acksp.NewValidationError(configKey(fe.Namespace()), describe(fe))
		}
		return err
	}
	if c.Escrow.Mode == EscrowPassphrase && c.Escrow.Passphrase == "" {
		return acksp.NewValidationError("escrow.passphrase", "required for passphrase escrow")
	}
	return nil
}

// configKey turns "Config.chain.contract" into "chain.contract".
func configKey(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of: " + fe.Param()
	case "eth_addr":
		return "not a hex address"
	case "url":
		return "not a URL"
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

// Library converts the CLI configuration into acksp.Config.
func (c *Config) Library() acksp.Config {
	cfg := acksp.Config{
		RPCURL:              c.Chain.RPCURL,
		ContractAddress:     common.HexToAddress(string(c.Chain.Contract)),
		ConfirmTimeout:      c.Chain.ConfirmTimeout,
		ReceiptPollInterval: c.Chain.PollInterval,
		RecoverConcurrency:  c.Chain.Concurrency,
		BaoAddr:             c.OpenBao.Address,
		BaoToken:            c.OpenBao.Token,
		BaoNamespace:        c.OpenBao.Namespace,
		Secp256k1Path:       c.OpenBao.Secp256k1Path,
		TransitPath:         c.OpenBao.TransitPath,
		SkipTLSVerify:       c.OpenBao.SkipTLSVerify,
		StorePath:           c.Store.Path,
	}
	if c.Chain.ChainID > 0 {
		cfg.ChainID = big.NewInt(c.Chain.ChainID)
	}
	return cfg.WithDefaults()
}
