// Package cli implements the acksp command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crestfallnatwork/acksp-go/internal/config"
)

var (
	cfgFile    string
	outputMode string
)

var rootCmd = &cobra.Command{
	Use:   "acksp",
	Short: "Publish and resolve rotating keys in the ACKSP registry",
	Long: `acksp publishes rotating secp256k1 keys to the on-chain key registry and
resolves the key that is valid for an address at a given time.

Configuration is read from acksp.yaml (., $HOME/.acksp, /etc/acksp) or --config,
and can be overridden with ACKSP_* environment variables, e.g.
ACKSP_CHAIN_RPC_URL, ACKSP_CHAIN_CONTRACT, ACKSP_SIGNER_PRIVATE_KEY.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: acksp.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", outputText, "output format: text, json, yaml")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads and validates configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the slog logger described by cfg. Logs go to stderr so
// that stdout stays machine readable.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
