package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crestfallnatwork/acksp-go"
	"github.com/crestfallnatwork/acksp-go/internal/config"
)

// env carries the connections a command needs.
type env struct {
	cfg    *config.Config
	lib    acksp.Config
	logger *slog.Logger
	eth    *acksp.EthLedger
	ledger acksp.Ledger
	bao    *acksp.BaoClient

	metrics *prometheus.Registry
}

func newEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	lib := cfg.Library()

	eth, err := acksp.DialEthLedger(ctx, lib)
	if err != nil {
		return nil, err
	}
	logger.Debug("connected",
		slog.String("rpc_url", lib.RPCURL),
		slog.String("contract", lib.ContractAddress.Hex()),
	)

	e := &env{cfg: cfg, lib: lib, logger: logger, eth: eth, ledger: eth}
	if cfg.Metrics.Textfile != "" {
		e.metrics = prometheus.NewRegistry()
		m, err := acksp.NewLedgerMetrics(e.metrics)
		if err != nil {
			eth.Close()
			return nil, err
		}
		e.ledger = acksp.NewInstrumentedLedger(eth, m)
	}
	return e, nil
}

func (e *env) close() {
	if e.metrics != nil {
		if err := prometheus.WriteToTextfile(e.cfg.Metrics.Textfile, e.metrics); err != nil {
			e.logger.Warn("write metrics",
				slog.String("path", e.cfg.Metrics.Textfile),
				slog.String("error", err.Error()),
			)
		}
	}
	e.eth.Close()
}

func (e *env) clientOptions() []acksp.ClientOption {
	return []acksp.ClientOption{
		acksp.WithLogger(e.logger),
		acksp.WithRecoverConcurrency(e.lib.RecoverConcurrency),
	}
}

func (e *env) baoClient(ctx context.Context) (*acksp.BaoClient, error) {
	if e.bao != nil {
		return e.bao, nil
	}
	client, err := acksp.NewBaoClient(e.lib)
	if err != nil {
		return nil, err
	}
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("OpenBao health check: %w", err)
	}
	e.bao = client
	return client, nil
}

// signer builds the configured transaction signer. A local private key
// takes precedence over an OpenBao key.
func (e *env) signer(ctx context.Context) (acksp.Signer, error) {
	chainID, err := e.eth.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case e.cfg.Signer.PrivateKey != "":
		return acksp.NewLocalSignerFromHex(string(e.cfg.Signer.PrivateKey), chainID)
	case e.cfg.Signer.BaoKey != "":
		client, err := e.baoClient(ctx)
		if err != nil {
			return nil, err
		}
		return acksp.NewBaoSigner(ctx, client, e.cfg.Signer.BaoKey, chainID)
	default:
		return nil, acksp.NewValidationError("signer", "set signer.private_key or signer.bao_key")
	}
}

// encryptor builds the self-encryptor for mode. It returns nil for
// EscrowNone.
func (e *env) encryptor(ctx context.Context, mode string) (acksp.SelfEncryptor, error) {
	switch mode {
	case config.EscrowNone:
		return nil, nil
	case config.EscrowSelf:
		if e.cfg.Signer.PrivateKey == "" {
			return nil, acksp.NewValidationError("escrow.mode", "self escrow needs signer.private_key")
		}
		s, err := acksp.NewLocalSignerFromHex(string(e.cfg.Signer.PrivateKey), nil)
		if err != nil {
			return nil, err
		}
		return s.Encryptor(), nil
	case config.EscrowPassphrase:
		if e.cfg.Escrow.Passphrase == "" {
			return nil, acksp.NewValidationError("escrow.passphrase", "required for passphrase escrow")
		}
		return acksp.NewPassphraseEncryptor(e.cfg.Escrow.Passphrase), nil
	case config.EscrowBao:
		client, err := e.baoClient(ctx)
		if err != nil {
			return nil, err
		}
		return acksp.NewBaoTransitEncryptor(client, e.cfg.Escrow.TransitKey), nil
	default:
		return nil, acksp.NewValidationError("escrow.mode", fmt.Sprintf("unknown mode %q", mode))
	}
}

func (e *env) keyStore() (*acksp.KeyStore, error) {
	if e.lib.StorePath == "" {
		return nil, acksp.NewValidationError("store.path", "required to keep published keys")
	}
	return acksp.NewKeyStore(e.lib.StorePath)
}
