package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/crestfallnatwork/acksp-go"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Read and publish registry keys",
}

var keysListCmd = &cobra.Command{
	Use:   "list <owner>",
	Short: "List every key published by an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysList,
}

var keysCurrentCmd = &cobra.Command{
	Use:   "current <owner>",
	Short: "Show the key valid now (or at --at)",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCurrent,
}

var keysPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Generate and publish a new key for the signer account",
	Long: `Generate a fresh secp256k1 key pair and register its public key.

The validity window starts when the transaction is included and ends at
--valid-till (unix ms, default now + 360 days). With an escrow mode other
than "none" the private key is published encrypted so the account can
recover it later.

Examples:
  acksp keys publish --escrow self
  acksp keys publish --escrow bao --save
  acksp keys publish --escrow none --reveal`,
	RunE: runKeysPublish,
}

var keysRecoverCmd = &cobra.Command{
	Use:   "recover <owner>",
	Short: "Decrypt escrowed private keys",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRecover,
}

var keysLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "List published keys kept in the local store",
	Args:  cobra.NoArgs,
	RunE:  runKeysLocal,
}

var keysLocalRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a key from the local store",
	Long: `Remove a key from the local store. The registry entry is not touched;
unless the key was published with escrow, its private half is gone for good.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysLocalRm,
}

func init() {
	keysCurrentCmd.Flags().Uint64("at", 0, "timestamp in unix ms (default: now)")

	keysPublishCmd.Flags().Uint64("valid-till", 0, "end of validity in unix ms (default: now + 360 days)")
	keysPublishCmd.Flags().String("escrow", "", "escrow mode: none, self, passphrase, bao (default: escrow.mode)")
	keysPublishCmd.Flags().Bool("save", false, "keep the private key in the local store")
	keysPublishCmd.Flags().Bool("reveal", false, "print the private key")

	keysRecoverCmd.Flags().Bool("all", false, "recover every published key, not only the current one")
	keysRecoverCmd.Flags().Uint64("at", 0, "timestamp in unix ms (default: now)")
	keysRecoverCmd.Flags().String("escrow", "", "escrow mode used when publishing (default: escrow.mode)")
	keysRecoverCmd.Flags().Bool("reveal", false, "print recovered private keys")

	keysLocalCmd.AddCommand(keysLocalRmCmd)
	keysCmd.AddCommand(keysListCmd, keysCurrentCmd, keysPublishCmd, keysRecoverCmd, keysLocalCmd)
	rootCmd.AddCommand(keysCmd)
}

func parseOwner(arg string) (common.Address, error) {
	if !common.IsHexAddress(arg) {
		return common.Address{}, fmt.Errorf("invalid address %q", arg)
	}
	return common.HexToAddress(arg), nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	owner, err := parseOwner(args[0])
	if err != nil {
		return err
	}
	e, err := newEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	records, err := acksp.NewReadOnlyClient(e.ledger, e.clientOptions()...).FetchAllRecords(cmd.Context(), owner)
	if err != nil {
		return err
	}

	views := make([]recordView, len(records))
	for i, r := range records {
		views[i] = newRecordView(r)
	}
	return render(cmd.OutOrStdout(), outputMode, views, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "PUBLIC KEY\tESCROWED\tVALID FROM\tVALID TO")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%t\t%d\t%d\n", v.PublicKey, v.Escrowed, v.ValidFrom, v.ValidTo)
		}
	})
}

func runKeysCurrent(cmd *cobra.Command, args []string) error {
	owner, err := parseOwner(args[0])
	if err != nil {
		return err
	}
	at, _ := cmd.Flags().GetUint64("at")

	e, err := newEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	if at == 0 {
		at = acksp.UnixMilli(acksp.SystemClock.Now())
	}
	record, err := acksp.NewReadOnlyClient(e.ledger, e.clientOptions()...).FetchValidRecord(cmd.Context(), owner, at)
	if errors.Is(err, acksp.ErrKeyNotFound) {
		return fmt.Errorf("no key of %s is valid at %d: %w", owner.Hex(), at, err)
	}
	if err != nil {
		return err
	}

	view := newRecordView(record)
	return render(cmd.OutOrStdout(), outputMode, view, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Public key:\t%s\n", view.PublicKey)
		fmt.Fprintf(tw, "Escrowed:\t%t\n", view.Escrowed)
		fmt.Fprintf(tw, "Valid from:\t%d\n", view.ValidFrom)
		fmt.Fprintf(tw, "Valid to:\t%d\n", view.ValidTo)
	})
}

func runKeysPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	validTill, _ := cmd.Flags().GetUint64("valid-till")
	mode, _ := cmd.Flags().GetString("escrow")
	save, _ := cmd.Flags().GetBool("save")
	reveal, _ := cmd.Flags().GetBool("reveal")

	e, err := newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if mode == "" {
		mode = e.cfg.Escrow.Mode
	}
	signer, err := e.signer(ctx)
	if err != nil {
		return err
	}
	encryptor, err := e.encryptor(ctx, mode)
	if err != nil {
		return err
	}

	opts := e.clientOptions()
	var store *acksp.KeyStore
	if save {
		if store, err = e.keyStore(); err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, acksp.WithKeyStore(store))
	}

	published, err := acksp.NewWriteOnlyClient(e.ledger, signer, opts...).Publish(ctx, acksp.PublishOptions{
		ValidTill: validTill,
		Encryptor: encryptor,
	})
	if published == nil {
		return err
	}
	if err != nil {
		// Published on-chain but not saved locally: never lose the key.
		reveal = true
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	view := publishedView{
		PublicKey: published.PublicKey.Hex(),
		Escrowed:  len(published.EncryptedPrivateKey) > 0,
		ValidTill: published.ValidTill,
		TxHash:    published.TxHash.Hex(),
	}
	if reveal {
		view.PrivateKey = hexutil.Encode(crypto.FromECDSA(published.PrivateKey))
	}
	if store != nil && err == nil {
		if stored, lookupErr := store.GetByPublicKey(published.PublicKey); lookupErr == nil {
			view.StoreID = stored.ID
		}
	}

	renderErr := render(cmd.OutOrStdout(), outputMode, view, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Public key:\t%s\n", view.PublicKey)
		fmt.Fprintf(tw, "Escrowed:\t%t\n", view.Escrowed)
		fmt.Fprintf(tw, "Valid till:\t%d\n", view.ValidTill)
		fmt.Fprintf(tw, "Tx hash:\t%s\n", view.TxHash)
		if view.StoreID != "" {
			fmt.Fprintf(tw, "Store ID:\t%s\n", view.StoreID)
		}
		if view.PrivateKey != "" {
			fmt.Fprintf(tw, "Private key:\t%s\n", view.PrivateKey)
		}
	})
	if err != nil {
		return err
	}
	return renderErr
}

func runKeysRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner, err := parseOwner(args[0])
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	at, _ := cmd.Flags().GetUint64("at")
	mode, _ := cmd.Flags().GetString("escrow")
	reveal, _ := cmd.Flags().GetBool("reveal")

	e, err := newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if mode == "" {
		mode = e.cfg.Escrow.Mode
	}
	decryptor, err := e.encryptor(ctx, mode)
	if err != nil {
		return err
	}
	if decryptor == nil {
		return acksp.NewValidationError("escrow", "recovery needs an escrow mode other than none")
	}

	reader := acksp.NewReadOnlyClient(e.ledger, e.clientOptions()...)
	var caps []*acksp.Capability
	switch {
	case all:
		caps, err = reader.RecoverAllPrivateCapabilities(ctx, owner, decryptor)
	case at != 0:
		var c *acksp.Capability
		c, err = reader.RecoverPrivateCapabilityAt(ctx, owner, decryptor, at)
		caps = []*acksp.Capability{c}
	default:
		var c *acksp.Capability
		c, err = reader.RecoverPrivateCapability(ctx, owner, decryptor)
		caps = []*acksp.Capability{c}
	}
	if err != nil {
		return err
	}

	views := make([]capabilityView, len(caps))
	for i, c := range caps {
		views[i] = capabilityView{
			PublicKey: c.PublicKey().Hex(),
			Address:   c.Address().Hex(),
		}
		if reveal {
			views[i].PrivateKey = hexutil.Encode(crypto.FromECDSA(c.PrivateKey()))
		}
	}
	return render(cmd.OutOrStdout(), outputMode, views, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "PUBLIC KEY\tADDRESS\tPRIVATE KEY")
		for _, v := range views {
			pk := v.PrivateKey
			if pk == "" {
				pk = "(hidden)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.PublicKey, v.Address, pk)
		}
	})
}

// openLocalStore opens the configured store without dialing the chain.
func openLocalStore() (*acksp.KeyStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Library().StorePath
	if path == "" {
		return nil, acksp.NewValidationError("store.path", "not configured")
	}
	return acksp.NewKeyStore(path)
}

func runKeysLocal(cmd *cobra.Command, _ []string) error {
	store, err := openLocalStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	keys := store.List()
	type localView struct {
		ID        string `json:"id" yaml:"id"`
		Owner     string `json:"owner" yaml:"owner"`
		PublicKey string `json:"public_key" yaml:"public_key"`
		ValidTill uint64 `json:"valid_till" yaml:"valid_till"`
		TxHash    string `json:"tx_hash" yaml:"tx_hash"`
	}
	views := make([]localView, len(keys))
	for i, k := range keys {
		views[i] = localView{ID: k.ID, Owner: k.Owner, PublicKey: k.PublicKey, ValidTill: k.ValidTill, TxHash: k.TxHash}
	}
	return render(cmd.OutOrStdout(), outputMode, views, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tOWNER\tPUBLIC KEY\tVALID TILL")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", v.ID, v.Owner, v.PublicKey, v.ValidTill)
		}
	})
}

func runKeysLocalRm(cmd *cobra.Command, args []string) error {
	store, err := openLocalStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s, %d key(s) left\n", args[0], store.Count())
	return nil
}
