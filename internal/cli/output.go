package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/crestfallnatwork/acksp-go"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type recordView struct {
	PublicKey string `json:"public_key" yaml:"public_key"`
	Escrowed  bool   `json:"escrowed" yaml:"escrowed"`
	ValidFrom uint64 `json:"valid_from" yaml:"valid_from"`
	ValidTo   uint64 `json:"valid_to" yaml:"valid_to"`
}

func newRecordView(r acksp.KeyRecord) recordView {
	return recordView{
		PublicKey: r.PublicKey.Hex(),
		Escrowed:  r.Escrowed(),
		ValidFrom: r.ValidFrom,
		ValidTo:   r.ValidTo,
	}
}

type publishedView struct {
	PublicKey  string `json:"public_key" yaml:"public_key"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Escrowed   bool   `json:"escrowed" yaml:"escrowed"`
	ValidTill  uint64 `json:"valid_till" yaml:"valid_till"`
	TxHash     string `json:"tx_hash" yaml:"tx_hash"`
	StoreID    string `json:"store_id,omitempty" yaml:"store_id,omitempty"`
}

type capabilityView struct {
	PublicKey  string `json:"public_key" yaml:"public_key"`
	Address    string `json:"address" yaml:"address"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
}

// render writes v in the selected format. text renders through table.
func render(w io.Writer, mode string, v any, table func(tw *tabwriter.Writer)) error {
	switch mode {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputText, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", mode)
	}
}
