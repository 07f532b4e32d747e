package acksp

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RegistryABI is the ABI of the key registry contract.
const RegistryABI = `[
  {
    "type": "function",
    "name": "get_keys",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "tuple[]", "components": [
      {"name": "public_key", "type": "bytes"},
      {"name": "encrypted_private_key", "type": "bytes"},
      {"name": "from_timestamp", "type": "uint64"},
      {"name": "to_timestamp", "type": "uint64"}
    ]}]
  },
  {
    "type": "function",
    "name": "get_key_timestamp",
    "stateMutability": "view",
    "inputs": [
      {"name": "owner", "type": "address"},
      {"name": "timestamp", "type": "uint64"}
    ],
    "outputs": [{"name": "", "type": "tuple[]", "components": [
      {"name": "public_key", "type": "bytes"},
      {"name": "encrypted_private_key", "type": "bytes"},
      {"name": "from_timestamp", "type": "uint64"},
      {"name": "to_timestamp", "type": "uint64"}
    ]}]
  },
  {
    "type": "function",
    "name": "add_key",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "public_key", "type": "bytes"},
      {"name": "encrypted_private_key", "type": "bytes"},
      {"name": "valid_till", "type": "uint64"}
    ],
    "outputs": []
  }
]`

var registryABI = mustParseABI(RegistryABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("acksp: parse registry ABI: %v", err))
	}
	return parsed
}

// registryKey mirrors the contract's Key struct.
type registryKey struct {
	PublicKey           []byte
	EncryptedPrivateKey []byte
	FromTimestamp       uint64
	ToTimestamp         uint64
}

// decodeRecords unpacks the Key[] output of a registry view.
func decodeRecords(method string, data []byte) ([]KeyRecord, error) {
	m, ok := registryABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ErrUnexpectedResult, method)
	}
	out, err := m.Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResult, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %d outputs", ErrUnexpectedResult, len(out))
	}
	raw, ok := abi.ConvertType(out[0], new([]registryKey)).(*[]registryKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResult, out[0])
	}

	records := make([]KeyRecord, len(*raw))
	for i, k := range *raw {
		records[i] = KeyRecord{
			PublicKey:           PublicKey(k.PublicKey),
			EncryptedPrivateKey: k.EncryptedPrivateKey,
			ValidFrom:           k.FromTimestamp,
			ValidTo:             k.ToTimestamp,
		}
	}
	return records, nil
}

// encodeRecords packs records as a registry view would return them.
func encodeRecords(method string, records []KeyRecord) ([]byte, error) {
	m, ok := registryABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	raw := make([]registryKey, len(records))
	for i, r := range records {
		enc := r.EncryptedPrivateKey
		if enc == nil {
			enc = []byte{}
		}
		raw[i] = registryKey{
			PublicKey:           []byte(r.PublicKey),
			EncryptedPrivateKey: enc,
			FromTimestamp:       r.ValidFrom,
			ToTimestamp:         r.ValidTo,
		}
	}
	return m.Outputs.Pack(raw)
}
