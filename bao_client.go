package acksp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BaoClient handles HTTP communication with OpenBao: the secp256k1 plugin
// for transaction signing and the transit engine for key escrow.
type BaoClient struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	namespace     string
	secp256k1Path string
	transitPath   string
}

// NewBaoClient creates a new client instance.
func NewBaoClient(cfg Config) (*BaoClient, error) {
	if err := cfg.ValidateBao(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.SkipTLSVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	return &BaoClient{
		httpClient:    &http.Client{Timeout: cfg.HTTPTimeout, Transport: transport},
		baseURL:       strings.TrimSuffix(cfg.BaoAddr, "/"),
		token:         cfg.BaoToken,
		namespace:     cfg.BaoNamespace,
		secp256k1Path: cfg.Secp256k1Path,
		transitPath:   cfg.TransitPath,
	}, nil
}

// GetKey retrieves secp256k1 key info.
func (c *BaoClient) GetKey(ctx context.Context, name string) (*KeyInfo, error) {
	var info KeyInfo
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/v1/%s/keys/%s", c.secp256k1Path, name), nil, &info); err != nil {
		return nil, fmt.Errorf("get key %q: %w", name, err)
	}
	return &info, nil
}

// Sign signs a 32-byte digest and returns the 64-byte R||S signature.
func (c *BaoClient) Sign(ctx context.Context, keyName string, digest []byte) ([]byte, error) {
	req := signRequest{
		Input:        base64.StdEncoding.EncodeToString(digest),
		Prehashed:    true,
		OutputFormat: "cosmos",
	}
	var resp SignResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/sign/%s", c.secp256k1Path, keyName), req, &resp); err != nil {
		return nil, fmt.Errorf("sign with %q: %w", keyName, err)
	}

	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("sign with %q: %w", keyName, err)
	}
	if len(sig) != 64 {
		return nil, fmt.Errorf("sign with %q: %w", keyName, ErrInvalidSignature)
	}
	return sig, nil
}

// Encrypt seals plaintext with a transit key and returns the vault:vN: token.
func (c *BaoClient) Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error) {
	req := transitRequest{Plaintext: base64.StdEncoding.EncodeToString(plaintext)}
	var resp transitRequest
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/encrypt/%s", c.transitPath, keyName), req, &resp); err != nil {
		return "", fmt.Errorf("transit encrypt with %q: %w", keyName, err)
	}
	if resp.Ciphertext == "" {
		return "", fmt.Errorf("transit encrypt with %q: empty ciphertext", keyName)
	}
	return resp.Ciphertext, nil
}

// Decrypt opens a transit ciphertext token.
func (c *BaoClient) Decrypt(ctx context.Context, keyName, ciphertext string) ([]byte, error) {
	req := transitRequest{Ciphertext: ciphertext}
	var resp transitRequest
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/decrypt/%s", c.transitPath, keyName), req, &resp); err != nil {
		return nil, fmt.Errorf("transit decrypt with %q: %w", keyName, err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("transit decrypt with %q: %w", keyName, err)
	}
	return plaintext, nil
}

// HealthStatus is the body of /v1/sys/health.
type HealthStatus struct {
	Initialized bool   `json:"initialized"`
	Sealed      bool   `json:"sealed"`
	Standby     bool   `json:"standby"`
	Version     string `json:"version"`
}

// Health reports whether OpenBao can serve signing and transit requests.
// Standby nodes forward to the active node and count as healthy.
func (c *BaoClient) Health(ctx context.Context) error {
	resp, raw, err := c.roundTrip(ctx, http.MethodGet, "/v1/sys/health", nil, false)
	if err != nil {
		return err
	}

	var status HealthStatus
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &status)
	}
	if status.Sealed {
		return ErrBaoSealed
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusTooManyRequests, 472, 473:
		return nil
	case http.StatusServiceUnavailable:
		return ErrBaoSealed
	case http.StatusNotImplemented:
		return fmt.Errorf("%w: not initialized", ErrBaoUnavailable)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrBaoUnavailable, resp.StatusCode)
	}
}

type signRequest struct {
	Input        string `json:"input"`
	Prehashed    bool   `json:"prehashed"`
	OutputFormat string `json:"output_format"`
}

// transitRequest is both the request and the data of a transit reply.
type transitRequest struct {
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// maxBaoResponse bounds how much of a reply is read.
const maxBaoResponse = 1 << 20

// call sends in as JSON and decodes the "data" object of the reply into
// out. Replies with status >= 400 become a *BaoError.
func (c *BaoClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	resp, raw, err := c.roundTrip(ctx, method, path, body, true)
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []string        `json:"errors"`
	}
	decodeErr := json.Unmarshal(raw, &envelope)
	if resp.StatusCode >= 400 {
		return NewBaoError(resp.StatusCode, envelope.Errors, resp.Header.Get("X-Request-Id"))
	}
	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %v", ErrBaoMalformed, decodeErr)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: no data", ErrBaoMalformed)
	}
	return json.Unmarshal(envelope.Data, out)
}

// roundTrip performs one request and reads the bounded reply body.
// Transport failures wrap ErrBaoConnection.
func (c *BaoClient) roundTrip(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBaoConnection, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("X-Vault-Token", c.token)
		if c.namespace != "" {
			req.Header.Set("X-Vault-Namespace", c.namespace)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBaoConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBaoResponse))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read reply: %w", ErrBaoConnection, err)
	}
	return resp, raw, nil
}
