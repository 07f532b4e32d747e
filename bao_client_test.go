package acksp

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBao emulates the secp256k1 plugin and the transit engine.
type fakeBao struct {
	t *testing.T

	mu      sync.Mutex
	keys    map[string]*ecdsa.PrivateKey
	signKey *ecdsa.PrivateKey // overrides the signing key when set
	transit map[string][]byte
	tokens  []string
	sealed  bool
}

func newFakeBao(t *testing.T) *fakeBao {
	return &fakeBao{
		t:       t,
		keys:    make(map[string]*ecdsa.PrivateKey),
		transit: make(map[string][]byte),
	}
}

func (b *fakeBao) addKey(name string) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(b.t, err)
	b.keys[name] = key
	return key
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBao) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, r.Header.Get("X-Vault-Token"))

	if r.URL.Path == "/v1/sys/health" {
		if b.sealed {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Header.Get("X-Vault-Token") != "test-token" {
		writeJSON(w, http.StatusForbidden, map[string]any{"errors": []string{"permission denied"}})
		return
	}

	var body map[string]any
	if r.Method == http.MethodPost {
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/"), "/")
	if len(parts) != 3 {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"no handler"}})
		return
	}
	mount, op, name := parts[0], parts[1], parts[2]

	switch {
	case mount == DefaultSecp256k1Path && op == "keys":
		key, ok := b.keys[name]
		if !ok {
			w.Header().Set("X-Request-Id", "req-404")
			writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"key not found"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"name":       name,
			"public_key": hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)),
			"exportable": false,
		}})

	case mount == DefaultSecp256k1Path && op == "sign":
		key, ok := b.keys[name]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"key not found"}})
			return
		}
		assert.Equal(b.t, true, body["prehashed"])
		digest, err := base64.StdEncoding.DecodeString(body["input"].(string))
		require.NoError(b.t, err)
		if b.signKey != nil {
			key = b.signKey
		}
		sig, err := crypto.Sign(digest, key)
		require.NoError(b.t, err)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"signature": base64.StdEncoding.EncodeToString(sig[:64]),
		}})

	case mount == DefaultTransitPath && op == "encrypt":
		plaintext, err := base64.StdEncoding.DecodeString(body["plaintext"].(string))
		require.NoError(b.t, err)
		token := "vault:v1:" + base64.StdEncoding.EncodeToString(crypto.Keccak256(plaintext))
		b.transit[name+"|"+token] = plaintext
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"ciphertext": token}})

	case mount == DefaultTransitPath && op == "decrypt":
		plaintext, ok := b.transit[name+"|"+body["ciphertext"].(string)]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid ciphertext"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"plaintext": base64.StdEncoding.EncodeToString(plaintext),
		}})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"no handler"}})
	}
}

func setupTestBao(t *testing.T) (*BaoClient, *fakeBao) {
	t.Helper()
	fake := newFakeBao(t)
	server := httptest.NewTLSServer(fake)
	t.Cleanup(server.Close)

	client, err := NewBaoClient(Config{
		BaoAddr:       server.URL,
		BaoToken:      "test-token",
		SkipTLSVerify: true,
	})
	require.NoError(t, err)
	return client, fake
}

func TestNewBaoClient_Validation(t *testing.T) {
	_, err := NewBaoClient(Config{})
	assert.ErrorIs(t, err, ErrMissingBaoAddr)

	_, err = NewBaoClient(Config{BaoAddr: "https://bao:8200"})
	assert.ErrorIs(t, err, ErrMissingBaoToken)
}

func TestBaoClient_GetKey(t *testing.T) {
	client, fake := setupTestBao(t)
	key := fake.addKey("publisher")

	info, err := client.GetKey(context.Background(), "publisher")
	require.NoError(t, err)
	assert.Equal(t, "publisher", info.Name)
	assert.Equal(t, hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)), info.PublicKey)
	assert.Equal(t, []string{"test-token"}, fake.tokens)
}

func TestBaoClient_GetKey_NotFound(t *testing.T) {
	client, _ := setupTestBao(t)

	_, err := client.GetKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBaoKeyNotFound)

	var baoErr *BaoError
	require.ErrorAs(t, err, &baoErr)
	assert.Equal(t, http.StatusNotFound, baoErr.StatusCode)
	assert.Equal(t, "req-404", baoErr.RequestID)
	assert.Equal(t, []string{"key not found"}, baoErr.Errors)
}

func TestBaoClient_AuthFailure(t *testing.T) {
	fake := newFakeBao(t)
	server := httptest.NewTLSServer(fake)
	defer server.Close()

	client, err := NewBaoClient(Config{BaoAddr: server.URL, BaoToken: "wrong", SkipTLSVerify: true})
	require.NoError(t, err)

	_, err = client.GetKey(context.Background(), "publisher")
	assert.ErrorIs(t, err, ErrBaoAuth)
}

func TestBaoClient_Sign(t *testing.T) {
	client, fake := setupTestBao(t)
	key := fake.addKey("publisher")
	digest := crypto.Keccak256([]byte("payload"))

	sig, err := client.Sign(context.Background(), "publisher", digest)
	require.NoError(t, err)
	require.Len(t, sig, 64)
	assert.True(t, crypto.VerifySignature(crypto.CompressPubkey(&key.PublicKey), digest, sig))
}

func TestBaoClient_Sign_BadLength(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"signature": base64.StdEncoding.EncodeToString(make([]byte, 65)),
		}})
	}))
	defer server.Close()
	client, err := NewBaoClient(Config{BaoAddr: server.URL, BaoToken: "test-token", SkipTLSVerify: true})
	require.NoError(t, err)

	_, err = client.Sign(context.Background(), "publisher", make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestBaoClient_TransitRoundTrip(t *testing.T) {
	client, _ := setupTestBao(t)
	ctx := context.Background()

	token, err := client.Encrypt(ctx, "escrow", []byte("secret"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "vault:v1:"))

	plaintext, err := client.Decrypt(ctx, "escrow", token)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plaintext)

	_, err = client.Decrypt(ctx, "other", token)
	var baoErr *BaoError
	require.ErrorAs(t, err, &baoErr)
	assert.Equal(t, http.StatusBadRequest, baoErr.StatusCode)
}

func TestBaoClient_Health(t *testing.T) {
	client, fake := setupTestBao(t)

	assert.NoError(t, client.Health(context.Background()))

	fake.mu.Lock()
	fake.sealed = true
	fake.mu.Unlock()
	assert.ErrorIs(t, client.Health(context.Background()), ErrBaoSealed)
}

func TestBaoClient_Health_Unreachable(t *testing.T) {
	client, err := NewBaoClient(Config{BaoAddr: "https://127.0.0.1:1", BaoToken: "t", SkipTLSVerify: true})
	require.NoError(t, err)

	assert.ErrorIs(t, client.Health(context.Background()), ErrBaoConnection)
}

func TestBaoClient_Health_Status(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
	}{
		{name: "active", status: http.StatusOK, body: HealthStatus{Initialized: true}},
		{name: "standby", status: http.StatusTooManyRequests, body: HealthStatus{Initialized: true, Standby: true}},
		{name: "sealed in body", status: http.StatusOK, body: HealthStatus{Initialized: true, Sealed: true}, wantErr: ErrBaoSealed},
		{name: "not initialized", status: http.StatusNotImplemented, body: HealthStatus{}, wantErr: ErrBaoUnavailable},
		{name: "server error", status: http.StatusInternalServerError, body: map[string]any{}, wantErr: ErrBaoUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Empty(t, r.Header.Get("X-Vault-Token"), "health is unauthenticated")
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()
			client, err := NewBaoClient(Config{BaoAddr: server.URL, BaoToken: "test-token", SkipTLSVerify: true})
			require.NoError(t, err)

			err = client.Health(context.Background())
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBaoClient_MalformedReply(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/keys/") {
			writeJSON(w, http.StatusOK, map[string]any{"warnings": []string{"no data here"}})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>proxy</html>"))
	}))
	defer server.Close()
	client, err := NewBaoClient(Config{BaoAddr: server.URL, BaoToken: "test-token", SkipTLSVerify: true})
	require.NoError(t, err)

	_, err = client.GetKey(context.Background(), "publisher")
	assert.ErrorIs(t, err, ErrBaoMalformed)

	_, err = client.Encrypt(context.Background(), "escrow", []byte("secret"))
	assert.ErrorIs(t, err, ErrBaoMalformed)
}

func TestBaoClient_CanceledContext(t *testing.T) {
	client, _ := setupTestBao(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetKey(ctx, "publisher")
	assert.ErrorIs(t, err, ErrBaoConnection)
	assert.ErrorIs(t, err, context.Canceled)
}
