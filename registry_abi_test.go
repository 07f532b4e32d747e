package acksp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryABI_Methods(t *testing.T) {
	for _, name := range []string{MethodGetKeys, MethodGetKeyAtTime, MethodAddKey} {
		_, ok := registryABI.Methods[name]
		assert.True(t, ok, name)
	}
	assert.True(t, registryABI.Methods[MethodGetKeys].IsConstant())
	assert.False(t, registryABI.Methods[MethodAddKey].IsConstant())
}

func TestDecodeRecords(t *testing.T) {
	enc := NewPassphraseEncryptor("pw")
	escrowed, _ := escrowedRecord(t, enc, 10, 20)
	want := []KeyRecord{plainRecord(t, 0, 10), escrowed}

	data, err := encodeRecords(MethodGetKeyAtTime, want)
	require.NoError(t, err)

	got, err := decodeRecords(MethodGetKeyAtTime, data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, got[0].Escrowed())
	assert.True(t, got[1].Escrowed())
}

func TestDecodeRecords_Errors(t *testing.T) {
	_, err := decodeRecords("no_such_method", nil)
	assert.ErrorIs(t, err, ErrUnexpectedResult)

	_, err = decodeRecords(MethodGetKeys, []byte{0xde, 0xad})
	assert.ErrorIs(t, err, ErrUnexpectedResult)

	_, err = decodeRecords(MethodAddKey, nil)
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}
