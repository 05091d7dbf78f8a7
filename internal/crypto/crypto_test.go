package crypto

import (
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestKeyFileRoundTrip(t *testing.T) {
	key, err := ParseKey("0x" + testKeyHex)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, WriteKeyFile(path, key, "hunter2"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(key), ethcrypto.FromECDSA(loaded))

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
}

func TestLoadKeyPrompt(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, WriteKeyFile(path, key, "pw"))

	asked := 0
	loaded, err := LoadKey(KeyConfig{
		EncryptedKeyPath: path,
		Prompt:           func() (string, error) { asked++; return "pw", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.Equal(t, key.D, loaded.D)
}

func TestLoadKeyNoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.Error(t, err)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "zz"})
	assert.Error(t, err)
}

func TestSignPersonalRecovers(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	s := NewSigner(key)

	msg := []byte("Place bet on market 7")
	sig, err := s.SignPersonal(msg)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	addr, err := RecoverPersonal(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverPersonal([]byte("something else"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}
