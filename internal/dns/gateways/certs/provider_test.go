package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopLogger discards all log messages.
type noopLogger struct{}

func (n *noopLogger) Info(map[string]any, string)  {}
func (n *noopLogger) Error(map[string]any, string) {}
func (n *noopLogger) Debug(map[string]any, string) {}
func (n *noopLogger) Warn(map[string]any, string)  {}
func (n *noopLogger) Panic(map[string]any, string) {}
func (n *noopLogger) Fatal(map[string]any, string) {}

// writeSelfSigned writes a self-signed certificate pair into dir and returns
// the file paths.
func writeSelfSigned(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestFileProvider_LoadValidPair(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())
	p := NewFileProvider(&noopLogger{})

	cert, ok, err := p.Load(certPath, keyPath)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, cert.Certificate)
}

func TestFileProvider_MissingFilesAreNotAnError(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(&noopLogger{})

	_, ok, err := p.Load(filepath.Join(dir, "nope.pem"), filepath.Join(dir, "nope.key"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFileProvider_OneMissingFile(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := writeSelfSigned(t, dir)
	p := NewFileProvider(&noopLogger{})

	_, ok, err := p.Load(certPath, filepath.Join(dir, "absent.key"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFileProvider_EmptyPaths(t *testing.T) {
	p := NewFileProvider(&noopLogger{})

	_, ok, err := p.Load("", "")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFileProvider_GarbageMaterial(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, []byte("not a certificate"), 0o600))
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

	p := NewFileProvider(&noopLogger{})

	_, ok, err := p.Load(certPath, keyPath)
	assert.Error(t, err, "present but unparseable material is an error, not a skip")
	assert.False(t, ok)
}
