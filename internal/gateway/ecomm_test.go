package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeTestKeyPair writes a self-signed certificate usable as both the
// client pair and the CA bundle.
func writeTestKeyPair(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "merchant"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	certFile = writeTempFile(t, "cert.pem", string(certPEM))
	keyFile = writeTempFile(t, "key.pem", string(keyPEM))
	caFile = writeTempFile(t, "ca.pem", string(certPEM))
	return certFile, keyFile, caFile
}

func TestEcommClient_ConfigPreflight(t *testing.T) {
	params := CreateOrderParams{
		LocalOrderID: "GP-TEST1",
		Amount:       decimal.NewFromInt(10),
		Currency:     "GEL",
	}

	t.Run("empty endpoint", func(t *testing.T) {
		client := NewEcommClient(EcommConfig{})
		_, err := client.CreateOrder(context.Background(), params)

		assert.True(t, IsConfig(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("placeholder endpoint rejected without network", func(t *testing.T) {
		client := NewEcommClient(EcommConfig{
			Endpoint: PlaceholderEndpoint,
			CertFile: "/tmp/cert.pem",
			KeyFile:  "/tmp/key.pem",
			CAFile:   "/tmp/ca.pem",
		})
		_, err := client.CreateOrder(context.Background(), params)

		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "placeholder")
	})

	t.Run("placeholder match ignores trailing slash and case", func(t *testing.T) {
		client := NewEcommClient(EcommConfig{
			Endpoint: PlaceholderEndpoint + "/",
			CertFile: "/tmp/cert.pem",
			KeyFile:  "/tmp/key.pem",
			CAFile:   "/tmp/ca.pem",
		})
		_, err := client.GetOrderDetails(context.Background(), "bank-1", "secret")

		assert.True(t, IsConfig(err))
	})

	t.Run("missing certificate file", func(t *testing.T) {
		client := NewEcommClient(EcommConfig{
			Endpoint: "https://ecomm.bank.test/handler",
			CertFile: "/nonexistent/cert.pem",
			KeyFile:  "/nonexistent/key.pem",
			CAFile:   "/nonexistent/ca.pem",
		})
		_, err := client.CreateOrder(context.Background(), params)

		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "not readable")
	})

	t.Run("unparseable certificate is a config error", func(t *testing.T) {
		cert := writeTempFile(t, "cert.pem", "not a certificate")
		key := writeTempFile(t, "key.pem", "not a key")
		ca := writeTempFile(t, "ca.pem", "not a ca")

		client := NewEcommClient(EcommConfig{
			Endpoint: "https://ecomm.bank.test/handler",
			CertFile: cert,
			KeyFile:  key,
			CAFile:   ca,
		})
		_, err := client.GetOrderDetails(context.Background(), "bank-1", "secret")

		assert.True(t, IsConfig(err))
		assert.False(t, IsRetryable(err))
	})
}

func TestEcommClient_ConcurrentUse(t *testing.T) {
	t.Run("concurrent queries share one TLS client", func(t *testing.T) {
		cert, key, ca := writeTestKeyPair(t)
		client := NewEcommClient(EcommConfig{
			Endpoint: "https://127.0.0.1:1/handler", // nothing listens here
			CertFile: cert,
			KeyFile:  key,
			CAFile:   ca,
			Timeout:  2 * time.Second,
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := client.GetOrderDetails(context.Background(), "bank-1", "secret")
				assert.True(t, IsRetryable(err))
			}()
		}
		wg.Wait()

		first, err := client.client()
		assert.NoError(t, err)
		again, err := client.client()
		assert.NoError(t, err)
		assert.Same(t, first, again)
	})
}
