/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetCertPool(t *testing.T) {
	t.Run("Empty pool", func(t *testing.T) {
		pool, err := GetCertPool(false, nil)
		require.NoError(t, err)
		require.NotNil(t, pool)
	})

	t.Run("System pool", func(t *testing.T) {
		pool, err := GetCertPool(true, nil)
		require.NoError(t, err)
		require.NotNil(t, pool)
	})

	t.Run("With CA cert", func(t *testing.T) {
		certPath := filepath.Join(t.TempDir(), "ca.pem")

		require.NoError(t, os.WriteFile(certPath, generateCACertPEM(t), 0o600))

		pool, err := GetCertPool(false, []string{certPath})
		require.NoError(t, err)
		require.NotNil(t, pool)
	})

	t.Run("Cert file not found -> error", func(t *testing.T) {
		pool, err := GetCertPool(false, []string{filepath.Join(t.TempDir(), "missing.pem")})
		require.Error(t, err)
		require.Contains(t, err.Error(), "read CA cert")
		require.Nil(t, pool)
	})

	t.Run("Invalid PEM -> error", func(t *testing.T) {
		certPath := filepath.Join(t.TempDir(), "invalid.pem")

		require.NoError(t, os.WriteFile(certPath, []byte("not a certificate"), 0o600))

		pool, err := GetCertPool(false, []string{certPath})
		require.Error(t, err)
		require.Contains(t, err.Error(), "no valid certificates found")
		require.Nil(t, pool)
	})
}

func generateCACertPEM(t *testing.T) []byte {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ca.orchard.example"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})
}
