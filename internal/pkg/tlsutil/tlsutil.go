/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package tlsutil builds x509 certificate pools for outbound TLS connections.
package tlsutil

import (
	"crypto/x509"
	"fmt"
	"os"
	"path"
)

// GetCertPool returns a certificate pool containing the PEM-encoded certificates
// read from tlsCACerts. If useSystemCertPool is true then the system pool is
// used as the base, otherwise an empty pool is used.
func GetCertPool(useSystemCertPool bool, tlsCACerts []string) (*x509.CertPool, error) {
	certPool, err := newCertPool(useSystemCertPool)
	if err != nil {
		return nil, fmt.Errorf("create cert pool: %w", err)
	}

	for _, certPath := range tlsCACerts {
		pemBytes, err := os.ReadFile(path.Clean(certPath))
		if err != nil {
			return nil, fmt.Errorf("read CA cert [%s]: %w", certPath, err)
		}

		if !certPool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("no valid certificates found in %s", certPath)
		}
	}

	return certPool, nil
}

func newCertPool(useSystemCertPool bool) (*x509.CertPool, error) {
	if !useSystemCertPool {
		return x509.NewCertPool(), nil
	}

	return x509.SystemCertPool()
}
