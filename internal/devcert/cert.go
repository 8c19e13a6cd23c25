// Package devcert generates a self-signed TLS certificate for local/dev use,
// grounded in the teacher's tls.go (ECDSA P-256 leaf, SHA-256 fingerprint for
// operators to pin against). Unlike the teacher's single WS listener, this
// server terminates both a WebSocket and a WebTransport/QUIC listener on the
// same address: WebTransport clients frequently dial a raw IP in local dev
// rather than a hostname, so Generate also SANs the loopback IPs and accepts
// every distinct hostname either listener was configured with, rather than
// the teacher's single hostname parameter.
package devcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Generate creates a self-signed TLS certificate valid for validity,
// returning the tls.Config (with NextProtos covering both the WebSocket
// server's HTTP/1.1 and the WebTransport listener's h3 ALPN) and the
// certificate's SHA-256 fingerprint for operators to display. hostnames lists
// every hostname either listener advertises; entries that parse as an IP
// address are added as IP SANs instead of DNS SANs. Always includes
// "localhost" and the IPv4/IPv6 loopback addresses.
func Generate(validity time.Duration, hostnames ...string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("devcert: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("devcert: generate serial: %w", err)
	}

	cn := "vcsfu"
	dnsSANs := []string{"localhost"}
	ipSANs := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	cnSet := false
	for _, h := range hostnames {
		if h == "" || h == "localhost" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ipSANs = append(ipSANs, ip)
			continue
		}
		dnsSANs = append(dnsSANs, h)
		if !cnSet {
			cn = h
			cnSet = true
		}
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsSANs,
		IPAddresses:           ipSANs,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("devcert: create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("devcert: parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	fingerprint := hex.EncodeToString(fp[:])

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{"h3", "h2", "http/1.1"},
	}

	return tlsConfig, fingerprint, nil
}
