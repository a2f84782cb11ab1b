package certificates

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/objectstore"
)

const selfSignedValidity = 90 * 24 * time.Hour

// SelfSignedProvider issues self-signed certificates for local development.
// Issuance completes before Issue returns.
type SelfSignedProvider struct {
	bundles bundleStore
	now     func() time.Time
}

// NewSelfSignedProvider creates a provider storing bundles in bucket
func NewSelfSignedProvider(store objectstore.Store, bucket string) *SelfSignedProvider {
	return &SelfSignedProvider{
		bundles: bundleStore{store: store, bucket: bucket},
		now:     time.Now,
	}
}

// Issue generates and stores a certificate for domain
func (p *SelfSignedProvider) Issue(ctx context.Context, domain string) (Handle, error) {
	handle := Handle(uuid.New().String())
	notBefore := p.now().UTC()
	notAfter := notBefore.Add(selfSignedValidity)

	certPEM, keyPEM, err := generateSelfSigned(domain, notBefore, notAfter)
	if err != nil {
		metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultError).Inc()
		return "", err
	}
	if err := p.bundles.saveBundle(ctx, handle, certPEM, keyPEM); err != nil {
		metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultError).Inc()
		return "", err
	}

	rec := Record{
		Handle:    handle,
		Domain:    domain,
		Status:    StatusActive,
		Issuer:    "self-signed",
		IssuedAt:  notBefore,
		ExpiresAt: notAfter,
	}
	if err := p.bundles.saveRecord(ctx, rec); err != nil {
		metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultError).Inc()
		return "", err
	}

	metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultOK).Inc()
	logger.WithFields(map[string]interface{}{
		"handle": string(handle),
		"domain": domain,
	}).Debug("Self-signed certificate issued")
	return handle, nil
}

// Status reads the persisted record for handle
func (p *SelfSignedProvider) Status(ctx context.Context, handle Handle) (Status, error) {
	rec, err := p.bundles.loadRecord(ctx, handle)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Revoke removes the stored bundle
func (p *SelfSignedProvider) Revoke(ctx context.Context, handle Handle) error {
	if _, err := p.bundles.loadRecord(ctx, handle); err != nil {
		return err
	}
	if err := p.bundles.remove(ctx, handle); err != nil {
		return err
	}
	metrics.CertificateOperations.WithLabelValues("revoke", metrics.ResultOK).Inc()
	return nil
}

func generateSelfSigned(domain string, notBefore, notAfter time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domain, Organization: []string{"Hera"}},
		DNSNames:              []string{domain},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
