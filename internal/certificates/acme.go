package certificates

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/google/uuid"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/objectstore"
)

// ACMEUser implements registration.User
type ACMEUser struct {
	Email        string
	Registration *registration.Resource
	Key          crypto.PrivateKey
}

// GetEmail implements registration.User
func (u *ACMEUser) GetEmail() string {
	return u.Email
}

// GetRegistration implements registration.User
func (u *ACMEUser) GetRegistration() *registration.Resource {
	return u.Registration
}

// GetPrivateKey implements registration.User
func (u *ACMEUser) GetPrivateKey() crypto.PrivateKey {
	return u.Key
}

// ACMEConfig configures the ACME account and HTTP-01 solver
type ACMEConfig struct {
	Email        string
	DirectoryURL string
	HTTPPort     string
}

// certifier is the part of lego's certificate.Certifier the provider uses
type certifier interface {
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
	Revoke(cert []byte) error
}

// ACMEProvider obtains certificates from an ACME directory using HTTP-01
// challenges. The ingress must route /.well-known/acme-challenge/ for tenant
// hostnames to HTTPPort.
type ACMEProvider struct {
	certifier certifier
	bundles   bundleStore

	// one HTTP-01 listener, so orders are solved one at a time
	obtainMu sync.Mutex

	mu       sync.Mutex
	inflight map[Handle]context.CancelFunc
}

// NewACMEProvider registers an ACME account and returns a ready provider
func NewACMEProvider(cfg ACMEConfig, store objectstore.Store, bucket string) (*ACMEProvider, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}

	user := &ACMEUser{Email: cfg.Email, Key: privateKey}

	legoConfig := lego.NewConfig(user)
	legoConfig.CADirURL = cfg.DirectoryURL
	if legoConfig.CADirURL == "" {
		legoConfig.CADirURL = lego.LEDirectoryStaging
	}
	legoConfig.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}

	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", cfg.HTTPPort)); err != nil {
		return nil, fmt.Errorf("failed to set HTTP-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("failed to register ACME account: %w", err)
	}
	user.Registration = reg

	logger.WithFields(map[string]interface{}{
		"directory": legoConfig.CADirURL,
		"email":     cfg.Email,
	}).Info("ACME account registered")

	return newACMEProvider(client.Certificate, store, bucket), nil
}

func newACMEProvider(c certifier, store objectstore.Store, bucket string) *ACMEProvider {
	return &ACMEProvider{
		certifier: c,
		bundles:   bundleStore{store: store, bucket: bucket},
		inflight:  make(map[Handle]context.CancelFunc),
	}
}

// Issue records a pending certificate and starts the ACME order in the background
func (p *ACMEProvider) Issue(ctx context.Context, domain string) (Handle, error) {
	handle := Handle(uuid.New().String())
	rec := Record{Handle: handle, Domain: domain, Status: StatusPending, Issuer: "acme"}
	if err := p.bundles.saveRecord(ctx, rec); err != nil {
		metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultError).Inc()
		return "", err
	}

	orderCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.inflight[handle] = cancel
	p.mu.Unlock()

	go p.obtain(orderCtx, rec)

	metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultOK).Inc()
	return handle, nil
}

func (p *ACMEProvider) obtain(ctx context.Context, rec Record) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, rec.Handle)
		p.mu.Unlock()
	}()

	p.obtainMu.Lock()
	defer p.obtainMu.Unlock()

	// revoked while queued behind another order
	if ctx.Err() != nil {
		return
	}

	log := logger.WithFields(map[string]interface{}{
		"handle": string(rec.Handle),
		"domain": rec.Domain,
	})
	log.Info("Obtaining ACME certificate")

	res, err := p.certifier.Obtain(certificate.ObtainRequest{
		Domains: []string{rec.Domain},
		Bundle:  true,
	})

	// Revoke cancels under mu, so nothing is committed after a revoke
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		log.Info("Certificate revoked while the order was in flight, discarding result")
		return
	}
	if err != nil {
		log.WithField("error", err.Error()).Error("ACME order failed")
		rec.Status = StatusFailed
		rec.Error = err.Error()
		if saveErr := p.bundles.saveRecord(ctx, rec); saveErr != nil {
			log.WithField("error", saveErr.Error()).Error("Failed to persist certificate failure")
		}
		return
	}

	if err := p.bundles.saveBundle(ctx, rec.Handle, res.Certificate, res.PrivateKey); err != nil {
		log.WithField("error", err.Error()).Error("Failed to persist certificate bundle")
		rec.Status = StatusFailed
		rec.Error = err.Error()
		_ = p.bundles.saveRecord(ctx, rec)
		return
	}

	rec.Status = StatusActive
	rec.IssuedAt = time.Now().UTC()
	if cert, err := certcrypto.ParsePEMCertificate(res.Certificate); err == nil {
		rec.IssuedAt = cert.NotBefore
		rec.ExpiresAt = cert.NotAfter
	}
	if err := p.bundles.saveRecord(ctx, rec); err != nil {
		log.WithField("error", err.Error()).Error("Failed to persist certificate record")
		return
	}
	log.WithField("expires_at", rec.ExpiresAt).Info("ACME certificate issued")
}

// Status reads the persisted record for handle
func (p *ACMEProvider) Status(ctx context.Context, handle Handle) (Status, error) {
	rec, err := p.bundles.loadRecord(ctx, handle)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Revoke cancels an in-flight order or revokes an issued certificate with
// the CA, then removes the stored bundle.
func (p *ACMEProvider) Revoke(ctx context.Context, handle Handle) error {
	p.mu.Lock()
	if cancel, ok := p.inflight[handle]; ok {
		cancel()
	}
	p.mu.Unlock()

	rec, err := p.bundles.loadRecord(ctx, handle)
	if err != nil {
		return err
	}

	if rec.Status == StatusActive {
		certPEM, err := p.bundles.loadCertificate(ctx, handle)
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return err
		}
		if err == nil {
			if err := p.certifier.Revoke(certPEM); err != nil {
				metrics.CertificateOperations.WithLabelValues("revoke", metrics.ResultError).Inc()
				return fmt.Errorf("failed to revoke certificate %s: %w", handle, err)
			}
		}
	}

	if err := p.bundles.remove(ctx, handle); err != nil {
		return err
	}
	metrics.CertificateOperations.WithLabelValues("revoke", metrics.ResultOK).Inc()
	logger.WithFields(map[string]interface{}{
		"handle": string(handle),
		"domain": rec.Domain,
	}).Info("Certificate revoked")
	return nil
}
