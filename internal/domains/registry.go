// Package domains owns the lifecycle of custom-domain claims: required DNS
// records, ownership verification, certificate issuance and expiry.
package domains

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/certificates"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/repository"
	"github.com/imyashkale/hera/internal/verification"
)

const (
	// VerificationRecordPrefix names the TXT record carrying the token
	VerificationRecordPrefix = "_hera-verification"
	recordTTL                = 300
	propagationEstimate      = "5-30 minutes"
)

// EventType identifies a claim lifecycle event
type EventType string

const (
	ClaimVerified EventType = "claim_verified"
	ClaimExpired  EventType = "claim_expired"
)

// Event is delivered to listeners after the transition is persisted
type Event struct {
	Type  EventType
	Claim *models.DomainClaim
}

// Listener receives claim events. It runs on the goroutine that made the
// transition and must not block for long.
type Listener func(ctx context.Context, event Event)

// SweepHook runs at the end of every sweep so owners of claims can catch up
// on transitions whose event they failed to act on. It returns how many
// items it moved on.
type SweepHook func(ctx context.Context) (int, error)

// Options configures a Registry
type Options struct {
	IngressIP        string
	IngressHostname  string
	ClaimTTL         time.Duration
	CertPollInterval time.Duration
	Now              func() time.Time
}

// Registry manages domain claims. It is safe for concurrent use.
type Registry struct {
	claims   repository.ClaimRepository
	verifier verification.Provider
	certs    certificates.Provider
	opts     Options

	mu        sync.Mutex
	tasks     map[string]*issuanceTask
	deleting  map[string]bool
	listeners []Listener
	hooks     []SweepHook
	wg        sync.WaitGroup
}

// NewRegistry creates a Registry
func NewRegistry(claims repository.ClaimRepository, verifier verification.Provider, certs certificates.Provider, opts Options) *Registry {
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 72 * time.Hour
	}
	if opts.CertPollInterval <= 0 {
		opts.CertPollInterval = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		claims:   claims,
		verifier: verifier,
		certs:    certs,
		opts:     opts,
		tasks:    make(map[string]*issuanceTask),
		deleting: make(map[string]bool),
	}
}

// Subscribe registers l for claim events
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// OnSweep registers h to run after each sweep pass
func (r *Registry) OnSweep(h SweepHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

func (r *Registry) emit(ctx context.Context, t EventType, claim *models.DomainClaim) {
	r.mu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l(ctx, Event{Type: t, Claim: claim.Clone()})
	}
}

func (r *Registry) now() time.Time {
	return r.opts.Now().UTC()
}

// Live reports whether claim still holds its hostname at now
func Live(claim *models.DomainClaim, now time.Time) bool {
	switch claim.VerificationStatus {
	case models.VerificationVerified:
		return true
	case models.VerificationPending:
		return now.Before(claim.ExpiresAt)
	default:
		return false
	}
}

// ValidateDomain normalizes and validates a (domain, subdomain) pair
func ValidateDomain(domain, subdomain string) (string, string, error) {
	const op = "domains.ValidateDomain"
	domain = NormalizeHostname(domain)
	subdomain = NormalizeHostname(subdomain)

	var details []string
	if err := ValidateHostname(domain); err != nil {
		details = append(details, err.Error())
	}
	if subdomain != "" {
		if err := ValidateLabel(subdomain); err != nil {
			details = append(details, "subdomain: "+err.Error())
		} else if len(subdomain)+1+len(domain) > MaxHostnameLength {
			details = append(details, fmt.Sprintf("hostname is longer than %d characters", MaxHostnameLength))
		}
	}
	if len(details) > 0 {
		return "", "", apperrors.Validation(op, "invalid custom domain", details...)
	}
	return domain, subdomain, nil
}

// AddDomain creates a pending claim for (domain, subdomain). The tuple is
// unique platform-wide; an expired claim on it is replaced.
func (r *Registry) AddDomain(ctx context.Context, orgID, domain, subdomain string) (*models.DomainClaim, error) {
	const op = "domains.AddDomain"
	if orgID == "" {
		return nil, apperrors.Validation(op, "organization id is required")
	}
	domain, subdomain, err := ValidateDomain(domain, subdomain)
	if err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}

	now := r.now()
	claim := &models.DomainClaim{
		ID:                 uuid.New().String(),
		OrganizationID:     orgID,
		Domain:             domain,
		Subdomain:          subdomain,
		Token:              token,
		VerificationStatus: models.VerificationPending,
		SSLStatus:          models.SSLNone,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(r.opts.ClaimTTL),
	}
	claim.Records = r.RequiredRecords(claim)

	if err := r.claims.Create(ctx, claim); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, apperrors.Conflict(op, fmt.Sprintf("domain %s is already claimed", claim.Hostname()))
		}
		return nil, apperrors.Provider(op, "failed to store domain claim", err)
	}

	logger.WithFields(map[string]interface{}{
		"claim_id":        claim.ID,
		"organization_id": orgID,
		"hostname":        claim.Hostname(),
		"expires_at":      claim.ExpiresAt,
	}).Info("Domain claim created")
	return claim.Clone(), nil
}

// newToken returns 32 hex characters from crypto/rand
func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RequiredRecords lists the records the tenant must publish. It is pure:
// the same claim always yields the same records, all pending.
func (r *Registry) RequiredRecords(claim *models.DomainClaim) []models.DNSRecord {
	host := models.ApexName
	if claim.Subdomain != "" {
		host = claim.Subdomain
	}
	records := []models.DNSRecord{
		{
			Type:     models.RecordTypeA,
			Name:     host,
			Value:    r.opts.IngressIP,
			TTL:      recordTTL,
			Required: true,
			Status:   models.RecordPending,
		},
		{
			Type:     models.RecordTypeTXT,
			Name:     VerificationRecordPrefix + "." + host,
			Value:    verification.TokenPrefix + claim.Token,
			TTL:      recordTTL,
			Required: true,
			Status:   models.RecordPending,
		},
	}
	if claim.Subdomain == "" {
		records = append(records, models.DNSRecord{
			Type:     models.RecordTypeCNAME,
			Name:     "www",
			Value:    r.opts.IngressHostname,
			TTL:      recordTTL,
			Required: false,
			Status:   models.RecordPending,
		})
	}
	return records
}

// GetClaim returns a claim by id
func (r *Registry) GetClaim(ctx context.Context, id string) (*models.DomainClaim, error) {
	const op = "domains.GetClaim"
	claim, err := r.claims.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(op, "domain claim", id)
	}
	if err != nil {
		return nil, apperrors.Provider(op, "failed to load domain claim", err)
	}
	return claim, nil
}

// FindByHostname returns the claim stored for (domain, subdomain), live or not
func (r *Registry) FindByHostname(ctx context.Context, domain, subdomain string) (*models.DomainClaim, error) {
	const op = "domains.FindByHostname"
	claim, err := r.claims.FindByHostname(ctx, NormalizeHostname(domain), NormalizeHostname(subdomain))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(op, "domain claim", models.DeploymentConfig{CustomDomain: domain, Subdomain: subdomain}.Hostname())
	}
	if err != nil {
		return nil, apperrors.Provider(op, "failed to load domain claim", err)
	}
	return claim, nil
}

// ListForOrganization returns the organization's claims, oldest first
func (r *Registry) ListForOrganization(ctx context.Context, orgID string) ([]*models.DomainClaim, error) {
	claims, err := r.claims.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, apperrors.Provider("domains.ListForOrganization", "failed to list domain claims", err)
	}
	return claims, nil
}

// AttachDeployment records deploymentID as the claim's owner
func (r *Registry) AttachDeployment(ctx context.Context, claimID, deploymentID string) error {
	const op = "domains.AttachDeployment"
	err := r.claims.AttachDeployment(ctx, claimID, deploymentID, r.now())
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(op, "domain claim", claimID)
	}
	if err != nil {
		return apperrors.Provider(op, "failed to attach deployment", err)
	}
	return nil
}

// Verify checks every record of the claim. Only the first successful call
// changes state: it marks the claim verified and starts certificate
// issuance. Records that are not published yet are not an error.
func (r *Registry) Verify(ctx context.Context, claimID string) (*models.VerificationResult, error) {
	const op = "domains.Verify"
	claim, err := r.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	log := logger.ForClaim(claimID).WithField("hostname", claim.Hostname())

	switch claim.VerificationStatus {
	case models.VerificationVerified:
		return &models.VerificationResult{Verified: true, Records: claim.Records}, nil
	case models.VerificationExpired, models.VerificationFailed:
		return closedResult(claim), nil
	}

	now := r.now()
	if !now.Before(claim.ExpiresAt) {
		if _, err := r.expire(ctx, claim); err != nil {
			return nil, err
		}
		claim.VerificationStatus = models.VerificationExpired
		return closedResult(claim), nil
	}

	records := r.RequiredRecords(claim)
	verified := true
	var nextSteps []string
	for i := range records {
		rec := &records[i]
		ok, err := r.verifier.CheckRecord(ctx, claim.Domain, *rec)
		if err != nil {
			metrics.DomainVerifications.WithLabelValues(metrics.ResultError).Inc()
			log.WithField("error", err.Error()).Warn("Verification provider failed")
			return nil, apperrors.Provider(op, "verification provider unavailable", err)
		}
		if ok {
			rec.Status = models.RecordActive
			continue
		}
		if rec.Required {
			verified = false
			nextSteps = append(nextSteps, r.instruction(ctx, claim, *rec))
		}
	}

	if !verified {
		metrics.DomainVerifications.WithLabelValues(metrics.ResultPending).Inc()
		nextSteps = append(nextSteps, "DNS not yet propagated, retry in "+propagationEstimate)
		log.WithField("missing", len(nextSteps)-1).Debug("Domain not verified yet")
		return &models.VerificationResult{
			Verified:      false,
			NextSteps:     nextSteps,
			EstimatedTime: propagationEstimate,
			Records:       records,
		}, nil
	}

	won, err := r.claims.MarkVerified(ctx, claim.ID, records, now)
	if err != nil {
		return nil, apperrors.Provider(op, "failed to store verification", err)
	}
	if !won {
		// a concurrent call won the transition, or the claim expired meanwhile
		current, err := r.GetClaim(ctx, claim.ID)
		if err != nil {
			return nil, err
		}
		if current.VerificationStatus == models.VerificationVerified {
			return &models.VerificationResult{Verified: true, Records: current.Records}, nil
		}
		return closedResult(current), nil
	}

	metrics.DomainVerifications.WithLabelValues(metrics.ResultOK).Inc()
	claim.VerificationStatus = models.VerificationVerified
	claim.SSLStatus = models.SSLPending
	claim.Records = records
	claim.VerifiedAt = &now
	log.Info("Domain verified")

	r.startIssuance(claim)
	r.emit(ctx, ClaimVerified, claim)

	return &models.VerificationResult{Verified: true, Records: records}, nil
}

func (r *Registry) instruction(ctx context.Context, claim *models.DomainClaim, rec models.DNSRecord) string {
	fqdn := rec.FQDN(claim.Domain)
	if rec.Type != models.RecordTypeTXT {
		return fmt.Sprintf("Add a %s record for %s with value %s", rec.Type, fqdn, rec.Value)
	}
	found, err := r.verifier.LookupTXT(ctx, rec.Name, claim.Domain)
	if err == nil && found != "" && found != rec.Value {
		return fmt.Sprintf("TXT record %s has value %q, expected %q", fqdn, found, rec.Value)
	}
	return fmt.Sprintf("Add a TXT record for %s with value %s", fqdn, rec.Value)
}

func closedResult(claim *models.DomainClaim) *models.VerificationResult {
	return &models.VerificationResult{
		Verified:  false,
		NextSteps: []string{fmt.Sprintf("The claim for %s is %s; add the domain again to restart verification", claim.Hostname(), claim.VerificationStatus)},
		Records:   claim.Records,
	}
}

// expire marks a pending claim expired and notifies listeners
func (r *Registry) expire(ctx context.Context, claim *models.DomainClaim) (bool, error) {
	ok, err := r.claims.MarkExpired(ctx, claim.ID, r.now())
	if err != nil {
		return false, apperrors.Provider("domains.expire", "failed to expire claim", err)
	}
	if !ok {
		return false, nil
	}
	logger.ForClaim(claim.ID).WithField("hostname", claim.Hostname()).Info("Domain claim expired")
	expired := claim.Clone()
	expired.VerificationStatus = models.VerificationExpired
	r.emit(ctx, ClaimExpired, expired)
	return true, nil
}

// DeleteClaim stops any certificate issuance for the claim, revokes the
// certificate (once) and removes the record.
func (r *Registry) DeleteClaim(ctx context.Context, id string) error {
	const op = "domains.DeleteClaim"
	claim, err := r.GetClaim(ctx, id)
	if err != nil {
		return err
	}
	log := logger.ForClaim(id).WithField("hostname", claim.Hostname())

	r.mu.Lock()
	r.deleting[id] = true
	task := r.tasks[id]
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.deleting, id)
		r.mu.Unlock()
	}()

	// no new task can start now; an issuance that finished after the first
	// read has stored its handle
	if task == nil {
		if claim, err = r.GetClaim(ctx, id); err != nil {
			return err
		}
	}

	handle := certificates.Handle(claim.CertificateID)
	if task != nil {
		task.cancel()
		select {
		case <-task.done:
		case <-ctx.Done():
			return apperrors.Cancelled(op, "gave up waiting for certificate issuance to stop")
		}
		if task.handle != "" {
			handle = task.handle
		} else if task.revoked {
			handle = ""
		}
	}

	if handle != "" {
		err := r.certs.Revoke(ctx, handle)
		switch {
		case err == nil:
			metrics.CertificateOperations.WithLabelValues("revoke", metrics.ResultOK).Inc()
			log.WithField("certificate_id", handle).Info("Certificate revoked")
		case errors.Is(err, certificates.ErrUnknownHandle):
			log.WithField("certificate_id", handle).Debug("Certificate already gone")
		default:
			metrics.CertificateOperations.WithLabelValues("revoke", metrics.ResultError).Inc()
			return apperrors.Provider(op, "failed to revoke certificate", err)
		}
	}

	if err := r.claims.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperrors.Provider(op, "failed to delete domain claim", err)
	}
	log.Info("Domain claim deleted")
	return nil
}

// Close cancels every running issuance task and waits for them
func (r *Registry) Close() {
	r.mu.Lock()
	for _, t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
