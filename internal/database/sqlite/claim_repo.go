package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imyashkale/hera/internal/database"
	"github.com/imyashkale/hera/internal/models"
)

// ClaimRepo implements [repository.ClaimRepository] backed by SQLite.
type ClaimRepo struct {
	DB *sql.DB
}

const claimColumns = `id, organization_id, domain, subdomain, token, records, verification_status,
	ssl_status, certificate_id, deployment_id, created_at, updated_at, verified_at, expires_at`

func (r *ClaimRepo) Create(ctx context.Context, c *models.DomainClaim) error {
	records, err := marshalRecords(c.Records)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// a claim that expired, or lapsed while pending, frees the hostname
	_, err = tx.ExecContext(ctx,
		`DELETE FROM domain_claims
		 WHERE domain = ? AND subdomain = ?
		   AND (verification_status = ? OR (verification_status = ? AND expires_at <= ?))`,
		c.Domain, c.Subdomain, string(models.VerificationExpired),
		string(models.VerificationPending), formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("clear expired claim: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO domain_claims (`+claimColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.Domain, c.Subdomain, c.Token, records,
		string(c.VerificationStatus), string(c.SSLStatus), c.CertificateID, c.DeploymentID,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), nullTime(c.VerifiedAt), formatTime(c.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("claim for %q: %w", c.Hostname(), database.ErrAlreadyExists)
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return tx.Commit()
}

func (r *ClaimRepo) Get(ctx context.Context, id string) (*models.DomainClaim, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM domain_claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("claim %q: %w", id, database.ErrNotFound)
	}
	return c, err
}

func (r *ClaimRepo) FindByHostname(ctx context.Context, domain, subdomain string) (*models.DomainClaim, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM domain_claims WHERE domain = ? AND subdomain = ?`,
		domain, subdomain)
	c, err := scanClaim(row)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("claim for %q/%q: %w", domain, subdomain, database.ErrNotFound)
	}
	return c, err
}

func (r *ClaimRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*models.DomainClaim, error) {
	return r.query(ctx,
		`SELECT `+claimColumns+` FROM domain_claims WHERE organization_id = ? ORDER BY created_at, id`,
		organizationID)
}

func (r *ClaimRepo) ListByVerificationStatus(ctx context.Context, status models.VerificationStatus) ([]*models.DomainClaim, error) {
	return r.query(ctx,
		`SELECT `+claimColumns+` FROM domain_claims WHERE verification_status = ? ORDER BY created_at, id`,
		string(status))
}

func (r *ClaimRepo) query(ctx context.Context, q string, args ...any) ([]*models.DomainClaim, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	claims := []*models.DomainClaim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *ClaimRepo) AttachDeployment(ctx context.Context, id, deploymentID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE domain_claims SET deployment_id = ?, updated_at = ? WHERE id = ?`,
		deploymentID, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("attach deployment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("claim %q: %w", id, database.ErrNotFound)
	}
	return nil
}

func (r *ClaimRepo) MarkVerified(ctx context.Context, id string, records []models.DNSRecord, at time.Time) (bool, error) {
	encoded, err := marshalRecords(records)
	if err != nil {
		return false, err
	}
	return r.transition(ctx, id,
		`UPDATE domain_claims
		 SET verification_status = ?, ssl_status = ?, records = ?, verified_at = ?, updated_at = ?
		 WHERE id = ? AND verification_status = ?`,
		string(models.VerificationVerified), string(models.SSLPending), encoded,
		formatTime(at), formatTime(at), id, string(models.VerificationPending))
}

func (r *ClaimRepo) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.transition(ctx, id,
		`UPDATE domain_claims SET verification_status = ?, updated_at = ?
		 WHERE id = ? AND verification_status = ?`,
		string(models.VerificationExpired), formatTime(at), id, string(models.VerificationPending))
}

func (r *ClaimRepo) SetCertificate(ctx context.Context, id, certificateID string, at time.Time) (bool, error) {
	return r.transition(ctx, id,
		`UPDATE domain_claims SET certificate_id = ?, updated_at = ?
		 WHERE id = ? AND ssl_status = ?`,
		certificateID, formatTime(at), id, string(models.SSLPending))
}

func (r *ClaimRepo) AdvanceSSL(ctx context.Context, id string, to models.SSLStatus, at time.Time) (bool, error) {
	if to != models.SSLActive && to != models.SSLFailed {
		return false, fmt.Errorf("invalid ssl transition to %q", to)
	}
	return r.transition(ctx, id,
		`UPDATE domain_claims SET ssl_status = ?, updated_at = ?
		 WHERE id = ? AND ssl_status = ?`,
		string(to), formatTime(at), id, string(models.SSLPending))
}

// transition runs a conditional update. Zero affected rows means either the
// claim is gone (ErrNotFound) or no longer in the expected state (false).
func (r *ClaimRepo) transition(ctx context.Context, id, q string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update claim: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}

	var exists int
	err = r.DB.QueryRowContext(ctx, `SELECT 1 FROM domain_claims WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("claim %q: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("check claim: %w", err)
	}
	return false, nil
}

func (r *ClaimRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM domain_claims WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("claim %q: %w", id, database.ErrNotFound)
	}
	return nil
}

func marshalRecords(records []models.DNSRecord) (string, error) {
	if records == nil {
		records = []models.DNSRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	return string(b), nil
}

func scanClaim(s scanner) (*models.DomainClaim, error) {
	var (
		c                     models.DomainClaim
		records, vstatus, ssl string
		createdAt, updatedAt  string
		expiresAt             string
		verifiedAt            sql.NullString
	)
	err := s.Scan(&c.ID, &c.OrganizationID, &c.Domain, &c.Subdomain, &c.Token, &records, &vstatus,
		&ssl, &c.CertificateID, &c.DeploymentID, &createdAt, &updatedAt, &verifiedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	c.VerificationStatus = models.VerificationStatus(vstatus)
	c.SSLStatus = models.SSLStatus(ssl)

	if err := json.Unmarshal([]byte(records), &c.Records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if c.VerifiedAt, err = parseNullTime(verifiedAt); err != nil {
		return nil, fmt.Errorf("parse verified_at: %w", err)
	}
	return &c, nil
}
