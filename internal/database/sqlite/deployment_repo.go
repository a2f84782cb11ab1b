package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imyashkale/hera/internal/database"
	"github.com/imyashkale/hera/internal/models"
)

// DeploymentRepo implements [repository.DeploymentRepository] backed by SQLite.
type DeploymentRepo struct {
	DB *sql.DB
}

const deploymentColumns = `id, organization_id, name, status, config, url, region, claim_id,
	certificate_id, analytics_id, steps, logs, error, created_at, updated_at, deployed_at`

type deploymentJSON struct {
	config, steps, logs string
}

func marshalDeployment(d *models.Deployment) (deploymentJSON, error) {
	var out deploymentJSON
	cfg, err := json.Marshal(d.Config)
	if err != nil {
		return out, fmt.Errorf("marshal config: %w", err)
	}
	steps := d.Steps
	if steps == nil {
		steps = map[string]*models.StepStatus{}
	}
	st, err := json.Marshal(steps)
	if err != nil {
		return out, fmt.Errorf("marshal steps: %w", err)
	}
	logs := d.Logs
	if logs == nil {
		logs = []models.ProvisionLogEntry{}
	}
	lg, err := json.Marshal(logs)
	if err != nil {
		return out, fmt.Errorf("marshal logs: %w", err)
	}
	return deploymentJSON{config: string(cfg), steps: string(st), logs: string(lg)}, nil
}

func (r *DeploymentRepo) Create(ctx context.Context, d *models.Deployment) error {
	js, err := marshalDeployment(d)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrganizationID, d.Name, string(d.Status), js.config, d.URL, d.Region, d.ClaimID,
		d.CertificateID, d.AnalyticsID, js.steps, js.logs, d.Error,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt), nullTime(d.DeployedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepo) Get(ctx context.Context, id string) (*models.Deployment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("deployment %q: %w", id, database.ErrNotFound)
	}
	return d, err
}

func (r *DeploymentRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*models.Deployment, error) {
	return r.query(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE organization_id = ? ORDER BY created_at, id`,
		organizationID)
}

func (r *DeploymentRepo) ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error) {
	return r.query(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE status = ? ORDER BY created_at, id`,
		string(status))
}

func (r *DeploymentRepo) query(ctx context.Context, q string, args ...any) ([]*models.Deployment, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*models.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (r *DeploymentRepo) Update(ctx context.Context, d *models.Deployment) error {
	js, err := marshalDeployment(d)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE deployments
		 SET name = ?, status = ?, config = ?, url = ?, region = ?, claim_id = ?,
		     certificate_id = ?, analytics_id = ?, steps = ?, logs = ?, error = ?,
		     updated_at = ?, deployed_at = ?
		 WHERE id = ?`,
		d.Name, string(d.Status), js.config, d.URL, d.Region, d.ClaimID,
		d.CertificateID, d.AnalyticsID, js.steps, js.logs, d.Error,
		formatTime(d.UpdatedAt), nullTime(d.DeployedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", d.ID, database.ErrNotFound)
	}
	return nil
}

func (r *DeploymentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", id, database.ErrNotFound)
	}
	return nil
}

func scanDeployment(s scanner) (*models.Deployment, error) {
	var (
		d                        models.Deployment
		status, cfg, steps, logs string
		createdAt, updatedAt     string
		deployedAt               sql.NullString
	)
	err := s.Scan(&d.ID, &d.OrganizationID, &d.Name, &status, &cfg, &d.URL, &d.Region, &d.ClaimID,
		&d.CertificateID, &d.AnalyticsID, &steps, &logs, &d.Error, &createdAt, &updatedAt, &deployedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}
	d.Status = models.DeploymentStatus(status)

	if err := json.Unmarshal([]byte(cfg), &d.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &d.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &d.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if d.DeployedAt, err = parseNullTime(deployedAt); err != nil {
		return nil, fmt.Errorf("parse deployed_at: %w", err)
	}
	return &d, nil
}
