package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

// DeploymentStore handles deployment persistence
type DeploymentStore struct {
	db *DB
}

// NewDeploymentStore creates a new deployment store
func NewDeploymentStore(db *DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

// DeploymentFilter narrows List results
type DeploymentFilter struct {
	EndpointName string
	Statuses     []models.DeploymentStatus
	Limit        int
}

const deploymentColumns = `
	id, endpoint_name, model_name, inference_component_name, region, image, server,
	model_id, instance_type, instance_count, copies, status, error,
	env_json, created_at, in_service_at, deleted_at
`

// Create inserts a new deployment, assigning an ID and creation time if unset
func (s *DeploymentStore) Create(ctx context.Context, d *models.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.Status == "" {
		d.Status = models.StatusCreating
	}

	envJSON, err := json.Marshal(d.Env)
	if err != nil {
		return fmt.Errorf("failed to marshal environment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`) VALUES (
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?
		)
	`,
		d.ID, d.EndpointName, d.ModelName, nullString(d.InferenceComponentName), d.Region, d.Image, d.Server,
		d.ModelID, d.InstanceType, d.InstanceCount, d.Copies, d.Status, nullString(d.Error),
		string(envJSON), d.CreatedAt, nullTime(d.InServiceAt), nullTime(d.DeletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a deployment
func (s *DeploymentStore) Update(ctx context.Context, d *models.Deployment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET
			model_name = ?,
			inference_component_name = ?,
			status = ?,
			error = ?,
			in_service_at = ?,
			deleted_at = ?
		WHERE id = ?
	`,
		d.ModelName,
		nullString(d.InferenceComponentName),
		d.Status,
		nullString(d.Error),
		nullTime(d.InServiceAt),
		nullTime(d.DeletedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a deployment by ID
func (s *DeploymentStore) Get(ctx context.Context, id string) (*models.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return d, nil
}

// GetByEndpoint returns the most recent deployment of an endpoint name
func (s *DeploymentStore) GetByEndpoint(ctx context.Context, endpointName string) (*models.Deployment, error) {
	deployments, err := s.List(ctx, DeploymentFilter{EndpointName: endpointName, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, ErrNotFound
	}
	return deployments[0], nil
}

// List returns deployments matching the filter, newest first
func (s *DeploymentStore) List(ctx context.Context, filter DeploymentFilter) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE 1=1`
	var args []interface{}

	if filter.EndpointName != "" {
		query += " AND endpoint_name = ?"
		args = append(args, filter.EndpointName)
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}
	return deployments, nil
}

// ListActive returns deployments that may still be running
func (s *DeploymentStore) ListActive(ctx context.Context) ([]*models.Deployment, error) {
	return s.List(ctx, DeploymentFilter{
		Statuses: []models.DeploymentStatus{models.StatusCreating, models.StatusInService},
	})
}

// MarkDeleted records the deletion of every active deployment of an endpoint
func (s *DeploymentStore) MarkDeleted(ctx context.Context, endpointName string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, deleted_at = ?
		WHERE endpoint_name = ? AND status != ?
	`, models.StatusDeleted, at, endpointName, models.StatusDeleted)
	if err != nil {
		return 0, fmt.Errorf("failed to mark deployment deleted: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*models.Deployment, error) {
	d := &models.Deployment{}
	var icName, errorStr, envJSON sql.NullString
	var inServiceAt, deletedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.EndpointName, &d.ModelName, &icName, &d.Region, &d.Image, &d.Server,
		&d.ModelID, &d.InstanceType, &d.InstanceCount, &d.Copies, &d.Status, &errorStr,
		&envJSON, &d.CreatedAt, &inServiceAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	d.InferenceComponentName = icName.String
	d.Error = errorStr.String
	if inServiceAt.Valid {
		d.InServiceAt = inServiceAt.Time
	}
	if deletedAt.Valid {
		d.DeletedAt = deletedAt.Time
	}
	if envJSON.Valid && envJSON.String != "" && envJSON.String != "null" {
		if err := json.Unmarshal([]byte(envJSON.String), &d.Env); err != nil {
			return nil, fmt.Errorf("failed to decode environment: %w", err)
		}
	}
	return d, nil
}
