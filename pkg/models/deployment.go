package models

import "time"

// DeploymentStatus represents the lifecycle state of a recorded endpoint
type DeploymentStatus string

const (
	StatusCreating  DeploymentStatus = "creating"  // Create calls issued, waiting for InService
	StatusInService DeploymentStatus = "inservice" // Endpoint is serving traffic
	StatusFailed    DeploymentStatus = "failed"    // Creation or wait failed
	StatusDeleted   DeploymentStatus = "deleted"   // Endpoint and its resources were removed
)

// Deployment records one endpoint created by neuronctl
type Deployment struct {
	ID                     string           `json:"id"`
	EndpointName           string           `json:"endpoint_name"`
	ModelName              string           `json:"model_name"`
	InferenceComponentName string           `json:"inference_component_name,omitempty"`
	Region                 string           `json:"region"`
	Image                  string           `json:"image"`
	Server                 string           `json:"server"`
	ModelID                string           `json:"model_id"`
	InstanceType           string           `json:"instance_type"`
	InstanceCount          int              `json:"instance_count"`
	Copies                 int              `json:"copies,omitempty"`
	Status                 DeploymentStatus `json:"status"`
	Error                  string           `json:"error,omitempty"`

	// Container environment with secrets redacted
	Env map[string]string `json:"env,omitempty"`

	// Timestamps
	CreatedAt   time.Time `json:"created_at"`
	InServiceAt time.Time `json:"in_service_at,omitempty"`
	DeletedAt   time.Time `json:"deleted_at,omitempty"`
}

// IsActive reports whether the endpoint may still incur charges
func (d *Deployment) IsActive() bool {
	return d.Status == StatusCreating || d.Status == StatusInService
}
