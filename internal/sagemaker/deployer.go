package sagemaker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/iam"
	sm "github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/google/uuid"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/deploy"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
)

// Resource status values reported by DescribeEndpoint / DescribeInferenceComponent
const (
	StatusInService = "InService"
	StatusFailed    = "Failed"
)

// DefaultVariantName is the production variant created for every endpoint
const DefaultVariantName = "AllTraffic"

// SageMakerAPI is the subset of the SageMaker control plane client in use.
// *sagemaker.SageMaker satisfies it.
type SageMakerAPI interface {
	CreateModelWithContext(ctx aws.Context, input *sm.CreateModelInput, opts ...request.Option) (*sm.CreateModelOutput, error)
	CreateEndpointConfigWithContext(ctx aws.Context, input *sm.CreateEndpointConfigInput, opts ...request.Option) (*sm.CreateEndpointConfigOutput, error)
	DescribeEndpointConfigWithContext(ctx aws.Context, input *sm.DescribeEndpointConfigInput, opts ...request.Option) (*sm.DescribeEndpointConfigOutput, error)
	CreateEndpointWithContext(ctx aws.Context, input *sm.CreateEndpointInput, opts ...request.Option) (*sm.CreateEndpointOutput, error)
	DescribeEndpointWithContext(ctx aws.Context, input *sm.DescribeEndpointInput, opts ...request.Option) (*sm.DescribeEndpointOutput, error)
	CreateInferenceComponentWithContext(ctx aws.Context, input *sm.CreateInferenceComponentInput, opts ...request.Option) (*sm.CreateInferenceComponentOutput, error)
	DescribeInferenceComponentWithContext(ctx aws.Context, input *sm.DescribeInferenceComponentInput, opts ...request.Option) (*sm.DescribeInferenceComponentOutput, error)
	ListInferenceComponentsWithContext(ctx aws.Context, input *sm.ListInferenceComponentsInput, opts ...request.Option) (*sm.ListInferenceComponentsOutput, error)
	DeleteInferenceComponentWithContext(ctx aws.Context, input *sm.DeleteInferenceComponentInput, opts ...request.Option) (*sm.DeleteInferenceComponentOutput, error)
	DeleteEndpointWithContext(ctx aws.Context, input *sm.DeleteEndpointInput, opts ...request.Option) (*sm.DeleteEndpointOutput, error)
	DeleteEndpointConfigWithContext(ctx aws.Context, input *sm.DeleteEndpointConfigInput, opts ...request.Option) (*sm.DeleteEndpointConfigOutput, error)
	DeleteModelWithContext(ctx aws.Context, input *sm.DeleteModelInput, opts ...request.Option) (*sm.DeleteModelOutput, error)
}

// IAMAPI is the subset of the IAM client in use
type IAMAPI interface {
	GetRoleWithContext(ctx aws.Context, input *iam.GetRoleInput, opts ...request.Option) (*iam.GetRoleOutput, error)
}

// Resources requests per-copy compute for an inference component endpoint.
// A nil *Resources deploys a classic single-model endpoint.
type Resources struct {
	Copies              int
	AcceleratorsPerCopy int
	CPUsPerCopy         int
	MemoryMBPerCopy     int
}

// DeployRequest describes one endpoint deployment
type DeployRequest struct {
	Image              string
	Env                map[string]string
	RoleARN            string
	InstanceType       string
	InstanceCount      int
	VolumeSizeGB       int
	HealthCheckTimeout time.Duration

	// InferenceAmiVersion selects the host image, for example
	// al2-ami-sagemaker-inference-neuron-2; empty uses the SageMaker default
	InferenceAmiVersion string

	// Optional names; generated from the image name when empty
	ModelName    string
	EndpointName string

	Resources *Resources
}

// Deployment is the result of a successful Deploy
type Deployment struct {
	ModelName              string
	EndpointConfigName     string
	EndpointName           string
	InferenceComponentName string
	Elapsed                time.Duration
}

// Deployer creates models and endpoints
type Deployer struct {
	sm     SageMakerAPI
	iam    IAMAPI
	logger *slog.Logger

	pollInterval    time.Duration
	maxPollInterval time.Duration
	waitTimeout     time.Duration
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
	onCreated       func(ctx context.Context, dep Deployment)
}

// DeployerOption configures the deployer
type DeployerOption func(*Deployer)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) DeployerOption {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// WithPollInterval sets the initial and maximum status poll intervals
func WithPollInterval(initial, max time.Duration) DeployerOption {
	return func(d *Deployer) {
		d.pollInterval = initial
		d.maxPollInterval = max
	}
}

// WithWaitTimeout bounds how long Deploy waits for InService
func WithWaitTimeout(timeout time.Duration) DeployerOption {
	return func(d *Deployer) {
		d.waitTimeout = timeout
	}
}

// WithClock sets the time source used for generated names (for testing)
func WithClock(now func() time.Time) DeployerOption {
	return func(d *Deployer) {
		d.now = now
	}
}

// WithEndpointCreated registers fn to run once CreateEndpoint succeeds,
// before Deploy starts waiting for InService
func WithEndpointCreated(fn func(ctx context.Context, dep Deployment)) DeployerOption {
	return func(d *Deployer) {
		d.onCreated = fn
	}
}

// NewDeployer creates a deployer
func NewDeployer(smAPI SageMakerAPI, iamAPI IAMAPI, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		sm:              smAPI,
		iam:             iamAPI,
		logger:          slog.Default(),
		pollInterval:    DefaultPollInterval,
		maxPollInterval: DefaultMaxPollInterval,
		waitTimeout:     DefaultWaitTimeout,
		now:             time.Now,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RoleARN resolves an IAM role name to its ARN
func (d *Deployer) RoleARN(ctx context.Context, roleName string) (string, error) {
	out, err := d.iam.GetRoleWithContext(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return "", wrapError("", "GetRole", err)
	}
	if out.Role == nil || aws.StringValue(out.Role.Arn) == "" {
		return "", fmt.Errorf("role %s has no ARN", roleName)
	}
	return aws.StringValue(out.Role.Arn), nil
}

// Deploy creates the model, endpoint configuration and endpoint, then waits
// until the endpoint (and inference component, if any) is InService.
func (d *Deployer) Deploy(ctx context.Context, req DeployRequest) (*Deployment, error) {
	start := d.now()
	dep, err := d.deploy(ctx, req)
	elapsed := d.now().Sub(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDeploy(req.InstanceType, status, elapsed)

	if err != nil {
		return dep, err
	}
	dep.Elapsed = elapsed
	return dep, nil
}

func (d *Deployer) deploy(ctx context.Context, req DeployRequest) (*Deployment, error) {
	if req.InstanceCount < 1 {
		req.InstanceCount = 1
	}

	base := deploy.ImageBaseName(req.Image)
	dep := &Deployment{
		ModelName:    req.ModelName,
		EndpointName: req.EndpointName,
	}
	if dep.ModelName == "" {
		dep.ModelName = deploy.NameFromBase(base, d.now())
	}
	if dep.EndpointName == "" {
		dep.EndpointName = deploy.NameWithSuffix(base, uuid.New().String()[:8])
	}
	dep.EndpointConfigName = dep.EndpointName

	ctx = logging.WithEndpoint(ctx, dep.EndpointName)

	if _, err := d.sm.CreateModelWithContext(ctx, &sm.CreateModelInput{
		ModelName:        aws.String(dep.ModelName),
		ExecutionRoleArn: aws.String(req.RoleARN),
		PrimaryContainer: &sm.ContainerDefinition{
			Image:       aws.String(req.Image),
			Environment: aws.StringMap(req.Env),
		},
	}); err != nil {
		return dep, d.fail("CreateModel", dep.EndpointName, err)
	}
	logging.Audit(ctx, "create_model", slog.String("model", dep.ModelName), slog.String("image", req.Image))

	variant := &sm.ProductionVariant{
		VariantName:          aws.String(DefaultVariantName),
		InitialInstanceCount: aws.Int64(int64(req.InstanceCount)),
		InstanceType:         aws.String(req.InstanceType),
	}
	if req.VolumeSizeGB > 0 {
		variant.VolumeSizeInGB = aws.Int64(int64(req.VolumeSizeGB))
	}
	if req.HealthCheckTimeout > 0 {
		variant.ContainerStartupHealthCheckTimeoutInSeconds = aws.Int64(int64(req.HealthCheckTimeout / time.Second))
	}
	if req.InferenceAmiVersion != "" {
		variant.InferenceAmiVersion = aws.String(req.InferenceAmiVersion)
	}

	configInput := &sm.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(dep.EndpointConfigName),
		ProductionVariants: []*sm.ProductionVariant{variant},
	}
	if req.Resources != nil {
		// Inference component endpoints host models through components, not the variant
		configInput.ExecutionRoleArn = aws.String(req.RoleARN)
		variant.ContainerStartupHealthCheckTimeoutInSeconds = nil
	} else {
		variant.ModelName = aws.String(dep.ModelName)
	}

	if _, err := d.sm.CreateEndpointConfigWithContext(ctx, configInput); err != nil {
		return dep, d.fail("CreateEndpointConfig", dep.EndpointName, err)
	}

	if _, err := d.sm.CreateEndpointWithContext(ctx, &sm.CreateEndpointInput{
		EndpointName:       aws.String(dep.EndpointName),
		EndpointConfigName: aws.String(dep.EndpointConfigName),
	}); err != nil {
		return dep, d.fail("CreateEndpoint", dep.EndpointName, err)
	}
	logging.Audit(ctx, "create_endpoint",
		slog.String("endpoint", dep.EndpointName),
		slog.String("instance_type", req.InstanceType),
		slog.Int("instance_count", req.InstanceCount))

	if d.onCreated != nil {
		d.onCreated(ctx, *dep)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.waitTimeout)
	defer cancel()

	if err := d.waitFor(waitCtx, "endpoint "+dep.EndpointName, d.endpointStatus(dep.EndpointName)); err != nil {
		return dep, err
	}

	if req.Resources == nil {
		return dep, nil
	}

	dep.InferenceComponentName = deploy.NameWithSuffix(dep.ModelName, "ic")
	spec := &sm.InferenceComponentSpecification{
		ModelName: aws.String(dep.ModelName),
		ComputeResourceRequirements: &sm.InferenceComponentComputeResourceRequirements{
			MinMemoryRequiredInMb: aws.Int64(int64(req.Resources.MemoryMBPerCopy)),
		},
	}
	if req.Resources.AcceleratorsPerCopy > 0 {
		spec.ComputeResourceRequirements.NumberOfAcceleratorDevicesRequired = aws.Float64(float64(req.Resources.AcceleratorsPerCopy))
	}
	if req.Resources.CPUsPerCopy > 0 {
		spec.ComputeResourceRequirements.NumberOfCpuCoresRequired = aws.Float64(float64(req.Resources.CPUsPerCopy))
	}
	if req.HealthCheckTimeout > 0 {
		spec.StartupParameters = &sm.InferenceComponentStartupParameters{
			ContainerStartupHealthCheckTimeoutInSeconds: aws.Int64(int64(req.HealthCheckTimeout / time.Second)),
		}
	}

	copies := req.Resources.Copies
	if copies < 1 {
		copies = 1
	}
	if _, err := d.sm.CreateInferenceComponentWithContext(ctx, &sm.CreateInferenceComponentInput{
		InferenceComponentName: aws.String(dep.InferenceComponentName),
		EndpointName:           aws.String(dep.EndpointName),
		VariantName:            aws.String(DefaultVariantName),
		Specification:          spec,
		RuntimeConfig:          &sm.InferenceComponentRuntimeConfig{CopyCount: aws.Int64(int64(copies))},
	}); err != nil {
		return dep, d.fail("CreateInferenceComponent", dep.EndpointName, err)
	}
	logging.Audit(ctx, "create_inference_component",
		slog.String("inference_component", dep.InferenceComponentName),
		slog.Int("copies", copies))

	if err := d.waitFor(waitCtx, "inference component "+dep.InferenceComponentName, d.componentStatus(dep.InferenceComponentName)); err != nil {
		return dep, err
	}
	return dep, nil
}

// statusFunc reports a resource status and its failure reason
type statusFunc func(ctx context.Context) (status, reason string, err error)

func (d *Deployer) endpointStatus(name string) statusFunc {
	return func(ctx context.Context) (string, string, error) {
		out, err := d.sm.DescribeEndpointWithContext(ctx, &sm.DescribeEndpointInput{EndpointName: aws.String(name)})
		if err != nil {
			return "", "", wrapError(name, "DescribeEndpoint", err)
		}
		return aws.StringValue(out.EndpointStatus), aws.StringValue(out.FailureReason), nil
	}
}

// EndpointStatus returns the endpoint status and, for failed endpoints, the
// failure reason. A missing endpoint is reported as an error matching IsNotFound.
func (d *Deployer) EndpointStatus(ctx context.Context, name string) (status, reason string, err error) {
	return d.endpointStatus(name)(ctx)
}

func (d *Deployer) componentStatus(name string) statusFunc {
	return func(ctx context.Context) (string, string, error) {
		out, err := d.sm.DescribeInferenceComponentWithContext(ctx, &sm.DescribeInferenceComponentInput{InferenceComponentName: aws.String(name)})
		if err != nil {
			return "", "", wrapError(name, "DescribeInferenceComponent", err)
		}
		return aws.StringValue(out.InferenceComponentStatus), aws.StringValue(out.FailureReason), nil
	}
}

func (d *Deployer) waitFor(ctx context.Context, what string, check statusFunc) error {
	backoff := NewProgressiveBackoff(d.pollInterval, d.maxPollInterval, DefaultBackoffMultiplier)
	last := ""
	for {
		status, reason, err := check(ctx)
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("%w: %s last status %q: %w", ErrWaitTimeout, what, last, ctx.Err())
		}
		if err != nil && !IsRetryable(err) {
			return err
		}
		if err == nil {
			if status != last {
				logging.Info(ctx, "deployment status", slog.String("resource", what), slog.String("status", status))
				last = status
			}
			switch status {
			case StatusInService:
				return nil
			case StatusFailed:
				return fmt.Errorf("%w: %s: %s", ErrDeployFailed, what, reason)
			}
		}

		if err := d.sleep(ctx, backoff.Next()); err != nil {
			return fmt.Errorf("%w: %s last status %q: %w", ErrWaitTimeout, what, last, err)
		}
	}
}

func (d *Deployer) fail(operation, endpoint string, err error) error {
	metrics.RecordSageMakerError(operation, errorCode(err))
	return wrapError(endpoint, operation, err)
}

// Delete removes an endpoint, its inference components, its endpoint
// configuration and the models they reference. Missing resources are
// ignored so a partially failed deployment can be cleaned up.
func (d *Deployer) Delete(ctx context.Context, endpointName string) error {
	ctx = logging.WithEndpoint(ctx, endpointName)

	desc, err := d.sm.DescribeEndpointWithContext(ctx, &sm.DescribeEndpointInput{EndpointName: aws.String(endpointName)})
	if err != nil && !IsNotFound(err) {
		return wrapError(endpointName, "DescribeEndpoint", err)
	}
	configName := endpointName
	if desc != nil && desc.EndpointConfigName != nil {
		configName = aws.StringValue(desc.EndpointConfigName)
	}

	models := map[string]bool{}

	components, err := d.sm.ListInferenceComponentsWithContext(ctx, &sm.ListInferenceComponentsInput{
		EndpointNameEquals: aws.String(endpointName),
	})
	if err != nil && !IsNotFound(err) {
		return wrapError(endpointName, "ListInferenceComponents", err)
	}
	if components != nil {
		for _, ic := range components.InferenceComponents {
			name := aws.StringValue(ic.InferenceComponentName)
			icDesc, err := d.sm.DescribeInferenceComponentWithContext(ctx, &sm.DescribeInferenceComponentInput{InferenceComponentName: aws.String(name)})
			if err == nil && icDesc.Specification != nil && icDesc.Specification.ModelName != nil {
				models[aws.StringValue(icDesc.Specification.ModelName)] = true
			}
			if _, err := d.sm.DeleteInferenceComponentWithContext(ctx, &sm.DeleteInferenceComponentInput{InferenceComponentName: aws.String(name)}); err != nil && !IsNotFound(err) {
				return wrapError(endpointName, "DeleteInferenceComponent", err)
			}
			logging.Audit(ctx, "delete_inference_component", slog.String("inference_component", name))
		}
	}

	if desc != nil {
		if _, err := d.sm.DeleteEndpointWithContext(ctx, &sm.DeleteEndpointInput{EndpointName: aws.String(endpointName)}); err != nil && !IsNotFound(err) {
			return wrapError(endpointName, "DeleteEndpoint", err)
		}
		logging.Audit(ctx, "delete_endpoint")
	}

	for _, v := range d.variantModels(ctx, configName) {
		models[v] = true
	}
	if _, err := d.sm.DeleteEndpointConfigWithContext(ctx, &sm.DeleteEndpointConfigInput{EndpointConfigName: aws.String(configName)}); err != nil && !IsNotFound(err) {
		return wrapError(endpointName, "DeleteEndpointConfig", err)
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := d.sm.DeleteModelWithContext(ctx, &sm.DeleteModelInput{ModelName: aws.String(name)}); err != nil && !IsNotFound(err) {
			return wrapError(endpointName, "DeleteModel", err)
		}
		logging.Audit(ctx, "delete_model", slog.String("model", name))
	}
	return nil
}

// variantModels lists models referenced by the config's production variants.
// Classic endpoints name their model on the variant.
func (d *Deployer) variantModels(ctx context.Context, configName string) []string {
	out, err := d.sm.DescribeEndpointConfigWithContext(ctx, &sm.DescribeEndpointConfigInput{EndpointConfigName: aws.String(configName)})
	if err != nil {
		return nil
	}
	var names []string
	for _, v := range out.ProductionVariants {
		if v.ModelName != nil {
			names = append(names, aws.StringValue(v.ModelName))
		}
	}
	return names
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
