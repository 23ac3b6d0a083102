package cmd

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/iam"
	sm "github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/reconcile"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/sagemaker"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

// stubSageMaker implements the calls a single-model deploy makes. Calls
// outside that set hit the nil embedded interface and panic.
type stubSageMaker struct {
	sagemaker.SageMakerAPI

	mu       sync.Mutex
	status   string
	reason   string
	variants []*sm.ProductionVariant
}

func (s *stubSageMaker) setStatus(status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.reason = status, reason
}

func (s *stubSageMaker) CreateModelWithContext(ctx aws.Context, input *sm.CreateModelInput, opts ...request.Option) (*sm.CreateModelOutput, error) {
	return &sm.CreateModelOutput{ModelArn: aws.String("arn:model")}, nil
}

func (s *stubSageMaker) CreateEndpointConfigWithContext(ctx aws.Context, input *sm.CreateEndpointConfigInput, opts ...request.Option) (*sm.CreateEndpointConfigOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants = input.ProductionVariants
	return &sm.CreateEndpointConfigOutput{}, nil
}

func (s *stubSageMaker) CreateEndpointWithContext(ctx aws.Context, input *sm.CreateEndpointInput, opts ...request.Option) (*sm.CreateEndpointOutput, error) {
	return &sm.CreateEndpointOutput{}, nil
}

func (s *stubSageMaker) DescribeEndpointWithContext(ctx aws.Context, input *sm.DescribeEndpointInput, opts ...request.Option) (*sm.DescribeEndpointOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &sm.DescribeEndpointOutput{
		EndpointName:   input.EndpointName,
		EndpointStatus: aws.String(s.status),
	}
	if s.reason != "" {
		out.FailureReason = aws.String(s.reason)
	}
	return out, nil
}

type stubIAM struct{}

func (stubIAM) GetRoleWithContext(ctx aws.Context, input *iam.GetRoleInput, opts ...request.Option) (*iam.GetRoleOutput, error) {
	return &iam.GetRoleOutput{Role: &iam.Role{
		RoleName: input.RoleName,
		Arn:      aws.String("arn:aws:iam::123456789012:role/" + aws.StringValue(input.RoleName)),
	}}, nil
}

type stubCheckers struct {
	checker reconcile.StatusChecker
}

func (s stubCheckers) Get(region string) (reconcile.StatusChecker, error) {
	return s.checker, nil
}

// useStubSageMaker routes deploy and sync through fake with fast polling
func useStubSageMaker(t *testing.T, fake *stubSageMaker) {
	t.Helper()

	prevBackend, prevCheckers := newDeployBackend, newStatusCheckers
	t.Cleanup(func() {
		newDeployBackend, newStatusCheckers = prevBackend, prevCheckers
	})

	newDeployBackend = func(region string, opts ...sagemaker.DeployerOption) (*deployBackend, error) {
		opts = append(opts,
			sagemaker.WithPollInterval(time.Millisecond, time.Millisecond),
			sagemaker.WithWaitTimeout(50*time.Millisecond))
		return &deployBackend{deployer: sagemaker.NewDeployer(fake, stubIAM{}, opts...)}, nil
	}
	newStatusCheckers = func(string) reconcile.CheckerRegistry {
		return stubCheckers{checker: sagemaker.NewDeployer(fake, stubIAM{})}
	}
}

func deployArgs(endpointName string) []string {
	return []string{"deploy",
		"--image", "0.0.27",
		"--model-id", "meta-llama/Llama-3.2-1B-Instruct",
		"--instance-type", "ml.inf2.xlarge",
		"--region", "us-east-2",
		"--iam-role", "sagemaker_execution_role",
		"--sequence-length", "4096",
		"--endpoint-name", endpointName,
	}
}

func listDeployments(t *testing.T, db string, args ...string) []*models.Deployment {
	t.Helper()
	res := runCLI(t, db, append([]string{"deployments", "-o", "json"}, args...)...)
	require.NoError(t, res.err)

	var deployments []*models.Deployment
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &deployments))
	return deployments
}

func TestDeploy_RecordsInService(t *testing.T) {
	fake := &stubSageMaker{status: sagemaker.StatusInService}
	useStubSageMaker(t, fake)
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, deployArgs("llama-ok")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Successfully deployed")
	assert.Contains(t, res.stdout, "Role: arn:aws:iam::123456789012:role/sagemaker_execution_role")

	require.Len(t, fake.variants, 1)
	assert.Equal(t, "al2-ami-sagemaker-inference-neuron-2", aws.StringValue(fake.variants[0].InferenceAmiVersion))

	deployments := listDeployments(t, db)
	require.Len(t, deployments, 1)
	d := deployments[0]
	assert.Equal(t, "llama-ok", d.EndpointName)
	assert.Equal(t, models.StatusInService, d.Status)
	assert.Equal(t, "us-east-2", d.Region)
	assert.False(t, d.InServiceAt.IsZero())
	assert.Empty(t, d.Error)
}

func TestDeploy_InferenceAmiFlag(t *testing.T) {
	fake := &stubSageMaker{status: sagemaker.StatusInService}
	useStubSageMaker(t, fake)
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, append(deployArgs("llama-ami"), "--inference-ami-version", "none", "--record=false")...)
	require.NoError(t, res.err)

	require.Len(t, fake.variants, 1)
	assert.Nil(t, fake.variants[0].InferenceAmiVersion)
	assert.Empty(t, listDeployments(t, db))
}

func TestDeploy_TimeoutLeavesCreating(t *testing.T) {
	fake := &stubSageMaker{status: "Creating"}
	useStubSageMaker(t, fake)
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, deployArgs("llama-slow")...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, sagemaker.ErrWaitTimeout)
	assert.Contains(t, res.stdout, "Endpoint llama-slow is still being created")

	active := listDeployments(t, db, "--active")
	require.Len(t, active, 1)
	assert.Equal(t, "llama-slow", active[0].EndpointName)
	assert.Equal(t, models.StatusCreating, active[0].Status)

	// Once SageMaker finishes, sync promotes the record
	fake.setStatus(sagemaker.StatusInService, "")
	res = runCLI(t, db, "deployments", "sync", "-o", "json")
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"checked":1,"inservice":1,"failed":0,"gone":0,"errors":0}`, res.stdout)

	active = listDeployments(t, db, "--active")
	require.Len(t, active, 1)
	assert.Equal(t, models.StatusInService, active[0].Status)
}

func TestDeploy_FailureRecordsFailed(t *testing.T) {
	fake := &stubSageMaker{status: sagemaker.StatusFailed, reason: "image pull failed"}
	useStubSageMaker(t, fake)
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, deployArgs("llama-bad")...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, sagemaker.ErrDeployFailed)
	assert.Contains(t, res.stdout, "Clean up with: neuronctl delete llama-bad")

	assert.Empty(t, listDeployments(t, db, "--active"))

	deployments := listDeployments(t, db)
	require.Len(t, deployments, 1)
	assert.Equal(t, models.StatusFailed, deployments[0].Status)
	assert.Contains(t, deployments[0].Error, "image pull failed")
}
