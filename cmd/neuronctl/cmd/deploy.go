package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/deploy"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/endpoint"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/sagemaker"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

var (
	deployImage              string
	deployModelID            string
	deployInstanceType       string
	deployIAMRole            string
	deployRegion             string
	deployToken              string
	deployBatchSize          int
	deploySequenceLength     int
	deployNumCores           int
	deployAutoCastType       string
	deployVolumeSize         int
	deployHealthCheckTimeout time.Duration
	deployInstanceCount      int
	deployEndpointName       string
	deployCopies             int
	deployAccelerators       int
	deployCPUs               int
	deployMemoryMB           int
	deployInferenceAmi       string
	deploySmokePrompt        string
	deployDryRun             bool
	deployRecord             bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a Neuronx TGI or vLLM image as a SageMaker endpoint",
	Long: `Deploy a Hugging Face Neuronx inference image as a SageMaker endpoint.

The image may be a full ECR image URI or a huggingface-neuronx version
(for example 0.0.27) resolved for the region. The container environment
is derived from the image: TGI images get HF_* and router limits, vLLM
images get SM_VLLM_* settings.

Setting --copies deploys the model as an inference component with the
requested per-copy resources.

Examples:
  neuronctl deploy --image 0.0.27 --model-id meta-llama/Llama-3.2-1B-Instruct \
    --instance-type ml.inf2.xlarge --sequence-length 4096
  neuronctl deploy --image <uri> --model-id <id> --instance-type ml.inf2.48xlarge \
    --sequence-length 4096 --num-cores 8 --copies 3 --accelerators 1 --cpus 60 --memory-mb 256000
  neuronctl deploy ... --dry-run`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	f := deployCmd.Flags()
	f.StringVar(&deployImage, "image", "", "Full SageMaker image URI or huggingface-neuronx version (required)")
	f.StringVar(&deployModelID, "model-id", "", "Hugging Face model id (required)")
	f.StringVar(&deployInstanceType, "instance-type", "", "SageMaker Inferentia/Trainium instance type (required)")
	f.StringVar(&deployIAMRole, "iam-role", "", "IAM role name (defaults to deploy.iam_role)")
	f.StringVar(&deployRegion, "region", "", "AWS region (defaults to aws.region)")
	f.StringVar(&deployToken, "token", "", "Hugging Face token for gated or private models (defaults to HF_TOKEN)")
	f.IntVar(&deployBatchSize, "batch-size", 1, "Batch size")
	f.IntVar(&deploySequenceLength, "sequence-length", 0, "Maximum sequence length (required)")
	f.IntVar(&deployNumCores, "num-cores", 2, "Number of Neuron cores the model is split on")
	f.StringVar(&deployAutoCastType, "auto-cast-type", "bf16", "One of fp32, fp16, bf16")
	f.IntVar(&deployVolumeSize, "volume-size", 0, "Instance volume size in GB (defaults to deploy.volume_size_gb)")
	f.DurationVar(&deployHealthCheckTimeout, "health-check-timeout", 0, "Container startup health check timeout (defaults to deploy.health_check_timeout)")
	f.IntVar(&deployInstanceCount, "instance-count", 0, "Initial instance count (defaults to deploy.instance_count)")
	f.StringVar(&deployEndpointName, "endpoint-name", "", "Endpoint name (generated when empty)")
	f.IntVar(&deployCopies, "copies", 0, "Model copies; non-zero deploys an inference component")
	f.IntVar(&deployAccelerators, "accelerators", 1, "Neuron devices per copy")
	f.IntVar(&deployCPUs, "cpus", 0, "CPU cores per copy")
	f.IntVar(&deployMemoryMB, "memory-mb", 0, "Minimum memory in MB per copy")
	f.StringVar(&deployInferenceAmi, "inference-ami-version", "", "Host AMI version (defaults to deploy.inference_ami_version; \"none\" uses the SageMaker default)")
	f.StringVar(&deploySmokePrompt, "smoke-test", "", "Prompt sent to the endpoint once it is in service")
	f.BoolVar(&deployDryRun, "dry-run", false, "Print the resolved image and container environment without deploying")
	f.BoolVar(&deployRecord, "record", true, "Record the deployment in the results database")

	_ = deployCmd.MarkFlagRequired("image")
	_ = deployCmd.MarkFlagRequired("model-id")
	_ = deployCmd.MarkFlagRequired("instance-type")
}

// deployPlan is the resolved deployment before any AWS call
type deployPlan struct {
	Image        string            `json:"image"`
	Server       deploy.Server     `json:"server"`
	Region       string            `json:"region"`
	InstanceType string            `json:"instance_type"`
	Env          map[string]string `json:"env"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// deployBackend holds the AWS clients a deployment needs
type deployBackend struct {
	deployer *sagemaker.Deployer
	runtime  *sagemaker.Runtime
}

// newDeployBackend builds the AWS clients for region; tests replace it
var newDeployBackend = func(region string, opts ...sagemaker.DeployerOption) (*deployBackend, error) {
	clients, err := sagemaker.NewClients(region)
	if err != nil {
		return nil, err
	}
	return &deployBackend{
		deployer: clients.Deployer(opts...),
		runtime:  clients.NewRuntime(),
	}, nil
}

func inferenceAmiVersion() string {
	v := firstNonEmpty(deployInferenceAmi, cfg.Deploy.InferenceAmiVersion)
	if v == "none" {
		return ""
	}
	return v
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	region := firstNonEmpty(deployRegion, cfg.AWS.Region)

	image, err := deploy.ResolveImage(deployImage, region)
	if err != nil {
		return err
	}

	opts := deploy.Options{
		ModelID:        deployModelID,
		BatchSize:      deployBatchSize,
		SequenceLength: deploySequenceLength,
		AutoCastType:   deployAutoCastType,
		NumCores:       deployNumCores,
		Token:          firstNonEmpty(deployToken, cfg.Deploy.HFToken),
	}
	server, env, err := deploy.ContainerConfig(image, opts)
	if err != nil {
		return err
	}

	plan := deployPlan{
		Image:        image,
		Server:       server,
		Region:       region,
		InstanceType: deployInstanceType,
		Env:          deploy.Redacted(env),
	}
	if deployDryRun {
		return printPlan(cmd, plan)
	}

	// Set before Deploy runs; the hook only fires after CreateEndpoint
	var rec *deploymentRecorder
	backend, err := newDeployBackend(region,
		sagemaker.WithLogger(logger),
		sagemaker.WithWaitTimeout(cfg.Deploy.WaitTimeout),
		sagemaker.WithEndpointCreated(func(ctx context.Context, dep sagemaker.Deployment) {
			rec.created(ctx, dep)
		}),
	)
	if err != nil {
		return err
	}
	deployer := backend.deployer

	roleARN, err := deployer.RoleARN(ctx, firstNonEmpty(deployIAMRole, cfg.Deploy.IAMRole))
	if err != nil {
		return err
	}

	req := sagemaker.DeployRequest{
		Image:              image,
		Env:                env,
		RoleARN:            roleARN,
		InstanceType:       deployInstanceType,
		InstanceCount:      firstPositive(deployInstanceCount, cfg.Deploy.InstanceCount, 1),
		VolumeSizeGB:       firstPositive(deployVolumeSize, cfg.Deploy.VolumeSizeGB),
		HealthCheckTimeout: deployHealthCheckTimeout,
		EndpointName:       deployEndpointName,

		InferenceAmiVersion: inferenceAmiVersion(),
	}
	if req.HealthCheckTimeout == 0 {
		req.HealthCheckTimeout = cfg.Deploy.HealthCheckTimeout
	}
	if deployCopies > 0 {
		req.Resources = &sagemaker.Resources{
			Copies:              deployCopies,
			AcceleratorsPerCopy: deployAccelerators,
			CPUsPerCopy:         deployCPUs,
			MemoryMBPerCopy:     deployMemoryMB,
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deploying %s (%s) on %s in %s\n", deployModelID, server, deployInstanceType, region)
	fmt.Fprintf(cmd.OutOrStdout(), "Role: %s\n", roleARN)

	if deployRecord {
		db, _, store, err := openStores(ctx)
		if err != nil {
			logger.Warn("failed to open results database, deployment will not be recorded", slog.String("error", err.Error()))
		} else {
			defer db.Close()
			rec = newDeploymentRecorder(store, plan, opts, req)
		}
	}

	dep, deployErr := deployer.Deploy(ctx, req)
	rec.finish(ctx, dep, deployErr)

	if errors.Is(deployErr, sagemaker.ErrWaitTimeout) && dep != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Endpoint %s is still being created\n", dep.EndpointName)
		fmt.Fprintln(cmd.OutOrStdout(), "Refresh its status later with: neuronctl deployments sync")
		return deployErr
	}
	if deployErr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Failed to deploy model with config %v on %s\n", plan.Env, deployInstanceType)
		if dep != nil && dep.EndpointName != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Clean up with: neuronctl delete %s\n", dep.EndpointName)
		}
		return deployErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully deployed %s as endpoint %s\n", dep.ModelName, dep.EndpointName)
	fmt.Fprintf(cmd.OutOrStdout(), "Total time: %s\n", dep.Elapsed.Round(time.Second))

	if deploySmokePrompt != "" {
		return smokeTest(cmd, backend.runtime.Endpoint(dep.EndpointName), server, deploySmokePrompt)
	}
	return nil
}

func printPlan(cmd *cobra.Command, plan deployPlan) error {
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, plan)
	}

	fmt.Fprintf(out, "Image:          %s\n", plan.Image)
	fmt.Fprintf(out, "Server:         %s\n", plan.Server)
	fmt.Fprintf(out, "Region:         %s\n", plan.Region)
	fmt.Fprintf(out, "Instance type:  %s\n", plan.InstanceType)
	fmt.Fprintln(out, "Environment:")
	for _, k := range sortedKeys(plan.Env) {
		fmt.Fprintf(out, "  %s=%s\n", k, plan.Env[k])
	}
	return nil
}

// deploymentRecorder keeps the results database in step with a deployment.
// A nil recorder records nothing.
type deploymentRecorder struct {
	store  *storage.DeploymentStore
	record *models.Deployment
}

func newDeploymentRecorder(store *storage.DeploymentStore, plan deployPlan, opts deploy.Options, req sagemaker.DeployRequest) *deploymentRecorder {
	d := &models.Deployment{
		Region:        plan.Region,
		Image:         plan.Image,
		Server:        string(plan.Server),
		ModelID:       opts.ModelID,
		InstanceType:  req.InstanceType,
		InstanceCount: req.InstanceCount,
		Env:           plan.Env,
		Status:        models.StatusCreating,
	}
	if req.Resources != nil {
		d.Copies = req.Resources.Copies
	}
	return &deploymentRecorder{store: store, record: d}
}

// created stores the record as creating once the endpoint exists.
// Writes outlive cancellation so an interrupted deploy is still recorded.
func (r *deploymentRecorder) created(ctx context.Context, dep sagemaker.Deployment) {
	if r == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	r.record.EndpointName = dep.EndpointName
	r.record.ModelName = dep.ModelName
	if err := r.store.Create(ctx, r.record); err != nil {
		logger.Warn("failed to record deployment",
			slog.String("endpoint", dep.EndpointName),
			slog.String("error", err.Error()))
		r.record.ID = ""
		return
	}
	logging.Audit(ctx, "deployment_recorded",
		slog.String("endpoint", r.record.EndpointName),
		slog.String("status", string(r.record.Status)))
}

// finish records the outcome of Deploy. A deploy that stopped waiting
// stays creating so reconciliation can pick it up later.
func (r *deploymentRecorder) finish(ctx context.Context, dep *sagemaker.Deployment, deployErr error) {
	if r == nil || r.record.ID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d := r.record
	if dep != nil {
		d.InferenceComponentName = dep.InferenceComponentName
	}
	switch {
	case deployErr == nil:
		d.Status = models.StatusInService
		d.InServiceAt = time.Now()
	case errors.Is(deployErr, sagemaker.ErrWaitTimeout):
		d.Error = deployErr.Error()
	default:
		d.Status = models.StatusFailed
		d.Error = deployErr.Error()
	}

	if err := r.store.Update(ctx, d); err != nil {
		logger.Warn("failed to update deployment record",
			slog.String("endpoint", d.EndpointName),
			slog.String("error", err.Error()))
		return
	}
	logging.Audit(ctx, "deployment_recorded",
		slog.String("endpoint", d.EndpointName),
		slog.String("status", string(d.Status)))
}

// smokeTest streams one generation from a freshly deployed endpoint
func smokeTest(cmd *cobra.Command, client endpoint.Client, server deploy.Server, prompt string) error {
	ctx := logging.WithEndpoint(cmd.Context(), client.Name())
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Smoke test: %q\n", prompt)

	if server == deploy.ServerVLLM {
		res, err := endpoint.StreamChat(ctx, client, endpoint.NewChatRequest("", prompt, 64))
		if err != nil {
			return fmt.Errorf("smoke test failed: %w", err)
		}
		fmt.Fprintln(out, res.Content)
		return nil
	}

	res, err := endpoint.StreamTGI(ctx, client, endpoint.NewTGIRequest(prompt, true), nil)
	if err != nil {
		return fmt.Errorf("smoke test failed: %w", err)
	}
	fmt.Fprintln(out, res.Text)
	return nil
}
