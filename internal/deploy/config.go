// Package deploy builds the container configuration for Hugging Face
// Neuronx inference images (TGI and vLLM) served on SageMaker.
package deploy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Server identifies the inference server packaged in an image
type Server string

const (
	ServerTGI  Server = "tgi"
	ServerVLLM Server = "vllm"
)

// MaxConcurrentRequests is the TGI router admission limit
const MaxConcurrentRequests = 128

var (
	// ErrNotSageMakerImage is returned for images outside an ECR registry
	ErrNotSageMakerImage = errors.New("you need to pass a full SageMaker image URI")
	// ErrUnsupportedImage is returned for images that are neither TGI nor vLLM
	ErrUnsupportedImage = errors.New("you must pass a TGI or vLLM image")
)

// Options are the model serving parameters shared by both servers.
type Options struct {
	ModelID        string `validate:"required"`
	BatchSize      int    `validate:"min=1"`
	SequenceLength int    `validate:"min=2"`
	AutoCastType   string `validate:"oneof=fp32 fp16 bf16"`
	NumCores       int    `validate:"min=1"`
	Token          string // Hugging Face token for gated or private models
}

var validate = validator.New()

// Validate checks the options
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("invalid deploy options: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid deploy options: %w", err)
	}
	return nil
}

// DetectServer determines the inference server from a full image URI
func DetectServer(image string) (Server, error) {
	if !strings.Contains(image, "amazonaws.com") {
		return "", ErrNotSageMakerImage
	}
	switch {
	case strings.Contains(image, "vllm"):
		return ServerVLLM, nil
	case strings.Contains(image, "tgi"):
		return ServerTGI, nil
	default:
		return "", ErrUnsupportedImage
	}
}

// TGIConfig returns the container environment for Neuronx TGI.
// Half of the sequence is reserved for the prompt.
func TGIConfig(o Options) map[string]string {
	maxInputLength := o.SequenceLength / 2
	maxTotalTokens := o.SequenceLength

	env := map[string]string{
		"HF_MODEL_ID":              o.ModelID,
		"HF_NUM_CORES":             strconv.Itoa(o.NumCores),
		"HF_BATCH_SIZE":            strconv.Itoa(o.BatchSize),
		"HF_SEQUENCE_LENGTH":       strconv.Itoa(o.SequenceLength),
		"HF_AUTO_CAST_TYPE":        o.AutoCastType,
		"MAX_BATCH_SIZE":           strconv.Itoa(o.BatchSize),
		"MAX_CONCURRENT_REQUESTS":  strconv.Itoa(MaxConcurrentRequests),
		"MAX_INPUT_LENGTH":         strconv.Itoa(maxInputLength),
		"MAX_TOTAL_TOKENS":         strconv.Itoa(maxTotalTokens),
		"MAX_BATCH_PREFILL_TOKENS": strconv.Itoa(o.BatchSize * maxInputLength),
		"MAX_BATCH_TOTAL_TOKENS":   strconv.Itoa(o.BatchSize * o.SequenceLength),
	}
	if o.Token != "" {
		env["HUGGING_FACE_HUB_TOKEN"] = o.Token
	}
	return env
}

// VLLMConfig returns the container environment for the SageMaker vLLM image
func VLLMConfig(o Options) map[string]string {
	env := map[string]string{
		"SM_VLLM_MODEL":                o.ModelID,
		"SM_VLLM_MAX_NUM_SEQS":         strconv.Itoa(o.BatchSize),
		"SM_VLLM_TENSOR_PARALLEL_SIZE": strconv.Itoa(o.NumCores),
		"SM_VLLM_MAX_MODEL_LEN":        strconv.Itoa(o.SequenceLength),
	}
	if o.Token != "" {
		env["HF_TOKEN"] = o.Token
	}
	return env
}

// ContainerConfig validates o and builds the environment for image
func ContainerConfig(image string, o Options) (Server, map[string]string, error) {
	server, err := DetectServer(image)
	if err != nil {
		return "", nil, err
	}
	if err := o.Validate(); err != nil {
		return "", nil, err
	}
	switch server {
	case ServerVLLM:
		return server, VLLMConfig(o), nil
	default:
		return server, TGIConfig(o), nil
	}
}

// Redacted returns a copy of env with token values masked, for printing
func Redacted(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if strings.Contains(k, "TOKEN") && !strings.HasPrefix(k, "MAX_") && v != "" {
			v = "****"
		}
		out[k] = v
	}
	return out
}
