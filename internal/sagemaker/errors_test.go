package sagemaker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
)

func TestEndpointError_Error(t *testing.T) {
	err := wrapError("llama", "InvokeEndpoint",
		awserr.NewRequestFailure(awserr.New("ThrottlingException", "slow down", nil), 429, "r"))
	assert.Equal(t, "llama InvokeEndpoint failed (HTTP 429, ThrottlingException): slow down", err.Error())

	err = wrapError("", "GetRole", awserr.New("NoSuchEntity", "role missing", nil))
	assert.Equal(t, "sagemaker GetRole failed (NoSuchEntity): role missing", err.Error())

	err = wrapError("llama", "ResponseStream", errors.New("connection reset"))
	assert.Equal(t, "llama ResponseStream failed: connection reset", err.Error())

	assert.Nil(t, wrapError("llama", "x", nil))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		throttling bool
		retryable  bool
		notFound   bool
		model      bool
	}{
		{
			name:       "throttling",
			err:        awserr.New("ThrottlingException", "rate exceeded", nil),
			throttling: true,
			retryable:  true,
		},
		{
			name:      "server error",
			err:       wrapError("ep", "DescribeEndpoint", awserr.NewRequestFailure(awserr.New("InternalFailure", "oops", nil), 500, "r")),
			retryable: true,
		},
		{
			name:     "missing endpoint",
			err:      awserr.New("ValidationException", "Could not find endpoint \"ep\".", nil),
			notFound: true,
		},
		{
			name:     "missing component",
			err:      awserr.New("ResourceNotFound", "component", nil),
			notFound: true,
		},
		{
			name:     "sentinel",
			err:      fmt.Errorf("lookup: %w", ErrEndpointNotFound),
			notFound: true,
		},
		{
			name:  "model error",
			err:   awserr.New("ModelError", "bad input", nil),
			model: true,
		},
		{
			name: "plain validation",
			err:  awserr.New("ValidationException", "bad instance type", nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.throttling, IsThrottling(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.model, IsModelError(tt.err))
		})
	}
}

func TestProgressiveBackoff(t *testing.T) {
	b := NewProgressiveBackoff(10, 40, 2)
	assert.EqualValues(t, 10, b.Next())
	assert.EqualValues(t, 20, b.Next())
	assert.EqualValues(t, 40, b.Next())
	assert.EqualValues(t, 40, b.Next())
	b.Reset()
	assert.EqualValues(t, 10, b.Next())
}
