package sagemaker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
)

// Common errors
var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrDeployFailed     = errors.New("deployment failed")
	ErrWaitTimeout      = errors.New("timed out waiting for resource") // also returned on cancellation
)

// EndpointError wraps a SageMaker API error with call context
type EndpointError struct {
	Endpoint   string
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *EndpointError) Error() string {
	target := e.Endpoint
	if target == "" {
		target = "sagemaker"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (HTTP %d, %s): %s", target, e.Operation, e.StatusCode, e.Code, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed (%s): %s", target, e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", target, e.Operation, e.Message)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// wrapError converts an SDK error into an *EndpointError
func wrapError(endpoint, operation string, err error) error {
	if err == nil {
		return nil
	}
	e := &EndpointError{
		Endpoint:  endpoint,
		Operation: operation,
		Message:   err.Error(),
		Err:       err,
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		e.Code = aerr.Code()
		e.Message = aerr.Message()
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		e.StatusCode = reqErr.StatusCode()
	}
	return e
}

func errorCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}

// IsThrottling checks if the error is a throttling error
func IsThrottling(err error) bool {
	switch errorCode(err) {
	case "ThrottlingException", "Throttling", "TooManyRequestsException":
		return true
	}
	var ee *EndpointError
	if errors.As(err, &ee) {
		return ee.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsModelError checks if the error was raised by the model container
func IsModelError(err error) bool {
	switch errorCode(err) {
	case "ModelError", "ModelStreamError", "ModelNotReadyException":
		return true
	}
	return false
}

// IsValidationError checks if the request was rejected as invalid
func IsValidationError(err error) bool {
	switch errorCode(err) {
	case "ValidationError", "ValidationException":
		return true
	}
	return false
}

// IsNotFound checks if the error reports a missing SageMaker resource
func IsNotFound(err error) bool {
	if errors.Is(err, ErrEndpointNotFound) {
		return true
	}
	if errorCode(err) == "ResourceNotFound" {
		return true
	}
	// DescribeEndpoint reports missing endpoints as ValidationException
	var aerr awserr.Error
	if errors.As(err, &aerr) && IsValidationError(err) {
		return containsAny(aerr.Message(), "Could not find", "does not exist")
	}
	return false
}

// IsRetryable checks if the error is worth retrying
func IsRetryable(err error) bool {
	if IsThrottling(err) {
		return true
	}
	switch errorCode(err) {
	case "ServiceUnavailable", "InternalFailure", "InternalStreamFailure":
		return true
	}
	var ee *EndpointError
	if errors.As(err, &ee) {
		return ee.StatusCode >= 500 && ee.StatusCode < 600
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
