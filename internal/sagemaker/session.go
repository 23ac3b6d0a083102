package sagemaker

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iam"
	sm "github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
)

// Clients bundles the AWS service clients built from one session
type Clients struct {
	Session   *session.Session
	SageMaker *sm.SageMaker
	Runtime   *sagemakerruntime.SageMakerRuntime
	IAM       *iam.IAM
}

// NewClients creates AWS clients for region. Credentials come from the
// standard chain (env, shared config, instance role).
func NewClients(region string) (*Clients, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, wrapError("", "NewSession", err)
	}
	return &Clients{
		Session:   sess,
		SageMaker: sm.New(sess),
		Runtime:   sagemakerruntime.New(sess),
		IAM:       iam.New(sess),
	}, nil
}

// Deployer returns a deployer backed by these clients
func (c *Clients) Deployer(opts ...DeployerOption) *Deployer {
	return NewDeployer(c.SageMaker, c.IAM, opts...)
}

// NewRuntime returns a runtime backed by these clients
func (c *Clients) NewRuntime() *Runtime {
	return NewRuntime(c.Runtime)
}
