package reconcile

import (
	"errors"
	"sync"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/sagemaker"
)

// RegionCheckers creates one SageMaker deployer per region on first use.
// Deployments recorded without a region use the default region.
type RegionCheckers struct {
	defaultRegion string
	newChecker    func(region string) (StatusChecker, error)

	mu       sync.Mutex
	byRegion map[string]StatusChecker
}

// NewRegionCheckers returns a registry backed by AWS sessions
func NewRegionCheckers(defaultRegion string) *RegionCheckers {
	return &RegionCheckers{
		defaultRegion: defaultRegion,
		newChecker: func(region string) (StatusChecker, error) {
			clients, err := sagemaker.NewClients(region)
			if err != nil {
				return nil, err
			}
			return clients.Deployer(), nil
		},
		byRegion: make(map[string]StatusChecker),
	}
}

// Get returns the checker for region
func (c *RegionCheckers) Get(region string) (StatusChecker, error) {
	if region == "" {
		region = c.defaultRegion
	}
	if region == "" {
		return nil, errors.New("deployment has no region and no default region is configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if checker, ok := c.byRegion[region]; ok {
		return checker, nil
	}
	checker, err := c.newChecker(region)
	if err != nil {
		return nil, err
	}
	c.byRegion[region] = checker
	return checker, nil
}
