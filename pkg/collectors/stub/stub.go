package stub

import (
	"context"
	"fmt"
	"time"

	"github.com/costwise/costwise/internal/domain"
)

// Collector is a deterministic stand-in for a provider collaborator.
// It serves local development and the operator runner; deployments
// replace it by registering real provider clients.
type Collector struct {
	collaborator string
	delay        time.Duration
}

// New creates a stub collector for a collaborator id. A non-zero delay
// simulates provider latency.
func New(collaborator string, delay time.Duration) *Collector {
	return &Collector{collaborator: collaborator, delay: delay}
}

func (c *Collector) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.NewCollaboratorError(domain.ErrTimeout, c.collaborator, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (c *Collector) regions(scope domain.Scope) []string {
	if len(scope.Regions) > 0 {
		return scope.Regions
	}
	return []string{"us-east-1"}
}

// FetchData returns synthetic utilization and spend data for the scope.
func (c *Collector) FetchData(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var findings []domain.Finding
	for i, region := range c.regions(scope) {
		findings = append(findings, domain.Finding{
			ResourceID:     fmt.Sprintf("i-%s-%04d", c.collaborator, i),
			Service:        "ec2",
			Region:         region,
			Description:    fmt.Sprintf("instance underutilized in %s", region),
			MonthlySavings: 42.50,
			Recommendation: "downsize to a smaller instance class",
		})
	}

	return &domain.TaskResult{
		Summary:   fmt.Sprintf("%s collected %d data points", c.collaborator, len(findings)),
		Findings:  findings,
		Metadata:  map[string]interface{}{"simulated": true},
		FetchedAt: time.Now(),
	}, nil
}

// FetchRecommendations returns synthetic optimization recommendations.
func (c *Collector) FetchRecommendations(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var findings []domain.Finding
	for i, region := range c.regions(scope) {
		findings = append(findings, domain.Finding{
			ResourceID:     fmt.Sprintf("vol-%04d", i),
			Service:        "ebs",
			Region:         region,
			Description:    "unattached volume",
			MonthlySavings: 8.00,
			Recommendation: "snapshot and delete the volume",
		})
	}

	return &domain.TaskResult{
		Summary:   fmt.Sprintf("%s produced %d recommendations", c.collaborator, len(findings)),
		Findings:  findings,
		Metadata:  map[string]interface{}{"simulated": true},
		FetchedAt: time.Now(),
	}, nil
}

// HealthCheck always succeeds.
func (c *Collector) HealthCheck(ctx context.Context) error {
	return nil
}
