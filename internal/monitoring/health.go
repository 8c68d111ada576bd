// Package monitoring evaluates readiness probes for the gateway's dependencies.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProbeStatus encodes the outcome of a probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

const defaultProbeTimeout = 2 * time.Second

// ProbeResult captures a single dependency check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Data      any           `json:"data,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates probe results. A degraded dependency keeps the gateway
// ready; any probe that is down does not.
type Report struct {
	Ready  bool          `json:"ready"`
	Status ProbeStatus   `json:"status"`
	Checks []ProbeResult `json:"checks"`
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck constructs a check. A nil probe always reports down.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// Checker runs registered readiness probes, each under its own timeout.
type Checker struct {
	timeout time.Duration
	checks  []Check
}

// NewChecker returns a checker. Non-positive timeouts use two seconds.
func NewChecker(timeout time.Duration, checks ...Check) *Checker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	c := &Checker{timeout: timeout}
	for _, check := range checks {
		c.Register(check)
	}
	return c
}

// Register appends a probe. Unnamed probes are ignored.
func (c *Checker) Register(check Check) {
	if check.Name == "" || check.Run == nil {
		return
	}
	c.checks = append(c.checks, check)
}

// Evaluate runs every probe in registration order.
func (c *Checker) Evaluate(ctx context.Context) Report {
	report := Report{
		Ready:  true,
		Status: StatusUp,
		Checks: make([]ProbeResult, 0, len(c.checks)),
	}

	for _, check := range c.checks {
		result := c.run(ctx, check)
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case StatusDown:
			report.Ready = false
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, check Check) (result ProbeResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: fmt.Sprintf("probe panicked: %v", rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
	}()

	return check.Run(probeCtx)
}

// ResultFromError converts a probe error into a result. Timeouts count as degraded.
func ResultFromError(err error) ProbeResult {
	if err == nil {
		return ProbeResult{Status: StatusUp}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return ProbeResult{Status: status, Details: err.Error()}
}
