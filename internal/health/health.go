// Package health runs readiness checks over the components a gdprvault deployment
// depends on: the relational store, the key material and the retention jobs.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded means the component works but needs attention.
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// ErrDegraded marks a check failure that should not make the system unhealthy.
var ErrDegraded = errors.New("degraded")

// Check is one named probe.
type Check struct {
	Name string `json:"name"`
	// Critical checks make the whole report unhealthy when they fail.
	Critical bool                            `json:"critical"`
	Timeout  time.Duration                   `json:"timeout"`
	Probe    func(ctx context.Context) error `json:"-"`
}

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`
}

// Report aggregates every check.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Results   []Result  `json:"results"`
}

// Checker executes registered checks concurrently.
type Checker struct {
	mu      sync.RWMutex
	checks  []Check
	version string
	timeout time.Duration
	now     func() time.Time
}

// NewChecker creates a checker. Checks without a timeout get five seconds.
func NewChecker(version string, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{version: version, timeout: 5 * time.Second, now: now}
}

// Register adds a check.
func (c *Checker) Register(check Check) error {
	if check.Name == "" {
		return fmt.Errorf("health check name cannot be empty")
	}
	if check.Probe == nil {
		return fmt.Errorf("health check %s has no probe", check.Name)
	}
	if check.Timeout == 0 {
		check.Timeout = c.timeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
	return nil
}

// Run executes every check and returns results sorted by name.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = execute(ctx, check)
		}(i, check)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return Report{
		Status:    overall(results),
		Timestamp: c.now().UTC(),
		Version:   c.version,
		Results:   results,
	}
}

func execute(ctx context.Context, check Check) Result {
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	err := check.Probe(ctx)
	result := Result{Name: check.Name, Status: StatusHealthy, Duration: time.Since(start), Critical: check.Critical}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		result.Status = StatusDegraded
		result.Error = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

func overall(results []Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for _, r := range results {
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			return StatusUnhealthy
		case r.Status != StatusHealthy:
			status = StatusDegraded
		}
	}
	return status
}
