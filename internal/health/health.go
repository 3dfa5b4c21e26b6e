package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	StatusUp   = "up"
	StatusDown = "down"

	defaultTimeout = 2 * time.Second
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of a single named check.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report aggregates all check results.
type Report struct {
	Ready  bool                   `json:"-"`
	Checks map[string]CheckResult `json:"checks"`
}

// Checker runs named readiness checks and tracks process uptime.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	started time.Time
	version string
}

// NewChecker returns a Checker reporting the given build version.
func NewChecker(version string) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: defaultTimeout,
		started: time.Now(),
		version: version,
	}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// SetTimeout bounds how long each check may run.
func (c *Checker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Version returns the build version passed to NewChecker.
func (c *Checker) Version() string { return c.version }

// Uptime returns the time since the checker was created.
func (c *Checker) Uptime() time.Duration { return time.Since(c.started) }

// Run executes every check concurrently. The report is ready only when all
// checks pass.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for n, fn := range c.checks {
		checks[n] = fn
	}
	timeout := c.timeout
	c.mu.RUnlock()

	report := &Report{Ready: true, Checks: make(map[string]CheckResult, len(checks))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := runCheck(ctx, fn, timeout)
			mu.Lock()
			report.Checks[name] = res
			if res.Status != StatusUp {
				report.Ready = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return report
}

func runCheck(ctx context.Context, fn CheckFunc, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- fn(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}

	res := CheckResult{Status: StatusUp, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}
