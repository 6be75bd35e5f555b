package health

import (
	"sync"
	"time"
)

// Status is the outcome of a health check
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc is a function that performs a health check
type CheckFunc func() error

// Check represents a single health check result
type Check struct {
	Name        string
	Status      Status
	Message     string
	LastChecked time.Time
}

// Checker manages health checks for a service
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]*Check
	lastHealthy time.Time
}

// NewChecker creates a new health checker
func NewChecker() *Checker {
	return &Checker{
		checks:      make(map[string]*Check),
		lastHealthy: time.Now(),
	}
}

// RunCheck executes a health check and updates the status
func (c *Checker) RunCheck(name string, checkFunc CheckFunc) {
	status := StatusHealthy
	message := "OK"

	if err := checkFunc(); err != nil {
		status = StatusUnhealthy
		message = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = &Check{
		Name:        name,
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}

	if c.isHealthy() {
		c.lastHealthy = time.Now()
	}
}

// OverallStatus returns the aggregate health status
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isHealthy() {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// Checks returns a snapshot of all check results
func (c *Checker) Checks() []Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		out = append(out, *check)
	}
	return out
}

func (c *Checker) isHealthy() bool {
	for _, check := range c.checks {
		if check.Status != StatusHealthy {
			return false
		}
	}
	return true
}
