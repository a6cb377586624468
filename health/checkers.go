package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/Polako-Finance/polako-common/rabbitmq"
	"github.com/Polako-Finance/polako-common/schema"
)

// StateReporter is implemented by polako.Client and rabbitmq.Connection.
type StateReporter interface {
	State() rabbitmq.State
}

// BrokerChecker reports unhealthy unless the broker connection is at least
// in the wanted state. A consumer wants StateConsuming; a publish-only
// service wants StateConnected, or StateDisconnected since it dials lazily.
type BrokerChecker struct {
	broker StateReporter
	want   rabbitmq.State
}

func NewBrokerChecker(broker StateReporter, want rabbitmq.State) *BrokerChecker {
	return &BrokerChecker{broker: broker, want: want}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.broker.State()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"state": state.String(),
			"want":  c.want.String(),
		},
	}

	if rank(state) >= rank(c.want) {
		result.Status = StatusHealthy
		result.Message = "broker connection is " + state.String()
	} else {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("broker connection is %s, want %s", state, c.want)
	}

	result.Duration = time.Since(start)
	return result
}

func rank(s rabbitmq.State) int {
	switch s {
	case rabbitmq.StateConsuming:
		return 3
	case rabbitmq.StateConnected:
		return 2
	case rabbitmq.StateConnecting:
		return 1
	default:
		return 0
	}
}

// ContractsChecker verifies that the envelope schema can be loaded from the
// contracts directory.
type ContractsChecker struct {
	store *schema.Store
}

func NewContractsChecker(store *schema.Store) *ContractsChecker {
	return &ContractsChecker{store: store}
}

func (c *ContractsChecker) Name() string {
	return "contracts"
}

func (c *ContractsChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]any{"dir": c.store.Dir()},
	}

	if _, err := c.store.LoadFile(schema.EnvelopeFile); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "envelope schema unavailable"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "envelope schema loaded"
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker degrades and then fails as the goroutine count grows.
// A stuck handler pool shows up here first.
type GoroutineChecker struct {
	warning  int
	critical int
}

func NewGoroutineChecker(warning, critical int) *GoroutineChecker {
	return &GoroutineChecker{warning: warning, critical: critical}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"goroutines":     goroutines,
			"memory_used_mb": float64(m.Sys) / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
	}

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
	}

	result.Duration = time.Since(start)
	return result
}
