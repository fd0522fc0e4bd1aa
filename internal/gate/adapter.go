// Package gate turns "open the gate" into a delivered command. It
// sequences the configured transport adapters, classifies their
// failures and spools triggers to disk when the network is gone.
package gate

import (
	"context"
	"time"

	"github.com/temoto/gatekeeper/internal/config"
)

// Adapter is one way to deliver a trigger to the relay. Each adapter
// owns its transport resource exclusively; the orchestrator only calls
// this interface.
type Adapter interface {
	Name() string

	// Trigger delivers one activation command. Error is raw, the
	// orchestrator classifies it.
	Trigger(ctx context.Context, correlationID string) error

	// TestConnection checks reachability without activating the relay.
	TestConnection(ctx context.Context) error

	// Cancel aborts the in-flight operation, if any. Safe to call with
	// nothing running.
	Cancel()

	// UpdateConfig applies a whole new configuration. The adapter
	// decides itself whether the change requires rebuilding its
	// transport resource.
	UpdateConfig(cfg config.Config) error

	// Timeout is the per-attempt deadline the orchestrator races
	// Trigger against.
	Timeout() time.Duration

	Close() error
}

// TestResult is one row of TestAll output.
type TestResult struct {
	Adapter string
	Elapsed time.Duration
	Err     *NetworkError
}

func (r TestResult) OK() bool { return r.Err == nil }

func (r TestResult) String() string {
	if r.Err == nil {
		return r.Adapter + ": ok " + r.Elapsed.Round(time.Millisecond).String()
	}
	return r.Adapter + ": " + r.Err.Class.String() + " " + r.Err.Message
}
