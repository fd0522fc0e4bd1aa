package gate

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Class is the closed failure taxonomy. Every failed operation maps to
// exactly one class.
type Class int32

const (
	ClassNetwork Class = iota
	ClassTimeout
	ClassConfig
	ClassServerRejected
)

func (c Class) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassTimeout:
		return "timeout"
	case ClassConfig:
		return "config"
	case ClassServerRejected:
		return "server-rejected"
	}
	return fmt.Sprintf("Class(%d)", int32(c))
}

var (
	ErrBusy   = fmt.Errorf("gate: trigger already running")
	ErrQueued = fmt.Errorf("gate: offline, trigger queued")
)

// NetworkError is the classified form of a transport failure.
type NetworkError struct {
	Class      Class
	Adapter    string
	Op         string
	Message    string
	At         time.Time
	Suggestion string
	Retryable  bool
	Err        error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Adapter, e.Op, e.Message)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Input carries everything Classify needs to settle on a class without
// guessing: the raw error plus how long the operation ran against what
// deadline.
type Input struct {
	Adapter string
	Op      string
	Err     error
	Elapsed time.Duration
	Timeout time.Duration
}

var configWords = []string{"config", "not valid", "invalid"}

// "refused" is absent on purpose: connection refused is a network
// failure, not a server verdict.
var rejectWords = []string{"reject", "denied", "unauthorized", "forbidden", "not authorized"}

// Classify maps a raw failure to one NetworkError. Deterministic: the
// first matching rule wins, in the order timeout, config, rejection,
// network.
func Classify(in Input) *NetworkError {
	if ne, ok := errors.Cause(in.Err).(*NetworkError); ok {
		return ne
	}
	e := &NetworkError{
		Class:   classOf(in),
		Adapter: in.Adapter,
		Op:      in.Op,
		At:      time.Now(),
		Err:     in.Err,
	}
	switch {
	case in.Err != nil:
		e.Message = in.Err.Error()
	case e.Class == ClassTimeout:
		e.Message = fmt.Sprintf("no response in %v", in.Timeout)
	default:
		e.Message = "unknown error"
	}
	switch e.Class {
	case ClassTimeout:
		e.Retryable = true
		e.Suggestion = "check the device is powered and reachable"
	case ClassNetwork:
		e.Retryable = true
		e.Suggestion = "check network connectivity and the configured address"
	case ClassConfig:
		e.Suggestion = "fix the configuration and retry"
	case ClassServerRejected:
		e.Suggestion = "check credentials and server settings"
	}
	return e
}

func classOf(in Input) Class {
	if in.Timeout > 0 && in.Elapsed >= in.Timeout {
		return ClassTimeout
	}
	if in.Err == nil {
		return ClassNetwork
	}
	cause := errors.Cause(in.Err)
	// stdlib wrapping (url.Error and friends) hides the context
	// sentinels from juju's Cause, stdlib Is digs them out
	if stderrors.Is(cause, context.DeadlineExceeded) || stderrors.Is(cause, context.Canceled) {
		return ClassTimeout
	}
	if ne, ok := cause.(net.Error); ok && ne.Timeout() {
		return ClassTimeout
	}
	if errors.IsTimeout(in.Err) {
		return ClassTimeout
	}
	if errors.IsNotValid(in.Err) {
		return ClassConfig
	}
	msg := strings.ToLower(in.Err.Error())
	if containsAny(msg, configWords) {
		return ClassConfig
	}
	if _, ok := cause.(statusError); ok {
		return ClassServerRejected
	}
	if containsAny(msg, rejectWords) {
		return ClassServerRejected
	}
	return ClassNetwork
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
