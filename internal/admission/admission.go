// Package admission decides whether a caller may start a GPU job now, later,
// or not at all. It wraps the gate with the caller-selectable policies and
// produces rejections that carry retry guidance.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/pdfscribe/internal/gate"
)

// MaxWait is the upper bound for a bounded-wait timeout.
const MaxWait = 600 * time.Second

const (
	DefaultBusyRetryAfter = 15 * time.Second
	DefaultWaitRetryAfter = 30 * time.Second
)

// ErrTimeoutOutOfRange is returned for wait timeouts outside [0, MaxWait].
var ErrTimeoutOutOfRange = errors.New("wait timeout must be between 0 and 600 seconds")

// Mode selects how a caller competes for a slot.
type Mode string

const (
	// ModeFailFast rejects immediately when the gate is saturated.
	ModeFailFast Mode = "fail_fast"
	// ModeWaitBounded waits up to Policy.Timeout before rejecting.
	ModeWaitBounded Mode = "wait_bounded"
	// ModeBlocking waits for as long as the caller's context allows.
	ModeBlocking Mode = "blocking"
)

// Policy is the admission policy chosen by a caller.
type Policy struct {
	Mode    Mode
	Timeout time.Duration
}

// FailFast returns the reject-when-busy policy.
func FailFast() Policy { return Policy{Mode: ModeFailFast} }

// WaitBounded returns a policy that waits up to timeout.
func WaitBounded(timeout time.Duration) Policy {
	return Policy{Mode: ModeWaitBounded, Timeout: timeout}
}

// Blocking returns a policy that waits indefinitely.
func Blocking() Policy { return Policy{Mode: ModeBlocking} }

// Validate checks the policy's parameters.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeFailFast, ModeBlocking:
		return nil
	case ModeWaitBounded:
		if p.Timeout < 0 || p.Timeout > MaxWait {
			return fmt.Errorf("%w: %s", ErrTimeoutOutOfRange, p.Timeout)
		}
		return nil
	default:
		return fmt.Errorf("unknown admission mode %q", p.Mode)
	}
}

// Reason explains why admission was refused.
type Reason string

const (
	ReasonBusy    Reason = "busy"
	ReasonTimeout Reason = "timeout"
)

// RejectedError is returned when the gate could not be acquired. It is always
// retryable and never indicates a problem with the job itself.
type RejectedError struct {
	Reason     Reason
	Waited     time.Duration
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	if e.Reason == ReasonTimeout {
		return fmt.Sprintf("GPU is still busy after waiting for %.1f seconds; try again later", e.Waited.Seconds())
	}
	return "GPU is busy with another PDF processing request; try again shortly"
}

// IsRejected reports whether err is an admission rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Config configures a Controller.
type Config struct {
	Gate           *gate.Gate
	BusyRetryAfter time.Duration
	WaitRetryAfter time.Duration
	Logger         *slog.Logger
}

// Controller applies admission policies to a shared gate.
type Controller struct {
	gate           *gate.Gate
	busyRetryAfter time.Duration
	waitRetryAfter time.Duration
	logger         *slog.Logger
}

// NewController creates a controller for the given gate.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Gate == nil {
		return nil, errors.New("admission controller requires a gate")
	}
	if cfg.BusyRetryAfter <= 0 {
		cfg.BusyRetryAfter = DefaultBusyRetryAfter
	}
	if cfg.WaitRetryAfter <= 0 {
		cfg.WaitRetryAfter = DefaultWaitRetryAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		gate:           cfg.Gate,
		busyRetryAfter: cfg.BusyRetryAfter,
		waitRetryAfter: cfg.WaitRetryAfter,
		logger:         cfg.Logger,
	}, nil
}

// Admit acquires a permit according to the policy. On success the caller owns
// the permit and must hand it to the executor or release it. On refusal it
// returns a *RejectedError; a cancelled blocking wait returns ctx.Err().
func (c *Controller) Admit(ctx context.Context, p Policy) (*gate.Permit, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.Mode {
	case ModeFailFast:
		permit, ok := c.gate.TryAcquireImmediate()
		if !ok {
			c.logger.Info("admission rejected", "mode", p.Mode, "reason", ReasonBusy)
			return nil, &RejectedError{Reason: ReasonBusy, RetryAfter: c.busyRetryAfter}
		}
		return permit, nil

	case ModeWaitBounded:
		start := time.Now()
		permit, ok := c.gate.TryAcquireWithin(ctx, p.Timeout)
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c.logger.Info("admission rejected", "mode", p.Mode, "reason", ReasonTimeout,
				"waited", time.Since(start).Round(time.Millisecond))
			return nil, &RejectedError{Reason: ReasonTimeout, Waited: p.Timeout, RetryAfter: c.waitRetryAfter}
		}
		return permit, nil

	default:
		return c.gate.Acquire(ctx)
	}
}

// Gate returns the underlying gate.
func (c *Controller) Gate() *gate.Gate {
	return c.gate
}
