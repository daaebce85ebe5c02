package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
)

// ErrUnsupportedType is reported for monitor types with no registered checker.
var ErrUnsupportedType = errors.New("unsupported monitor type")

// Checker performs one probe of a monitor. Implementations never return an
// error: probe faults are folded into a FAIL result with a diagnostic.
type Checker interface {
	Check(ctx context.Context, m *model.Monitor) model.CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, m *model.Monitor) model.CheckResult

func (f CheckerFunc) Check(ctx context.Context, m *model.Monitor) model.CheckResult { return f(ctx, m) }

// Registry maps monitor types to checker implementations.
type Registry map[model.MonitorType]Checker

// Deps carries the collaborators the built-in checkers need.
type Deps struct {
	Metrics MetricSource
	Browser BrowserRunner
	Now     func() time.Time
}

// NewRegistry returns the table of built-in checkers.
func NewRegistry(deps Deps) Registry {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	r := Registry{
		model.MonitorHTTP:  NewHTTPChecker(nil),
		model.MonitorTCP:   NewTCPChecker(),
		model.MonitorPulse: &PulseChecker{Now: now},
	}
	if deps.Metrics != nil {
		r[model.MonitorServerMetric] = &ServerMetricChecker{Source: deps.Metrics, Now: now}
	}
	if deps.Browser != nil {
		r[model.MonitorBrowser] = &BrowserChecker{Runner: deps.Browser}
	}
	return r
}

// Execute runs the checker registered for m.Type. A panic inside the checker
// becomes a FAIL result; an unregistered type yields UNKNOWN. Results without
// a response time of their own get the wall-clock time of the execution.
func (r Registry) Execute(ctx context.Context, m *model.Monitor) (res model.CheckResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = Fail(fmt.Sprintf("checker panic: %v", p))
		}
		if !res.Status.Valid() {
			res.Status = model.StatusUnknown
		}
		if res.ResponseTimeMs == nil {
			res.ResponseTimeMs = elapsedMs(start)
		}
		metrics.ObserveProbe(string(m.Type), time.Since(start))
	}()

	c, ok := r[m.Type]
	if !ok {
		return Unknown(fmt.Sprintf("%v: %q", ErrUnsupportedType, m.Type))
	}
	return c.Check(ctx, m)
}

func OK(output string) model.CheckResult {
	return model.CheckResult{Status: model.StatusOK, Output: model.StringPtr(output)}
}

func Fail(output string) model.CheckResult {
	return model.CheckResult{Status: model.StatusFail, Output: model.StringPtr(output)}
}

func Unknown(output string) model.CheckResult {
	return model.CheckResult{Status: model.StatusUnknown, Output: model.StringPtr(output)}
}

func elapsedMs(start time.Time) *float64 {
	return model.FloatPtr(float64(time.Since(start).Microseconds()) / 1000)
}

func timeoutOf(seconds float64, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds * float64(time.Second))
}
