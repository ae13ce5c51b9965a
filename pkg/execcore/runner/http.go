package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"skeenode/pkg/metrics"
	"skeenode/pkg/resilience"
)

// HTTPRunner executes a job as a single HTTP request, treating exactly
// HTTP 200 as success (exit code 0) and anything else as a failed attempt
// (exit code 1, with "HTTP <status>: <reason>" in Stderr), per
// executor.py's _execute_http. Grounded on the teacher's pkg/ai.Client,
// which shapes its outbound calls the same way (shared http.Client,
// status-code branching), generalized from POST-only to any method and
// wrapped per-host in a resilience.CircuitBreaker so a failing downstream
// host cannot be hammered by retrying jobs.
//
// Per SPEC_FULL §9 (Open Question), transport-level retry is out of
// scope here — retry policy lives entirely in the scheduler's attempt
// loop, which already backs off between attempts.
type HTTPRunner struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewHTTPRunner returns an HTTPRunner sharing one client across hosts, one
// circuit breaker per host.
func NewHTTPRunner() *HTTPRunner {
	return &HTTPRunner{
		client:   &http.Client{},
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (h *HTTPRunner) breakerFor(host string) *resilience.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[host]
	if !ok {
		cb = resilience.NewCircuitBreaker(host, resilience.DefaultCircuitBreakerConfig())
		h.breakers[host] = cb
	}
	return cb
}

// Run issues spec.Payload as a GET request (or spec.Command as the method
// when set) against the URL, short-circuiting immediately if the target
// host's circuit is open.
func (h *HTTPRunner) Run(ctx context.Context, spec Spec) Result {
	start := time.Now()

	method := spec.Command
	if method == "" {
		method = http.MethodGet
	}

	parsed, err := url.Parse(spec.Payload)
	if err != nil {
		return Result{ExitCode: -1, Error: err, Duration: time.Since(start)}
	}
	cb := h.breakerFor(parsed.Host)

	var statusCode int
	var statusText string
	var body string
	var truncated bool

	runErr := cb.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, spec.Payload, nil)
		if err != nil {
			return err
		}
		for k, v := range spec.Env {
			req.Header.Set(k, v)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		statusText = http.StatusText(resp.StatusCode)
		buf := newBoundedBuffer(defaultStreamCapBytes)
		_, copyErr := io.Copy(buf, resp.Body)
		body = buf.String()
		truncated = buf.Truncated()
		if copyErr != nil {
			return copyErr
		}
		if statusCode != http.StatusOK {
			return &statusError{code: statusCode, text: statusText}
		}
		return nil
	})

	metrics.HTTPCircuitState.WithLabelValues(parsed.Host).Set(circuitStateMetricValue(cb.State()))

	exitCode := 0
	stderr := ""
	if runErr != nil {
		exitCode = 1
		if se, ok := runErr.(*statusError); ok {
			stderr = fmt.Sprintf("HTTP %d: %s", se.code, se.text)
		} else {
			stderr = runErr.Error()
		}
	}

	return Result{
		ExitCode:  exitCode,
		Stdout:    body,
		Stderr:    stderr,
		Duration:  time.Since(start),
		Error:     runErr,
		Truncated: truncated,
	}
}

// circuitStateMetricValue maps a breaker's state to the gauge values
// documented on metrics.HTTPCircuitState, independent of resilience's own
// iota ordering.
func circuitStateMetricValue(s resilience.CircuitState) float64 {
	switch s {
	case resilience.CircuitOpen:
		return 1
	case resilience.CircuitHalfOpen:
		return 2
	default:
		return 0
	}
}

type statusError struct {
	code int
	text string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.text)
}
