package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ujala-development/serials/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks one dependency such as the order store or the event bus.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthChecker runs dependency probes.
type HealthChecker interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// ProbeOption customises a probe set.
type ProbeOption func(*probeSet)

// WithProbeTimeout overrides the timeout used by probes that do not set their own.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithProbeClock injects a clock for tests.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

type probeSet struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

// NewProbeSet validates probes and returns a HealthChecker running them concurrently.
func NewProbeSet(probes []Probe, opts ...ProbeOption) (HealthChecker, error) {
	if len(probes) == 0 {
		return nil, errors.New("health: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		if name == "" {
			return nil, errors.New("health: probe missing name")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("health: probe %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health: probe %s registered twice", name)
		}
		seen[name] = struct{}{}
	}
	set := &probeSet{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(set)
		}
	}
	return set, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make(map[string]domain.HealthCheck, len(p.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	wg.Add(len(p.probes))
	for _, probe := range p.probes {
		go func(probe Probe) {
			defer wg.Done()
			result := p.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.HealthReport{}, err
	}

	status := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: p.now()}, nil
}

func (p *probeSet) run(ctx context.Context, probe Probe) domain.HealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := probe.Check(checkCtx)
	end := p.now()
	if err == nil {
		// a probe that ignores its context can still overrun
		err = checkCtx.Err()
	}

	result := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail, result.Error = domain.HealthStatusError, "cancelled", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail, result.Error = domain.HealthStatusError, "timeout", err.Error()
	default:
		result.Status, result.Detail, result.Error = domain.HealthStatusDegraded, err.Error(), err.Error()
	}
	return result
}
