package services

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthService pings the backing stores. The provider is left out on
// purpose: an upstream outage degrades admission but the API stays up.
type HealthService struct {
	checks map[string]Pinger
}

func NewHealthService(checks map[string]Pinger) *HealthService {
	if checks == nil {
		checks = map[string]Pinger{}
	}
	return &HealthService{checks: checks}
}

// Check returns one entry per dependency and an error naming the first
// failing one.
func (s *HealthService) Check(ctx context.Context) (map[string]string, error) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	report := make(map[string]string, len(names))
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := s.checks[name].Ping(pctx)
		cancel()
		if err != nil {
			report[name] = err.Error()
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			continue
		}
		report[name] = "ok"
	}
	return report, firstErr
}
