package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

const maxSequentialIDWidth = 12

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Metrics    EngineMetrics
	Logger     LoggerFunc
}

type counterService struct {
	repo    repositories.CounterRepository
	metrics EngineMetrics
	logger  LoggerFunc
}

// NewCounterService constructs a service that manages factory counters on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &counterService{repo: deps.Repository, metrics: metrics, logger: logger}, nil
}

func (s *counterService) Allocate(ctx context.Context, factoryID string, amount int64) (AllocatedRange, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return AllocatedRange{}, fmt.Errorf("%w: factory id is required", ErrValidation)
	}
	if amount <= 0 {
		return AllocatedRange{}, fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, amount)
	}

	prev, err := s.repo.Allocate(ctx, factoryID, amount)
	if err != nil {
		return AllocatedRange{}, mapStoreError(err)
	}
	start, end, err := domain.CounterRange(prev, amount)
	if err != nil {
		return AllocatedRange{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	s.metrics.SerialsAllocated(ctx, factoryID, amount)
	return AllocatedRange{FactoryID: factoryID, Previous: prev, Start: start, End: end}, nil
}

func (s *counterService) Reset(ctx context.Context, factoryID string, value int64) error {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return fmt.Errorf("%w: factory id is required", ErrValidation)
	}
	if value < 0 {
		return fmt.Errorf("%w: counter value must not be negative", ErrValidation)
	}
	if err := s.repo.Reset(ctx, factoryID, value); err != nil {
		return mapStoreError(err)
	}
	s.logger(ctx, "counter.reset", map[string]any{"factoryId": factoryID, "value": value})
	return nil
}

func (s *counterService) Current(ctx context.Context, factoryID string) (domain.FactoryCounter, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return domain.FactoryCounter{}, fmt.Errorf("%w: factory id is required", ErrValidation)
	}
	counter, err := s.repo.Get(ctx, factoryID)
	if err != nil {
		return domain.FactoryCounter{}, mapStoreError(err)
	}
	return counter, nil
}

func (s *counterService) List(ctx context.Context) ([]domain.FactoryCounter, error) {
	counters, err := s.repo.List(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return counters, nil
}

func (s *counterService) NextSequentialID(ctx context.Context, prefix string, width int) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if !domain.ValidCode(prefix) {
		return "", fmt.Errorf("%w: prefix %q must be alphanumeric", ErrValidation, prefix)
	}
	if width <= 0 || width > maxSequentialIDWidth {
		return "", fmt.Errorf("%w: width must be between 1 and %d", ErrValidation, maxSequentialIDWidth)
	}
	seq, err := s.repo.NextSequence(ctx, prefix)
	if err != nil {
		return "", mapStoreError(err)
	}
	return domain.FormatSequentialID(prefix, width, seq), nil
}
