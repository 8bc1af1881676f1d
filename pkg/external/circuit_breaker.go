package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/repertory-sheet-server/internal/domain"
)

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `json:"max_requests"`
	Interval     time.Duration `json:"interval"`
	Timeout      time.Duration `json:"timeout"`
	MinRequests  uint32        `json:"min_requests"`
	FailureRatio float64       `json:"failure_ratio"`
}

// DefaultCircuitBreakerConfig returns the settings used for the search service
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  5,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// ResilientRepertoryClient wraps the search client with a circuit breaker and a cache.
// It implements domain.RubricSearcher.
type ResilientRepertoryClient struct {
	client   *RepertoryClient
	cache    RubricCache
	breaker  *gobreaker.CircuitBreaker
	cacheTTL time.Duration
	logger   *logrus.Logger
}

// NewResilientRepertoryClient creates a resilient client. cache may be nil.
func NewResilientRepertoryClient(client *RepertoryClient, cache RubricCache, cacheTTL time.Duration, cbConfig CircuitBreakerConfig, logger *logrus.Logger) *ResilientRepertoryClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "RepertorySearch",
		MaxRequests: cbConfig.MaxRequests,
		Interval:    cbConfig.Interval,
		Timeout:     cbConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cbConfig.MinRequests && failureRatio >= cbConfig.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		// Rejected or unknown rubrics say nothing about the health of the service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidArgument)
		},
	})

	return &ResilientRepertoryClient{
		client:   client,
		cache:    cache,
		breaker:  breaker,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// SearchRubrics searches with circuit breaker and caching
func (r *ResilientRepertoryClient) SearchRubrics(ctx context.Context, query domain.SearchQuery) ([]domain.Rubric, error) {
	query.Text = r.client.NormalizeQuery(query.Text)

	if r.cache != nil {
		if cached, found, err := r.cache.GetSearch(ctx, query); err == nil && found {
			return cached, nil
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.SearchRubrics(ctx, query)
	})
	if err != nil {
		return nil, r.breakerError("search", err)
	}

	rubrics := result.([]domain.Rubric)
	if r.cache != nil {
		if cacheErr := r.cache.SetSearch(ctx, query, rubrics, r.cacheTTL); cacheErr != nil {
			r.logger.WithError(cacheErr).Warn("Failed to cache search results")
		}
	}

	return rubrics, nil
}

// GetRubric fetches a rubric with circuit breaker and caching
func (r *ResilientRepertoryClient) GetRubric(ctx context.Context, id string) (*domain.Rubric, error) {
	if r.cache != nil {
		if cached, found, err := r.cache.GetRubric(ctx, id); err == nil && found {
			return cached, nil
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.GetRubric(ctx, id)
	})
	if err != nil {
		return nil, r.breakerError("rubric "+id, err)
	}

	rubric := result.(*domain.Rubric)
	if r.cache != nil {
		if cacheErr := r.cache.SetRubric(ctx, rubric, r.cacheTTL); cacheErr != nil {
			r.logger.WithError(cacheErr).Warn("Failed to cache rubric")
		}
	}

	return rubric, nil
}

// GetRubrics fetches several rubrics concurrently through the cache and breaker
func (r *ResilientRepertoryClient) GetRubrics(ctx context.Context, ids []string) ([]domain.Rubric, error) {
	return fetchAll(ctx, ids, r.client.maxConcurrency, r.GetRubric)
}

// State returns the current breaker state
func (r *ResilientRepertoryClient) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns the breaker counters of the current interval
func (r *ResilientRepertoryClient) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}

// Close releases the cache
func (r *ResilientRepertoryClient) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func (r *ResilientRepertoryClient) breakerError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w (circuit breaker %s)", op, domain.ErrExternalService, r.breaker.State())
	}
	return err
}
