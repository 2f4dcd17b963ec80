package lookup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/amaumene/mediasync/internal/utils"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultCooldown is how long an empty search is not repeated
	DefaultCooldown = 7 * 24 * time.Hour
	// DefaultBreakerTimeout is how long an open breaker rejects calls
	DefaultBreakerTimeout = 5 * time.Minute
	// DefaultBreakerFailures is the number of consecutive failures that open a breaker
	DefaultBreakerFailures = 5
)

// Options tunes the aggregator
type Options struct {
	Cooldown        time.Duration
	BreakerTimeout  time.Duration
	BreakerFailures uint32
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		Cooldown:        DefaultCooldown,
		BreakerTimeout:  DefaultBreakerTimeout,
		BreakerFailures: DefaultBreakerFailures,
	}
}

// Aggregator queries lookup providers in priority order
type Aggregator struct {
	providers []sources.IDLookupProvider
	breakers  map[string]*gobreaker.CircuitBreaker[struct{}]
	cooldown  *cache.Cache
	logger    *logrus.Logger
}

// New creates an aggregator. Providers are ordered by descending priority; ties keep input order.
func New(providers []sources.IDLookupProvider, opts Options, logger *logrus.Logger) *Aggregator {
	sorted := make([]sources.IDLookupProvider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LookupPriority() > sorted[j].LookupPriority()
	})

	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultBreakerTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}

	a := &Aggregator{
		providers: sorted,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		cooldown:  cache.New(opts.Cooldown, time.Hour),
		logger:    logger,
	}

	for _, p := range sorted {
		name := p.LookupProviderName()
		failures := opts.BreakerFailures
		a.breakers[name] = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    name,
			Timeout: opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"provider": name,
					"from":     from.String(),
					"to":       to.String(),
				}).Warn("Lookup provider circuit breaker changed state")
			},
		})
	}

	return a
}

// AvailableProviders returns the names of providers currently able to answer
func (a *Aggregator) AvailableProviders() []string {
	var names []string
	for _, p := range a.providers {
		if p.IsLookupAvailable() {
			names = append(names, p.LookupProviderName())
		}
	}
	return names
}

func (a *Aggregator) call(name string, fn func() error) error {
	breaker, ok := a.breakers[name]
	if !ok {
		return fn()
	}
	_, err := breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func cooldownKey(provider, title string, year int, mediaType models.MediaType) string {
	return fmt.Sprintf("%s|%s|%d|%s", provider, utils.NormalizeTitle(title), year, mediaType.String())
}

// LookupIDs searches providers for a title. It stops at the first answer carrying an imdb id
// and otherwise merges every answer. A nil record with a nil error means nothing was found.
// It fails only when every queried provider failed.
func (a *Aggregator) LookupIDs(ctx context.Context, title string, year int, mediaType models.MediaType) (*models.MediaIDs, error) {
	var (
		merged  models.MediaIDs
		found   bool
		queried int
		errs    []error
	)

	for _, p := range a.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.IsLookupAvailable() {
			continue
		}

		name := p.LookupProviderName()
		key := cooldownKey(name, title, year, mediaType)
		if _, cooling := a.cooldown.Get(key); cooling {
			continue
		}

		queried++
		var result *models.MediaIDs
		err := a.call(name, func() error {
			var err error
			result, err = p.LookupIDs(ctx, title, year, mediaType)
			return err
		})
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"provider": name,
				"title":    title,
			}).Warn("ID lookup failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		if result == nil || result.IsEmpty() {
			a.cooldown.SetDefault(key, struct{}{})
			continue
		}

		merged.Merge(*result)
		found = true
		if result.IMDB != "" {
			break
		}
	}

	if found {
		return &merged, nil
	}
	if queried > 0 && len(errs) == queried {
		return nil, fmt.Errorf("all lookup providers failed: %w", errors.Join(errs...))
	}
	return nil, nil
}

// LookupByIMDB asks providers, in priority order, for the title and identifiers of an imdb id
func (a *Aggregator) LookupByIMDB(ctx context.Context, imdbID string, mediaType models.MediaType) (*sources.LookupResult, error) {
	var (
		queried int
		errs    []error
	)

	for _, p := range a.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.IsLookupAvailable() {
			continue
		}

		queried++
		name := p.LookupProviderName()
		var result *sources.LookupResult
		err := a.call(name, func() error {
			var err error
			result, err = p.LookupByIMDB(ctx, imdbID, mediaType)
			return err
		})
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"provider": name,
				"imdb_id":  imdbID,
			}).Warn("Reverse ID lookup failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if result != nil {
			return result, nil
		}
	}

	if queried > 0 && len(errs) == queried {
		return nil, fmt.Errorf("all lookup providers failed: %w", errors.Join(errs...))
	}
	return nil, nil
}
