package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/shopapi"
)

// ErrCustomerNotFound is returned when no resolution strategy matched
// the identifier.
var ErrCustomerNotFound = errors.New("no customer matched identifier")

// Strategy names the lookup method that resolved an identifier.
type Strategy string

const (
	// StrategyPhone resolved via a phone-field search.
	StrategyPhone Strategy = "phone"

	// StrategyLoginID resolved via a direct login-id search.
	StrategyLoginID Strategy = "login_id"

	// StrategyLoginIDGuess resolved via a suffixed login-id variant.
	StrategyLoginIDGuess Strategy = "login_id_guess"
)

// DefaultGuessSuffixes are the login-id variants tried for numeric
// identifiers when guessing is enabled.
var DefaultGuessSuffixes = []string{"1", "2"}

// CustomerSearcher is the subset of the admin API used for resolution.
type CustomerSearcher interface {
	SearchCustomersByPhone(ctx context.Context, phone string) ([]shopapi.Customer, error)
	SearchCustomersByLoginID(ctx context.Context, loginID string) ([]shopapi.Customer, error)
}

// Resolver maps raw identifiers to customer accounts through an ordered
// list of lookup strategies. The first strategy returning at least one
// customer wins; later strategies are never consulted and results from
// different strategies are never merged.
type Resolver struct {
	searcher CustomerSearcher
	guess    bool
	suffixes []string
	logger   zerolog.Logger
}

// NewResolver creates a resolver. A nil suffix list falls back to
// DefaultGuessSuffixes.
func NewResolver(searcher CustomerSearcher, guess bool, suffixes []string, logger zerolog.Logger) *Resolver {
	if suffixes == nil {
		suffixes = DefaultGuessSuffixes
	}
	return &Resolver{
		searcher: searcher,
		guess:    guess,
		suffixes: suffixes,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolution is a successful identifier-to-account match.
type Resolution struct {
	Customer shopapi.Customer
	Strategy Strategy
}

// Resolve maps one normalized identifier to a customer account.
// Phone numbers search the phone field only. Numeric identifiers try a
// direct login-id lookup first and, when guessing is enabled, retry with
// suffixed variants. Everything else searches by login id directly.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*Resolution, error) {
	switch Classify(identifier) {
	case KindPhone:
		return r.byPhone(ctx, identifier)
	case KindNumeric:
		res, err := r.byLoginID(ctx, identifier, StrategyLoginID)
		if err == nil || !errors.Is(err, ErrCustomerNotFound) {
			return res, err
		}
		if !r.guess {
			return nil, err
		}
		for _, suffix := range r.suffixes {
			res, err := r.byLoginID(ctx, identifier+suffix, StrategyLoginIDGuess)
			if err == nil {
				r.logger.Debug().
					Str("identifier", identifier).
					Str("suffix", suffix).
					Msg("Resolved via guessed login id variant")
				return res, nil
			}
			if !errors.Is(err, ErrCustomerNotFound) {
				return nil, err
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, identifier)
	default:
		return r.byLoginID(ctx, identifier, StrategyLoginID)
	}
}

func (r *Resolver) byPhone(ctx context.Context, identifier string) (*Resolution, error) {
	customers, err := r.searcher.SearchCustomersByPhone(ctx, PhoneDigits(identifier))
	if err != nil {
		return nil, fmt.Errorf("phone search failed: %w", err)
	}
	if len(customers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, identifier)
	}
	return &Resolution{Customer: customers[0], Strategy: StrategyPhone}, nil
}

func (r *Resolver) byLoginID(ctx context.Context, loginID string, strategy Strategy) (*Resolution, error) {
	customers, err := r.searcher.SearchCustomersByLoginID(ctx, loginID)
	if err != nil {
		return nil, fmt.Errorf("login id search failed: %w", err)
	}
	if len(customers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, loginID)
	}
	return &Resolution{Customer: customers[0], Strategy: strategy}, nil
}
