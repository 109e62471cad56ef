// Package paging walks paged upstream listings to exhaustion. The upstream
// admin API exposes both page-number and offset addressed listings and
// reports no reliable total count, so termination is inferred from a short
// page: a response with fewer records than requested is the last one.
package paging

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultLimit is the page size used when a caller passes a non-positive one.
const DefaultLimit = 100

// PageFunc fetches one page of a page-number addressed listing.
// Page numbers are 1-based.
type PageFunc[T any] func(ctx context.Context, page, limit int) ([]T, error)

// OffsetFunc fetches one slice of an offset addressed listing.
type OffsetFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// FetchAllPages accumulates every record of a page-number listing. It is a
// strict forward scan: pages are requested once, in order, and the scan
// stops at the first short page. Errors are not retried here (retry policy
// belongs to the caller's HTTP layer) and propagate with no partial result.
func FetchAllPages[T any](ctx context.Context, fn PageFunc[T], limit int) ([]T, error) {
	if limit < 1 {
		limit = DefaultLimit
	}

	start := time.Now()
	var all []T
	for page := 1; ; page++ {
		records, err := fn(ctx, page, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		log.Debug().
			Int("page", page).
			Int("records", len(records)).
			Int("accumulated", len(all)).
			Msg("Fetched listing page")

		if len(records) < limit {
			break
		}
	}

	log.Debug().
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Listing scan complete")

	return all, nil
}

// FetchAllOffsets accumulates every record of an offset addressed listing,
// with the same forward-scan and short-page termination contract as
// FetchAllPages.
func FetchAllOffsets[T any](ctx context.Context, fn OffsetFunc[T], limit int) ([]T, error) {
	if limit < 1 {
		limit = DefaultLimit
	}

	start := time.Now()
	var all []T
	for offset := 0; ; offset += limit {
		records, err := fn(ctx, offset, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		log.Debug().
			Int("offset", offset).
			Int("records", len(records)).
			Int("accumulated", len(all)).
			Msg("Fetched listing slice")

		if len(records) < limit {
			break
		}
	}

	log.Debug().
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Listing scan complete")

	return all, nil
}
