// Package source pulls candidate game records from external providers.
//
// A Source wraps one provider (Lichess, Chess.com, a local PGN file). The
// Multiplexer fans a batch request out over several sources in round-robin
// order. Neither touches shared exclusion state: exclusion is passed in as a
// read-only Excluder and applied best effort. The queue controller re-checks
// every record regardless.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/roach88/chessbench/internal/model"
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Excluder is a read-only membership test over IDs that must not be returned.
type Excluder interface {
	Has(id string) bool
}

// IDSet is a map-backed Excluder.
type IDSet map[string]struct{}

// Has implements Excluder.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// NewIDSet builds an IDSet from a list of IDs.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

type noneExcluded struct{}

func (noneExcluded) Has(string) bool { return false }

// BatchRequest asks a source for up to Count records after Cursor.
type BatchRequest struct {
	Count   int
	Exclude Excluder
	Cursor  string // opaque, provider specific; empty means "from the start"
}

// Batch is one provider response.
type Batch struct {
	Records    []model.GameRecord
	NextCursor string
	Done       bool // provider has nothing more to give
	Excluded   int  // records the provider dropped because Exclude had them
}

// Source is one game-history provider.
type Source interface {
	Name() string
	FetchBatch(ctx context.Context, req BatchRequest) (Batch, error)
}

// ErrRateLimited is returned by providers that were throttled upstream.
// The multiplexer treats it as an empty response, not a failure.
var ErrRateLimited = errors.New("rate limited by provider")

// SourceFetchError aggregates per-provider failures of one Fetch call.
type SourceFetchError struct {
	Errs map[string]error // provider name -> error
}

// Error implements the error interface.
func (e *SourceFetchError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for name, err := range e.Errs {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return "source fetch failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the underlying provider errors to errors.Is/As.
func (e *SourceFetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errs))
	for _, err := range e.Errs {
		errs = append(errs, err)
	}
	return errs
}

// IsSourceFetchError returns true if err is (or wraps) a SourceFetchError.
func IsSourceFetchError(err error) bool {
	var se *SourceFetchError
	return errors.As(err, &se)
}
