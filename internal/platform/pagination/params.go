// Package pagination parses page-size and cursor parameters for ledger event
// listings. Cursors are opaque tokens wrapping the last sequence number the
// client has seen; events are always returned in ascending seq order.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 500
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params bundles the pagination values extracted from a request.
type Params struct {
	PageSize int
	// AfterSeq is the sequence number the page starts after; zero means the
	// beginning of the log.
	AfterSeq int64
}

// Options control how Parse behaves for a given handler layer.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params representation.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}

	params := Params{PageSize: pageSize}

	rawToken := strings.TrimSpace(values.Get("pageToken"))
	if rawToken != "" {
		afterSeq, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.AfterSeq = afterSeq
	}

	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	defaultSize := opts.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		if defaultSize > maxSize {
			return maxSize, nil
		}
		return defaultSize, nil
	}

	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
	}
	if size > maxSize {
		return maxSize, nil
	}
	return size, nil
}
