package pagination

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is the listing size applied when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps page_size so a single request cannot scan an
	// unbounded slice of a collection.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize marks page_size values that are not integers.
var ErrInvalidPageSize = errors.New("pagination: invalid page size")

// Normalize resolves a raw page_size query value against the endpoint's
// fallback and ceiling. Empty and non-positive values fall back; oversized
// values clamp to the ceiling; non-numeric input is an error.
func Normalize(raw string, fallback, ceiling int) (int, error) {
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	if fallback <= 0 || fallback > ceiling {
		fallback = min(DefaultPageSize, ceiling)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidPageSize
	}
	switch {
	case size <= 0:
		return fallback, nil
	case size > ceiling:
		return ceiling, nil
	default:
		return size, nil
	}
}
