package bulletin

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes surfaced at the HTTP boundary.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrFetch         = errors.New("fetch error")
	ErrExtraction    = errors.New("extraction error")
	ErrCache         = errors.New("cache error")
)

// SchemaValidationError reports an AI response that did not match the
// declared record schema. It matches ErrExtraction under errors.Is.
type SchemaValidationError struct {
	Diagnostics []string
}

func (e *SchemaValidationError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "schema validation failed"
	}
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Diagnostics, "; "))
}

// Is lets callers treat schema failures as extraction failures.
func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrExtraction
}

// Kind names the error class of err for API responses.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, ErrFetch):
		return "FetchError"
	case errors.Is(err, ErrExtraction):
		return "ExtractionError"
	case errors.Is(err, ErrCache):
		return "CacheError"
	default:
		return "InternalError"
	}
}
