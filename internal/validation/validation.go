// Package validation checks request input before it reaches the mirror or
// the runtime settings.
package validation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperengineering/lmbridge/internal/types"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateMBID returns an error unless value is a MusicBrainz identifier in
// canonical hyphenated form.
func ValidateMBID(field, value string) *ValidationError {
	id, err := uuid.Parse(value)
	if err != nil || len(value) != 36 || id.String() != strings.ToLower(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be a MusicBrainz identifier (hyphenated UUID)",
		}
	}
	return nil
}

// ValidateFormatList returns an error if v is neither a string nor an array
// of scalars.
func ValidateFormatList(field string, v any) *ValidationError {
	switch t := v.(type) {
	case nil, string:
		return nil
	case []any:
		for i, e := range t {
			switch e.(type) {
			case nil, string, float64, bool:
			default:
				return &ValidationError{
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Message: "must be a format name",
				}
			}
		}
		return nil
	default:
		return &ValidationError{
			Field:   field,
			Message: "must be a comma-separated string or an array of format names",
		}
	}
}

// ValidateScalar returns an error if v is an object or an array.
func ValidateScalar(field string, v any) *ValidationError {
	switch v.(type) {
	case map[string]any, []any:
		return &ValidationError{
			Field:   field,
			Message: "must be a single value",
		}
	}
	return nil
}

// ValidateReleaseFilterRequest checks the shape of a release filter update.
// Values that are well formed but meaningless, such as an unknown prefer
// value, are left to the filter, which clears them.
func ValidateReleaseFilterRequest(req types.ReleaseFilterRequest) []ValidationError {
	var c Collector
	if key, v := req.First(types.ExcludeKeys...); key != "" {
		c.Add(ValidateFormatList(key, v))
	}
	if key, v := req.First(types.IncludeKeys...); key != "" {
		c.Add(ValidateFormatList(key, v))
	}
	if key, v := req.First(types.KeepOnlyKeys...); key != "" {
		c.Add(ValidateScalar(key, v))
	}
	for _, key := range []string{"enabled", "prefer"} {
		if v, ok := req[key]; ok {
			c.Add(ValidateScalar(key, v))
		}
	}
	return c.Errors()
}
