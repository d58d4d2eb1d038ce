// validator.go - Configuration validation.
//
// Every setting is checked at startup and all problems are reported in one
// message, so a misconfigured deployment fails fast with the full list.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects validation errors.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d error(s):\n", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Err returns nil when every check passed.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return errors.New(v.ErrorString())
}

// ValidateRequired records an error if value is empty.
func (v *Validator) ValidateRequired(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required setting not set")
	}
}

// ValidateURL checks an http or https URL.
func (v *Validator) ValidateURL(key, value string) {
	if value == "" {
		return
	}
	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
}

// ValidateAddr checks a listen address of the form host:port or :port.
func (v *Validator) ValidateAddr(key, value string) {
	if value == "" {
		return
	}
	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(key, "must be host:port or :port")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *Validator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// PositiveInt parses a positive integer.
func (v *Validator) PositiveInt(key, value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return 0
	}
	if n <= 0 {
		v.AddError(key, "must be a positive integer")
		return 0
	}
	return n
}

// NonNegativeInt parses an integer that may be zero.
func (v *Validator) NonNegativeInt(key, value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return 0
	}
	if n < 0 {
		v.AddError(key, "must not be negative")
		return 0
	}
	return n
}

// Size parses a human readable byte size such as "5GB" or "512MiB". A bare
// number is a count of GiB, the unit earlier deployments configured.
func (v *Validator) Size(key, value string) int64 {
	value = strings.TrimSpace(value)
	if _, err := strconv.ParseUint(value, 10, 64); err == nil {
		value += "GiB"
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("must be a byte size such as 5GB: %v", err))
		return 0
	}
	if n == 0 || n > 1<<62 {
		v.AddError(key, "must be a positive size")
		return 0
	}
	return int64(n)
}

// Duration parses a positive Go duration such as "1h" or "90s".
func (v *Validator) Duration(key, value string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		v.AddError(key, "must be a valid duration (e.g., 1h, 30m)")
		return 0
	}
	if d <= 0 {
		v.AddError(key, "must be a positive duration")
		return 0
	}
	return d
}
