package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/gqlpool/errors"
)

// envReader applies PREFIX_NAME variables to config fields, keeping the
// first parse failure.
type envReader struct {
	prefix string
	errs   []error
}

func (e *envReader) lookup(name string) (string, bool) {
	key := e.prefix + "_" + name
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", false
	}
	if err := validateEnvVar(key, val); err != nil {
		e.errs = append(e.errs, err)
		return "", false
	}
	return val, true
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) int(name string, dst *int) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s_%s=%q is not an integer", errors.ErrInvalidConfig, e.prefix, name, val))
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s_%s=%q is not a boolean", errors.ErrInvalidConfig, e.prefix, name, val))
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s_%s=%q is not a duration", errors.ErrInvalidConfig, e.prefix, name, val))
		return
	}
	*dst = d
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
